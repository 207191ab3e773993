package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "payments"

// StartTransitionSpan cria um span para uma transição de status
func StartTransitionSpan(ctx context.Context, requestNumber, target, source string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "reconciliation.apply")

	span.SetAttributes(
		attribute.String("payment.request_number", requestNumber),
		attribute.String("payment.target_status", target),
		attribute.String("payment.event_source", source),
		attribute.String("component", "reconciliation-engine"),
	)

	return ctx, span
}

// StartGameplaySpan cria um span para um evento do agregador de jogos
func StartGameplaySpan(ctx context.Context, eventType, userCode string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "reconciliation.gameplay")

	span.SetAttributes(
		attribute.String("gameplay.type", eventType),
		attribute.String("gameplay.user_code", userCode),
		attribute.String("component", "reconciliation-engine"),
	)

	return ctx, span
}

// StartGatewaySpan cria um span para uma chamada a um PSP
func StartGatewaySpan(ctx context.Context, gateway, operation string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway."+operation)

	span.SetAttributes(
		attribute.String("gateway.name", gateway),
		attribute.String("gateway.operation", operation),
		attribute.String("component", "gateway-adapter"),
	)

	return ctx, span
}

// StartSpan cria um span genérico com o tracer do serviço
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
