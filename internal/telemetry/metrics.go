package telemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics agrupa os contadores do serviço
type Metrics struct {
	Transitions        metric.Int64Counter
	DuplicateEvents    metric.Int64Counter
	RejectedTransition metric.Int64Counter
	WebhookRejections  metric.Int64Counter
	GameplayEvents     metric.Int64Counter
	GatewayCalls       metric.Int64Counter
	StalePending       metric.Int64Counter
}

// NewMetrics registra os contadores no meter informado
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.Transitions, err = meter.Int64Counter(
		"payments.transitions",
		metric.WithDescription("Applied transaction status transitions"),
	); err != nil {
		return nil, err
	}
	if m.DuplicateEvents, err = meter.Int64Counter(
		"payments.duplicate_events",
		metric.WithDescription("Inbound events absorbed as already processed"),
	); err != nil {
		return nil, err
	}
	if m.RejectedTransition, err = meter.Int64Counter(
		"payments.rejected_transitions",
		metric.WithDescription("Transitions not allowed from the stored status"),
	); err != nil {
		return nil, err
	}
	if m.WebhookRejections, err = meter.Int64Counter(
		"payments.webhook_rejections",
		metric.WithDescription("Webhooks rejected by authenticity checks"),
	); err != nil {
		return nil, err
	}
	if m.GameplayEvents, err = meter.Int64Counter(
		"payments.gameplay_events",
		metric.WithDescription("Gameplay callbacks processed"),
	); err != nil {
		return nil, err
	}
	if m.GatewayCalls, err = meter.Int64Counter(
		"payments.gateway_calls",
		metric.WithDescription("Outbound calls to payment providers"),
	); err != nil {
		return nil, err
	}
	if m.StalePending, err = meter.Int64Counter(
		"payments.stale_pending",
		metric.WithDescription("Pending transactions flagged by the sweeper"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// NopMetrics devolve contadores que não registram nada
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("nop"))
	return m
}
