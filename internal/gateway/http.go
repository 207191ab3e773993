package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
)

// NewHTTPClient cria o cliente resty usado pelos adaptadores, com timeout limitado
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// Call executa uma requisição e decodifica o corpo em out. Qualquer falha é
// devolvida como Result; ok indica que a resposta é 2xx e decodificável.
func Call(ctx context.Context, logger *zap.Logger, gateway, operation string, req *resty.Request, method, url string, out any) (Result, bool) {
	ctx, span := telemetry.StartGatewaySpan(ctx, gateway, operation)
	defer span.End()

	resp, err := req.SetContext(ctx).Execute(method, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		kind := KindNetwork
		if isTimeout(err) {
			kind = KindTimeout
		}
		logger.Warn("❌ [GATEWAY] Request failed",
			zap.String("gateway", gateway),
			zap.String("operation", operation),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return Failure(kind, 0, "%s request failed: %v", operation, err), false
	}

	status := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.status_code", status))

	if failure, failed := classifyStatus(status, resp.Body()); failed {
		span.SetStatus(codes.Error, string(failure.Kind))
		logger.Warn("❌ [GATEWAY] Non-2xx response",
			zap.String("gateway", gateway),
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.String("kind", string(failure.Kind)),
		)
		return failure, false
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			span.RecordError(err)
			return Failure(KindMalformed, status, "malformed %s response: %v", operation, err), false
		}
	}

	return Result{Success: true, StatusCode: status}, true
}

func classifyStatus(status int, body []byte) (Result, bool) {
	switch {
	case status >= 200 && status < 300:
		return Result{}, false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Failure(KindUnauthorized, status, "credentials rejected: %s", extractMessage(body)), true
	case status >= 400 && status < 500:
		return Failure(KindBadRequest, status, "request rejected: %s", extractMessage(body)), true
	default:
		return Failure(KindUpstream, status, "provider error: %s", extractMessage(body)), true
	}
}

// extractMessage tenta achar a mensagem de erro no corpo do PSP
func extractMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "msg", "error", "response", "detail"} {
			if v, ok := payload[key].(string); ok && v != "" {
				return v
			}
		}
	}
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
