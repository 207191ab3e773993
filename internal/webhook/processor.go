package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/audit"
	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/reconciliation"
	"github.com/matheusmosca/payment-reconciliation/internal/settings"
	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
)

// Erros de autenticidade e de formato
var (
	ErrMalformed           = errors.New("malformed webhook payload")
	ErrMissingSignature    = errors.New("webhook signature missing")
	ErrInvalidSignature    = errors.New("webhook signature invalid")
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	ErrUnknownTransaction  = errors.New("webhook references an unknown transaction")
	ErrTypeMismatch        = errors.New("webhook type does not match the transaction")
	ErrSourceNotAllowed    = errors.New("webhook source address not allowed")
	ErrExternalIDConflict  = errors.New("webhook external id already belongs to another transaction")
)

// Nível de confiança registrado no metadata da transação
const (
	AuthenticitySignature   = "signature"
	AuthenticityUnsigned    = "unsigned"
	AuthenticityCorrelation = "correlation"
)

// Applier é a função de transição do engine
type Applier interface {
	Apply(ctx context.Context, ev reconciliation.Event) (*reconciliation.Outcome, error)
}

// TransactionFinder busca transações criadas por este sistema
type TransactionFinder interface {
	FindByRequestNumber(ctx context.Context, requestNumber string) (*payment.Transaction, error)
	FindByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error)
}

// Ack é a resposta devolvida ao PSP
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Options configura o Processor
type Options struct {
	// AllowUnsigned aceita webhooks de hash sem assinatura (remetentes legados).
	AllowUnsigned bool
	// XBankAllowedIPs restringe a origem dos webhooks por correlação; vazio aceita qualquer origem.
	XBankAllowedIPs []string
}

// Processor valida webhooks e os entrega ao engine
type Processor struct {
	engine  Applier
	finder  TransactionFinder
	secrets settings.Source
	audit   audit.Sink
	opts    Options
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// NewProcessor cria uma nova instância de Processor
func NewProcessor(engine Applier, finder TransactionFinder, secrets settings.Source, sink audit.Sink, opts Options, metrics *telemetry.Metrics, logger *zap.Logger) *Processor {
	return &Processor{
		engine:  engine,
		finder:  finder,
		secrets: secrets,
		audit:   sink,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleSuitPay processa um webhook assinado por hash (SHA-256 sobre o
// client secret e os valores em ordem alfabética de chave).
func (p *Processor) HandleSuitPay(ctx context.Context, body []byte, remoteIP string) (*Ack, error) {
	const gateway = "suitpay"

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrMalformed)
	}

	authenticity, err := p.verifyHash(fields)
	if err != nil {
		return nil, p.reject(ctx, gateway, remoteIP, body, err)
	}

	requestNumber := stringField(fields, "requestNumber")
	if requestNumber == "" {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrMalformed)
	}
	rawStatus := stringField(fields, "statusTransaction", "status")
	externalID := stringField(fields, "idTransaction", "transactionId")

	txn, err := p.finder.FindByRequestNumber(ctx, requestNumber)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound) {
			return nil, p.reject(ctx, gateway, remoteIP, body, ErrUnknownTransaction)
		}
		return nil, err
	}
	if txn.Gateway != gateway {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrUnknownTransaction)
	}

	return p.apply(ctx, gateway, remoteIP, txn.RequestNumber, rawStatus, externalID, authenticity, body)
}

// HandleXBank processa um webhook sem assinatura. A confiança vem só da
// correlação: idTransaction precisa apontar para uma transação criada aqui
// neste gateway e typeTransaction precisa bater com o sentido dela.
func (p *Processor) HandleXBank(ctx context.Context, body []byte, remoteIP string) (*Ack, error) {
	const gateway = "xbank"

	if !p.sourceAllowed(remoteIP) {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrSourceNotAllowed)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrMalformed)
	}

	externalID := stringField(fields, "idTransaction")
	if externalID == "" {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrMalformed)
	}

	txn, err := p.finder.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound) {
			return nil, p.reject(ctx, gateway, remoteIP, body, ErrUnknownTransaction)
		}
		return nil, err
	}
	if txn.Gateway != gateway {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrUnknownTransaction)
	}

	if !typeMatches(stringField(fields, "typeTransaction"), txn.Kind) {
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrTypeMismatch)
	}

	return p.apply(ctx, gateway, remoteIP, txn.RequestNumber, stringField(fields, "status"), externalID, AuthenticityCorrelation, body)
}

func (p *Processor) apply(ctx context.Context, gateway, remoteIP, requestNumber, rawStatus, externalID, authenticity string, body []byte) (*Ack, error) {
	target, ok := payment.ParseStatus(rawStatus)
	if !ok {
		p.logger.Warn("⚠️ [WEBHOOK] Status desconhecido ignorado",
			zap.String("gateway", gateway),
			zap.String("request_number", requestNumber),
			zap.String("status", rawStatus),
		)
		return &Ack{Success: true, Message: "status ignored"}, nil
	}

	outcome, err := p.engine.Apply(ctx, reconciliation.Event{
		RequestNumber: requestNumber,
		Target:        target,
		ExternalID:    externalID,
		Source:        "webhook:" + gateway,
		Metadata: map[string]any{
			"webhook_authenticity": authenticity,
			"webhook_payload":      json.RawMessage(body),
		},
	})
	if errors.Is(err, payment.ErrDuplicateExternalID) {
		p.logger.Warn("⚠️ [WEBHOOK] Id externo já usado por outra transação",
			zap.String("gateway", gateway),
			zap.String("request_number", requestNumber),
			zap.String("external_id", externalID),
		)
		return nil, p.reject(ctx, gateway, remoteIP, body, ErrExternalIDConflict)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("📬 [WEBHOOK] Processado",
		zap.String("gateway", gateway),
		zap.String("request_number", requestNumber),
		zap.String("target", string(target)),
		zap.String("outcome", outcome.Reason),
		zap.String("authenticity", authenticity),
	)
	return &Ack{Success: true, Message: outcome.Reason}, nil
}

func (p *Processor) verifyHash(fields map[string]json.RawMessage) (string, error) {
	secret := p.secrets.Get(settings.SuitPayClientSecret)
	if secret == "" {
		return "", ErrSecretNotConfigured
	}

	received := stringField(fields, HashField)
	if received == "" {
		if p.opts.AllowUnsigned {
			p.logger.Warn("⚠️ [WEBHOOK] Webhook sem assinatura aceito (modo legado)")
			return AuthenticityUnsigned, nil
		}
		return "", ErrMissingSignature
	}

	valid, err := VerifyHash(secret, fields, received)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !valid {
		return "", ErrInvalidSignature
	}
	return AuthenticitySignature, nil
}

func (p *Processor) reject(ctx context.Context, gateway, remoteIP string, body []byte, reason error) error {
	p.metrics.WebhookRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("reason", reasonCode(reason)),
	))
	if err := p.audit.Record(ctx, audit.NewRecord(gateway, reasonCode(reason), remoteIP, body)); err != nil {
		p.logger.Error("❌ [AUDIT] Falha ao registrar webhook recusado", zap.Error(err))
	}
	return reason
}

func (p *Processor) sourceAllowed(remoteIP string) bool {
	if len(p.opts.XBankAllowedIPs) == 0 {
		return true
	}
	ip := net.ParseIP(remoteIP)
	for _, allowed := range p.opts.XBankAllowedIPs {
		if strings.Contains(allowed, "/") {
			if _, network, err := net.ParseCIDR(allowed); err == nil && ip != nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if allowed == remoteIP {
			return true
		}
	}
	return false
}

func typeMatches(typeTransaction string, kind payment.Kind) bool {
	switch strings.ToUpper(strings.TrimSpace(typeTransaction)) {
	case "PIX":
		return kind == payment.KindDeposit
	case "PAYMENT":
		return kind == payment.KindWithdrawal
	}
	return false
}

func reasonCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrSecretNotConfigured):
		return "secret_not_configured"
	case errors.Is(err, ErrUnknownTransaction):
		return "unknown_transaction"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrSourceNotAllowed):
		return "source_not_allowed"
	case errors.Is(err, ErrExternalIDConflict):
		return "external_id_conflict"
	}
	return "malformed"
}

// stringField devolve o primeiro campo presente, como texto
func stringField(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		if v, err := canonicalValue(raw); err == nil && v != "" {
			return v
		}
	}
	return ""
}
