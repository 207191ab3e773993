package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
)

// SourceGatewayResponse marca eventos vindos da resposta síncrona do gateway
// na criação. Repetir o status atual nesse caso não é reentrega.
const SourceGatewayResponse = "gateway_response"

// TransactionStore define as operações transacionais usadas pelo engine
type TransactionStore interface {
	BeginTx(ctx context.Context) (payment.Tx, error)
	GetForUpdate(ctx context.Context, tx payment.Tx, requestNumber string) (*payment.Transaction, error)
	MarkEventProcessed(ctx context.Context, tx payment.Tx, requestNumber string, status payment.Status) (bool, error)
	UpdateStatus(ctx context.Context, tx payment.Tx, requestNumber string, upd payment.StatusUpdate) (*payment.Transaction, error)
}

// Ledger aplica deltas de saldo dentro da transação do chamador
type Ledger interface {
	ApplyDelta(ctx context.Context, tx payment.Tx, entry payment.LedgerEntry) error
}

// Event é um evento validado que pede a mudança de status de uma transação.
type Event struct {
	RequestNumber string
	Target        payment.Status
	ExternalID    string
	Artifacts     payment.Artifacts
	Metadata      map[string]any
	// Source identifica quem originou o evento (gateway_response, webhook:suitpay, user_cancel...).
	Source string
	// Owner, quando presente, restringe o evento às transações do próprio usuário.
	Owner *payment.Principal
}

// Outcome descreve o que o engine fez com um evento
type Outcome struct {
	Transaction *payment.Transaction
	Applied     bool
	Delta       decimal.Decimal
	Reason      string
}

// Engine é a única função de transição de status do sistema
type Engine struct {
	store    TransactionStore
	ledger   Ledger
	gameplay GameplayLedger
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine cria uma nova instância de Engine
func NewEngine(store TransactionStore, ledger Ledger, gameplay GameplayLedger, metrics *telemetry.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		ledger:   ledger,
		gameplay: gameplay,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply decide e executa uma transição. Lock da linha, marcador de evento
// processado, escrita do status e delta do saldo acontecem na mesma transação
// do banco: ou tudo é aplicado ou nada.
func (e *Engine) Apply(ctx context.Context, ev Event) (*Outcome, error) {
	ctx, span := telemetry.StartTransitionSpan(ctx, ev.RequestNumber, string(ev.Target), ev.Source)
	defer span.End()

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	// Lock pessimista na transação: entregas concorrentes do mesmo
	// requestNumber são serializadas aqui.
	txn, err := e.store.GetForUpdate(ctx, tx, ev.RequestNumber)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if ev.Owner != nil && !ev.Owner.Admin && ev.Owner.UserID != txn.UserID {
		return nil, payment.ErrForbidden
	}

	decision := Decide(txn.Status, ev.Target, txn.Amount)
	span.SetAttributes(
		attribute.String("payment.current_status", string(txn.Status)),
		attribute.String("payment.decision", decision.Reason),
	)

	if !decision.Allowed {
		return e.absorb(ctx, tx, txn, ev, decision)
	}

	marked, err := e.store.MarkEventProcessed(ctx, tx, ev.RequestNumber, ev.Target)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("erro ao registrar evento processado: %w", err)
	}
	if !marked {
		e.logger.Info("ℹ️ [IDEMPOTENCY] Evento já processado",
			zap.String("request_number", ev.RequestNumber),
			zap.String("target", string(ev.Target)),
			zap.String("source", ev.Source),
		)
		e.metrics.DuplicateEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("source", ev.Source)))
		return &Outcome{Transaction: txn, Reason: ReasonDuplicate}, nil
	}

	updated, err := e.store.UpdateStatus(ctx, tx, ev.RequestNumber, payment.StatusUpdate{
		Status:     ev.Target,
		ExternalID: ev.ExternalID,
		Artifacts:  ev.Artifacts,
		Metadata:   e.transitionMetadata(txn.Status, ev),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("erro ao atualizar status: %w", err)
	}

	if !decision.Delta.IsZero() {
		entry := payment.LedgerEntry{
			UserID:    txn.UserID,
			Delta:     decision.Delta,
			Reason:    decision.LedgerReason,
			Reference: txn.RequestNumber,
		}
		if err := e.ledger.ApplyDelta(ctx, tx, entry); err != nil {
			e.logger.Error("❌ [LEDGER] Falha ao aplicar delta, transição abortada",
				zap.String("request_number", ev.RequestNumber),
				zap.String("delta", decision.Delta.String()),
				zap.Error(err),
			)
			span.RecordError(err)
			return nil, fmt.Errorf("erro ao aplicar delta no saldo: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("erro ao comitar transição: %w", err)
	}

	e.metrics.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(txn.Status)),
		attribute.String("to", string(ev.Target)),
		attribute.String("source", ev.Source),
	))
	e.logger.Info("✅ [TRANSITION] Success",
		zap.String("request_number", ev.RequestNumber),
		zap.String("from", string(txn.Status)),
		zap.String("to", string(ev.Target)),
		zap.String("delta", decision.Delta.String()),
		zap.String("source", ev.Source),
	)

	return &Outcome{Transaction: updated, Applied: true, Delta: decision.Delta, Reason: ReasonApplied}, nil
}

// absorb trata transições recusadas. Eventos repetidos para o mesmo status
// ainda podem preencher campos write-once vazios (id externo, QR code);
// transições inválidas não escrevem nada.
func (e *Engine) absorb(ctx context.Context, tx payment.Tx, txn *payment.Transaction, ev Event, decision Decision) (*Outcome, error) {
	if decision.Reason == ReasonInvalidTransition {
		e.logger.Warn("⚠️ [TRANSITION] Transição recusada",
			zap.String("request_number", ev.RequestNumber),
			zap.String("from", string(txn.Status)),
			zap.String("to", string(ev.Target)),
			zap.String("source", ev.Source),
		)
		e.metrics.RejectedTransition.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(txn.Status)),
			attribute.String("to", string(ev.Target)),
		))
		return &Outcome{Transaction: txn, Reason: decision.Reason}, nil
	}

	fromGateway := ev.Source == SourceGatewayResponse
	if !fromGateway {
		e.metrics.DuplicateEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("source", ev.Source)))
	}

	if !fillsWriteOnce(txn, ev) && !(fromGateway && len(ev.Metadata) > 0) {
		e.logger.Info("ℹ️ [IDEMPOTENCY] Status já aplicado",
			zap.String("request_number", ev.RequestNumber),
			zap.String("status", string(txn.Status)),
			zap.String("source", ev.Source),
		)
		return &Outcome{Transaction: txn, Reason: decision.Reason}, nil
	}

	upd := payment.StatusUpdate{
		Status:     txn.Status,
		ExternalID: ev.ExternalID,
		Artifacts:  ev.Artifacts,
	}
	// Só a resposta da criação grava metadados sem transição; reentregas de webhook não.
	if fromGateway {
		upd.Metadata = ev.Metadata
	}

	updated, err := e.store.UpdateStatus(ctx, tx, ev.RequestNumber, upd)
	if err != nil {
		return nil, fmt.Errorf("erro ao gravar campos do gateway: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("erro ao comitar campos do gateway: %w", err)
	}

	return &Outcome{Transaction: updated, Reason: decision.Reason}, nil
}

func (e *Engine) transitionMetadata(from payment.Status, ev Event) map[string]any {
	patch := make(map[string]any, len(ev.Metadata)+3)
	for k, v := range ev.Metadata {
		patch[k] = v
	}
	patch["last_event_source"] = ev.Source
	patch["previous_status"] = string(from)
	patch[strings.ToLower(string(ev.Target))+"_at"] = e.now().UTC().Format(time.RFC3339)
	return patch
}

func fillsWriteOnce(txn *payment.Transaction, ev Event) bool {
	if ev.ExternalID != "" && txn.ExternalID == "" {
		return true
	}
	a := ev.Artifacts
	if a.Empty() {
		return false
	}
	return (a.QRCode != "" && txn.QRCode == "") ||
		(a.Barcode != "" && txn.Barcode == "") ||
		(a.DigitableLine != "" && txn.DigitableLine == "")
}
