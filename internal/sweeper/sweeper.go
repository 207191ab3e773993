package sweeper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
)

const (
	batchSize     = 200
	staleSinceKey = "stale_since"
)

// Repository define as operações usadas pela varredura
type Repository interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]payment.Transaction, error)
	MergeMetadata(ctx context.Context, requestNumber string, patch map[string]any) error
}

// Sweeper anota transações PENDING antigas para o operador. Nunca muda
// status nem saldo: só o webhook ou um evento explícito resolve a transação.
type Sweeper struct {
	repository Repository
	staleAfter time.Duration
	interval   time.Duration
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// New cria uma nova instância de Sweeper
func New(repository Repository, staleAfter, interval time.Duration, metrics *telemetry.Metrics, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		repository: repository,
		staleAfter: staleAfter,
		interval:   interval,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executa a varredura a cada intervalo até o contexto ser cancelado
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("❌ [SWEEPER] Falha na varredura", zap.Error(err))
			}
		}
	}
}

// Sweep anota as transações ainda não anotadas e devolve quantas foram marcadas.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "payments.sweep")
	defer span.End()

	now := s.now().UTC()
	stale, err := s.repository.ListStalePending(ctx, now.Add(-s.staleAfter), batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	marked := 0
	for _, txn := range stale {
		if _, done := txn.Metadata[staleSinceKey]; done {
			continue
		}

		patch := map[string]any{staleSinceKey: now.Format(time.RFC3339)}
		if err := s.repository.MergeMetadata(ctx, txn.RequestNumber, patch); err != nil {
			s.logger.Error("❌ [SWEEPER] Falha ao anotar transação",
				zap.String("request_number", txn.RequestNumber),
				zap.Error(err),
			)
			continue
		}

		marked++
		s.metrics.StalePending.Add(ctx, 1, metric.WithAttributes(attribute.String("gateway", txn.Gateway)))
		s.logger.Warn("⏳ [SWEEPER] Transação PENDING sem resolução",
			zap.String("request_number", txn.RequestNumber),
			zap.String("gateway", txn.Gateway),
			zap.Time("created_at", txn.CreatedAt),
		)
	}

	span.SetAttributes(attribute.Int("sweep.marked", marked))
	return marked, nil
}
