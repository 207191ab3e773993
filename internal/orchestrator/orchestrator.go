package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/gateway"
	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/reconciliation"
	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	sourceUserCancel = "user_cancel"
)

// Repository define as operações de persistência usadas pelo orquestrador
type Repository interface {
	Create(ctx context.Context, d payment.Draft) (*payment.Transaction, error)
	FindByRequestNumber(ctx context.Context, requestNumber string) (*payment.Transaction, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]payment.Transaction, error)
	MergeMetadata(ctx context.Context, requestNumber string, patch map[string]any) error
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Applier é a função de transição do engine
type Applier interface {
	Apply(ctx context.Context, ev reconciliation.Event) (*reconciliation.Outcome, error)
}

// Limiter limita a criação de pagamentos por usuário
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// CreateRequest é o pedido de pagamento do usuário
type CreateRequest struct {
	Kind       payment.Kind    `json:"kind"`
	Method     payment.Method  `json:"method"`
	Gateway    string          `json:"gateway"`
	Amount     decimal.Decimal `json:"amount"`
	Client     gateway.Client  `json:"client"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	Card       *gateway.Card   `json:"card,omitempty"`
	PixKey     string          `json:"pix_key,omitempty"`
	PixKeyType string          `json:"pix_key_type,omitempty"`
}

// Orchestrator cria e cancela pagamentos nos PSPs e dobra as respostas
// síncronas no engine de reconciliação.
type Orchestrator struct {
	repository Repository
	engine     Applier
	gateways   *gateway.Registry
	limiter    Limiter
	timeout    time.Duration
	logger     *zap.Logger
}

// NewOrchestrator cria uma nova instância de Orchestrator. limiter pode ser nil.
func NewOrchestrator(
	repository Repository,
	engine Applier,
	gateways *gateway.Registry,
	limiter Limiter,
	timeout time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		repository: repository,
		engine:     engine,
		gateways:   gateways,
		limiter:    limiter,
		timeout:    timeout,
		logger:     logger,
	}
}

// CreatePayment valida o pedido, cria a transação PENDING e chama o gateway.
// Um timeout deixa a transação PENDING para o webhook resolver depois.
func (o *Orchestrator) CreatePayment(ctx context.Context, principal payment.Principal, req CreateRequest) (*payment.Transaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "payments.create",
		attribute.String("payment.gateway", req.Gateway),
		attribute.String("payment.kind", string(req.Kind)),
		attribute.String("payment.method", string(req.Method)),
	)
	defer span.End()

	if err := o.allow(ctx, principal); err != nil {
		return nil, err
	}

	adapter, err := o.validate(ctx, principal, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	draft := payment.NewDraft(principal.UserID, uuid.New().String(), adapter.Name(), req.Kind, req.Method, req.Amount)
	txn, err := o.repository.Create(ctx, draft)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	span.SetAttributes(attribute.String("payment.request_number", txn.RequestNumber))

	o.logger.Info("➡️ [CREATE PAYMENT] Chamando gateway",
		zap.String("request_number", txn.RequestNumber),
		zap.String("gateway", txn.Gateway),
		zap.String("kind", string(txn.Kind)),
		zap.String("amount", req.Amount.String()),
	)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	res := adapter.CreatePayment(callCtx, req.Kind, gateway.Request{
		RequestNumber: txn.RequestNumber,
		Method:        req.Method,
		Amount:        req.Amount.Abs(),
		DueDate:       dueDate(req.DueDate),
		Client:        req.Client,
		Card:          req.Card,
		PixKey:        req.PixKey,
		PixKeyType:    req.PixKeyType,
	})
	cancel()

	if res.Success {
		return o.foldSuccess(ctx, txn, res)
	}
	if res.Kind == gateway.KindTimeout {
		return o.keepPending(ctx, txn, res)
	}
	return nil, o.foldFailure(ctx, txn, res)
}

func (o *Orchestrator) foldSuccess(ctx context.Context, txn *payment.Transaction, res gateway.Result) (*payment.Transaction, error) {
	target := payment.StatusPending
	ev := reconciliation.Event{
		RequestNumber: txn.RequestNumber,
		Target:        target,
		Source:        reconciliation.SourceGatewayResponse,
		Metadata:      map[string]any{"gateway_message": res.Message},
	}
	if res.Data != nil {
		if res.Data.Status != "" {
			ev.Target = res.Data.Status
		}
		ev.ExternalID = res.Data.ExternalID
		ev.Artifacts = res.Data.Artifacts()
	}

	outcome, err := o.engine.Apply(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to apply gateway response: %w", err)
	}

	o.logger.Info("✅ [CREATE PAYMENT] Gateway aceitou",
		zap.String("request_number", txn.RequestNumber),
		zap.String("status", string(outcome.Transaction.Status)),
		zap.String("external_id", outcome.Transaction.ExternalID),
	)
	return outcome.Transaction, nil
}

func (o *Orchestrator) keepPending(ctx context.Context, txn *payment.Transaction, res gateway.Result) (*payment.Transaction, error) {
	patch := map[string]any{
		"gateway_timeout": time.Now().UTC().Format(time.RFC3339),
		"gateway_error":   res.Error,
	}
	if err := o.repository.MergeMetadata(ctx, txn.RequestNumber, patch); err != nil {
		o.logger.Error("❌ [CREATE PAYMENT] Falha ao anotar timeout",
			zap.String("request_number", txn.RequestNumber),
			zap.Error(err),
		)
	}

	o.logger.Warn("⏱️ [CREATE PAYMENT] Timeout no gateway, transação segue PENDING",
		zap.String("request_number", txn.RequestNumber),
		zap.String("gateway", txn.Gateway),
	)

	stored, err := o.repository.FindByRequestNumber(ctx, txn.RequestNumber)
	if err != nil {
		return txn, nil
	}
	return stored, nil
}

func (o *Orchestrator) foldFailure(ctx context.Context, txn *payment.Transaction, res gateway.Result) error {
	metadata := map[string]any{
		"gateway_error":      res.Error,
		"gateway_error_kind": string(res.Kind),
	}
	if res.StatusCode != 0 {
		metadata["gateway_status_code"] = strconv.Itoa(res.StatusCode)
	}

	if _, err := o.engine.Apply(ctx, reconciliation.Event{
		RequestNumber: txn.RequestNumber,
		Target:        payment.StatusFailed,
		Source:        reconciliation.SourceGatewayResponse,
		Metadata:      metadata,
	}); err != nil {
		o.logger.Error("❌ [CREATE PAYMENT] Falha ao registrar FAILED",
			zap.String("request_number", txn.RequestNumber),
			zap.Error(err),
		)
	}

	o.logger.Warn("❌ [CREATE PAYMENT] Gateway recusou",
		zap.String("request_number", txn.RequestNumber),
		zap.String("gateway", txn.Gateway),
		zap.String("kind", string(res.Kind)),
		zap.String("error", res.Error),
	)
	return userError(res)
}

// Cancel cancela uma transação PENDING do próprio usuário. O gateway é
// chamado primeiro; gateways sem cancelamento só registram localmente.
func (o *Orchestrator) Cancel(ctx context.Context, principal payment.Principal, requestNumber string) (*payment.Transaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "payments.cancel", attribute.String("payment.request_number", requestNumber))
	defer span.End()

	txn, err := o.Get(ctx, principal, requestNumber)
	if err != nil {
		return nil, err
	}
	if txn.Status != payment.StatusPending {
		return nil, payment.ErrInvalidTransition.WithMessage("only PENDING transactions can be canceled")
	}

	adapter, ok := o.gateways.Get(txn.Gateway)
	if !ok {
		return nil, payment.ErrGatewayUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	res := adapter.Cancel(callCtx, txn.RequestNumber)
	cancel()

	if !res.Success && res.Kind != gateway.KindNotSupported {
		span.RecordError(errors.New(res.Error))
		o.logger.Warn("❌ [CANCEL] Gateway recusou o cancelamento",
			zap.String("request_number", requestNumber),
			zap.String("kind", string(res.Kind)),
			zap.String("error", res.Error),
		)
		return nil, userError(res)
	}

	outcome, err := o.engine.Apply(ctx, reconciliation.Event{
		RequestNumber: requestNumber,
		Target:        payment.StatusCanceled,
		Source:        sourceUserCancel,
		Owner:         &principal,
		Metadata:      map[string]any{"canceled_by": principal.UserID},
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Applied && outcome.Transaction.Status != payment.StatusCanceled {
		return nil, payment.ErrInvalidTransition.WithMessage("transaction is %s", outcome.Transaction.Status)
	}

	o.logger.Info("↩️ [CANCEL] Transação cancelada", zap.String("request_number", requestNumber))
	return outcome.Transaction, nil
}

// Get busca uma transação do usuário
func (o *Orchestrator) Get(ctx context.Context, principal payment.Principal, requestNumber string) (*payment.Transaction, error) {
	txn, err := o.repository.FindByRequestNumber(ctx, requestNumber)
	if err != nil {
		return nil, err
	}
	if !principal.Admin && txn.UserID != principal.UserID {
		return nil, payment.ErrForbidden
	}
	return txn, nil
}

// List devolve as transações mais recentes do usuário
func (o *Orchestrator) List(ctx context.Context, principal payment.Principal, limit int) ([]payment.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return o.repository.ListByUser(ctx, principal.UserID, limit)
}

// TestGateway verifica credenciais e conectividade de um gateway
func (o *Orchestrator) TestGateway(ctx context.Context, name string) (gateway.Result, error) {
	adapter, ok := o.gateways.Get(name)
	if !ok {
		return gateway.Result{}, payment.ErrInvalidRequest.WithMessage("unknown gateway %q", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	res := adapter.TestConnection(callCtx)

	o.logger.Info("🔌 [GATEWAY TEST]",
		zap.String("gateway", name),
		zap.Bool("success", res.Success),
		zap.String("kind", string(res.Kind)),
	)
	return res, nil
}

func (o *Orchestrator) allow(ctx context.Context, principal payment.Principal) error {
	if o.limiter == nil {
		return nil
	}
	ok, err := o.limiter.Allow(ctx, "payments:"+strconv.FormatInt(principal.UserID, 10))
	if err != nil {
		o.logger.Warn("⚠️ [RATE LIMIT] Limiter indisponível, liberando requisição", zap.Error(err))
		return nil
	}
	if !ok {
		return payment.ErrRateLimited
	}
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, principal payment.Principal, req CreateRequest) (gateway.Adapter, error) {
	if !req.Amount.IsPositive() {
		return nil, payment.ErrInvalidAmount
	}
	if !req.Kind.Valid() {
		return nil, payment.ErrInvalidRequest.WithMessage("invalid kind %q", req.Kind)
	}
	if !req.Method.Valid() {
		return nil, payment.ErrInvalidRequest.WithMessage("invalid method %q", req.Method)
	}
	if req.DueDate != nil && req.Kind != payment.KindDeposit {
		return nil, payment.ErrInvalidRequest.WithMessage("due_date is only accepted for deposits")
	}
	if req.Method == payment.MethodCard && req.Card == nil {
		return nil, payment.ErrInvalidRequest.WithMessage("card data is required")
	}
	if req.Kind == payment.KindWithdrawal && req.PixKey == "" {
		return nil, payment.ErrInvalidRequest.WithMessage("pix_key is required for withdrawals")
	}

	adapter, ok := o.gateways.Get(req.Gateway)
	if !ok {
		return nil, payment.ErrInvalidRequest.WithMessage("unknown gateway %q", req.Gateway)
	}
	if !adapter.Supports(req.Kind, req.Method) {
		return nil, payment.ErrUnsupported.WithMessage("%s does not support %s %s", req.Gateway, req.Method, req.Kind)
	}

	if req.Kind == payment.KindWithdrawal {
		balance, err := o.repository.Balance(ctx, principal.UserID)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(req.Amount) {
			return nil, payment.ErrInsufficientBalance
		}
	}
	return adapter, nil
}

// userError converte uma falha de gateway em um erro seguro para o usuário
func userError(res gateway.Result) error {
	msg := gateway.SanitizeMessage(res.Error)
	switch res.Kind {
	case gateway.KindNetwork, gateway.KindTimeout, gateway.KindUpstream, gateway.KindNotConfigured, gateway.KindUnauthorized:
		return payment.ErrGatewayUnavailable
	case gateway.KindNotSupported:
		return payment.ErrUnsupported
	}
	return payment.ErrGatewayRejected.WithMessage("%s", msg)
}

func dueDate(d *time.Time) time.Time {
	if d == nil {
		return time.Time{}
	}
	return *d
}
