package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/auth"
	"github.com/matheusmosca/payment-reconciliation/internal/gateway"
	"github.com/matheusmosca/payment-reconciliation/internal/gateway/provider"
	"github.com/matheusmosca/payment-reconciliation/internal/orchestrator"
	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/reconciliation"
	"github.com/matheusmosca/payment-reconciliation/internal/webhook"
)

const maxBodyBytes = 1 << 20

// PaymentService define os casos de uso de pagamento expostos na API
type PaymentService interface {
	CreatePayment(ctx context.Context, principal payment.Principal, req orchestrator.CreateRequest) (*payment.Transaction, error)
	Cancel(ctx context.Context, principal payment.Principal, requestNumber string) (*payment.Transaction, error)
	Get(ctx context.Context, principal payment.Principal, requestNumber string) (*payment.Transaction, error)
	List(ctx context.Context, principal payment.Principal, limit int) ([]payment.Transaction, error)
	TestGateway(ctx context.Context, name string) (gateway.Result, error)
}

// WebhookProcessor valida e aplica webhooks dos PSPs
type WebhookProcessor interface {
	HandleSuitPay(ctx context.Context, body []byte, remoteIP string) (*webhook.Ack, error)
	HandleXBank(ctx context.Context, body []byte, remoteIP string) (*webhook.Ack, error)
}

// GameplayService aplica callbacks do agregador de jogos
type GameplayService interface {
	ApplyGameplay(ctx context.Context, ev reconciliation.GameplayEvent) reconciliation.GameplayResult
}

// GameLauncher abre jogos no agregador
type GameLauncher interface {
	LaunchGame(ctx context.Context, req provider.LaunchRequest) provider.LaunchResult
}

// SettingsReloader recarrega as credenciais de gateway
type SettingsReloader interface {
	Reload(ctx context.Context) error
	LoadedAt() time.Time
}

// Handler contém os handlers HTTP
type Handler struct {
	payments    PaymentService
	webhooks    WebhookProcessor
	gameplay    GameplayService
	launcher    GameLauncher
	settings    SettingsReloader
	tracer      trace.Tracer
	logger      *zap.Logger
	serviceName string
}

// NewHandler cria uma nova instância de Handler
func NewHandler(
	payments PaymentService,
	webhooks WebhookProcessor,
	gameplay GameplayService,
	launcher GameLauncher,
	settings SettingsReloader,
	tracer trace.Tracer,
	logger *zap.Logger,
	serviceName string,
) *Handler {
	return &Handler{
		payments:    payments,
		webhooks:    webhooks,
		gameplay:    gameplay,
		launcher:    launcher,
		settings:    settings,
		tracer:      tracer,
		logger:      logger,
		serviceName: serviceName,
	}
}

// SuitPayWebhook recebe webhooks assinados por hash
func (h *Handler) SuitPayWebhook(c *gin.Context) {
	h.handleWebhook(c, "suitpay", h.webhooks.HandleSuitPay)
}

// XBankWebhook recebe webhooks autenticados por correlação
func (h *Handler) XBankWebhook(c *gin.Context) {
	h.handleWebhook(c, "xbank", h.webhooks.HandleXBank)
}

func (h *Handler) handleWebhook(c *gin.Context, gw string, handle func(context.Context, []byte, string) (*webhook.Ack, error)) {
	ctx, span := h.tracer.Start(c.Request.Context(), "webhook."+gw)
	defer span.End()

	body, err := readBody(c)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid body"})
		return
	}

	remoteIP := c.ClientIP()
	span.SetAttributes(attribute.String("webhook.gateway", gw), attribute.String("webhook.remote_ip", remoteIP))

	ack, err := handle(ctx, body, remoteIP)
	if err != nil {
		span.RecordError(err)
		status := webhookStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("❌ [WEBHOOK] Falha ao processar", zap.String("gateway", gw), zap.Error(err))
			c.JSON(status, gin.H{"success": false, "message": "internal error"})
			return
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ack)
}

type gameCallbackRequest struct {
	Type      string          `json:"type"`
	UserCode  string          `json:"user_code"`
	BetAmount decimal.Decimal `json:"bet_amount"`
	WinAmount decimal.Decimal `json:"win_amount"`
	TxnID     string          `json:"txn_id"`
	RoundID   string          `json:"round_id"`
	GameCode  string          `json:"game_code"`
}

// GameCallback responde sempre 200; o resultado vai em msg
func (h *Handler) GameCallback(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"msg": reconciliation.MsgInternalError, "balance": 0})
		return
	}

	var req gameCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("⚠️ [GAMEPLAY] Callback malformado", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"msg": reconciliation.MsgInternalError, "balance": 0})
		return
	}

	res := h.gameplay.ApplyGameplay(ctx, reconciliation.GameplayEvent{
		Type:      req.Type,
		UserCode:  req.UserCode,
		BetAmount: req.BetAmount,
		WinAmount: req.WinAmount,
		TxnID:     req.TxnID,
		RoundID:   req.RoundID,
		GameCode:  req.GameCode,
		Raw:       body,
	})

	c.JSON(http.StatusOK, gin.H{"msg": res.Msg, "balance": res.Balance.InexactFloat64()})
}

// CreatePayment cria um depósito ou saque
func (h *Handler) CreatePayment(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req orchestrator.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(payment.CodeInvalidRequest), "message": err.Error()})
		return
	}

	txn, err := h.payments.CreatePayment(c.Request.Context(), principal, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

// ListPayments lista as transações do usuário
func (h *Handler) ListPayments(c *gin.Context) {
	principal, _ := auth.PrincipalFrom(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	txns, err := h.payments.List(c.Request.Context(), principal, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// GetPayment busca uma transação do usuário
func (h *Handler) GetPayment(c *gin.Context) {
	principal, _ := auth.PrincipalFrom(c)

	txn, err := h.payments.Get(c.Request.Context(), principal, c.Param("requestNumber"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, txn)
}

// CancelPayment cancela uma transação PENDING do usuário
func (h *Handler) CancelPayment(c *gin.Context) {
	principal, _ := auth.PrincipalFrom(c)

	txn, err := h.payments.Cancel(c.Request.Context(), principal, c.Param("requestNumber"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, txn)
}

type launchRequest struct {
	ProviderCode string `json:"provider_code" binding:"required"`
	GameCode     string `json:"game_code" binding:"required"`
	Lang         string `json:"lang"`
}

// LaunchGame devolve a URL de abertura de um jogo para o usuário
func (h *Handler) LaunchGame(c *gin.Context) {
	principal, _ := auth.PrincipalFrom(c)

	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(payment.CodeInvalidRequest), "message": err.Error()})
		return
	}

	res := h.launcher.LaunchGame(c.Request.Context(), provider.LaunchRequest{
		UserCode:     principal.Username,
		ProviderCode: req.ProviderCode,
		GameCode:     req.GameCode,
		Lang:         req.Lang,
	})
	if !res.Success {
		h.logger.Warn("❌ [GAME LAUNCH] Falha",
			zap.String("game_code", req.GameCode),
			zap.String("kind", string(res.Kind)),
			zap.String("error", res.Error),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   string(payment.CodeGatewayUnavailable),
			"message": gateway.SanitizeMessage(res.Error),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"launch_url": res.LaunchURL})
}

// TestGateway executa o teste de conexão de um gateway (operadores)
func (h *Handler) TestGateway(c *gin.Context) {
	res, err := h.payments.TestGateway(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// ReloadSettings recarrega as credenciais sem reiniciar o processo
func (h *Handler) ReloadSettings(c *gin.Context) {
	if err := h.settings.Reload(c.Request.Context()); err != nil {
		h.logger.Error("❌ [SETTINGS] Falha ao recarregar", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"loaded_at": h.settings.LoadedAt()})
}

// HealthCheck verifica a saúde do serviço
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("❌ [API] Erro interno",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "INTERNAL_ERROR", "message": "internal error"})
		return
	}

	var body gin.H
	if pe, ok := asDomainError(err); ok {
		body = gin.H{"error": string(pe.Code), "message": pe.Message}
	} else {
		body = gin.H{"error": err.Error()}
	}
	c.JSON(status, body)
}

func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	return io.ReadAll(c.Request.Body)
}
