package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/matheusmosca/payment-reconciliation/internal/auth"
)

// RouterConfig agrupa o que o roteador precisa além dos handlers
type RouterConfig struct {
	ServiceName    string
	TrustedProxies []string
	JWT            *auth.JWTService
}

// NewRouter monta as rotas públicas, autenticadas e de operador
func NewRouter(h *Handler, cfg RouterConfig) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))

	// Sem proxies confiáveis, ClientIP é o endereço da conexão.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	r.GET("/health", h.HealthCheck)

	// Webhooks dos PSPs e callbacks do agregador de jogos
	r.POST("/webhooks/suitpay", h.SuitPayWebhook)
	r.POST("/webhooks/xbank", h.XBankWebhook)
	r.POST("/callbacks/games", h.GameCallback)

	api := r.Group("/api", auth.Middleware(cfg.JWT))
	{
		api.POST("/payments", h.CreatePayment)
		api.GET("/payments", h.ListPayments)
		api.GET("/payments/:requestNumber", h.GetPayment)
		api.POST("/payments/:requestNumber/cancel", h.CancelPayment)
		api.POST("/games/launch", h.LaunchGame)
	}

	admin := api.Group("/admin", auth.RequireAdmin())
	{
		admin.POST("/gateways/:name/test", h.TestGateway)
		admin.POST("/settings/reload", h.ReloadSettings)
	}

	return r, nil
}
