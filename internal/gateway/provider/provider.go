package provider

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/gateway"
	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/settings"
)

// Name é o identificador do agregador de jogos
const Name = "provider"

// Adapter fala com o agregador de jogos. O endpoint é descoberto uma vez por
// Negotiate entre os caminhos candidatos e fixado até a próxima negociação.
type Adapter struct {
	http       *resty.Client
	settings   settings.Source
	candidates []string
	logger     *zap.Logger

	mu       sync.RWMutex
	endpoint string
}

// New cria o adaptador com os caminhos candidatos em ordem de preferência
func New(source settings.Source, timeout time.Duration, candidates []string, logger *zap.Logger) *Adapter {
	return &Adapter{
		http:       gateway.NewHTTPClient(timeout),
		settings:   source,
		candidates: candidates,
		logger:     logger,
	}
}

type rpcRequest struct {
	Method       string `json:"method"`
	AgentCode    string `json:"agent_code"`
	AgentToken   string `json:"agent_token"`
	UserCode     string `json:"user_code,omitempty"`
	ProviderCode string `json:"provider_code,omitempty"`
	GameCode     string `json:"game_code,omitempty"`
	Lang         string `json:"lang,omitempty"`
}

type rpcResponse struct {
	Status    int    `json:"status"`
	Msg       string `json:"msg"`
	LaunchURL string `json:"launch_url"`
}

// Negotiate testa os caminhos candidatos com money_info e fixa o primeiro
// que responder status 1.
func (a *Adapter) Negotiate(ctx context.Context) gateway.Result {
	base := strings.TrimRight(a.settings.Get(settings.ProviderBaseURL), "/")
	if base == "" {
		return gateway.Failure(gateway.KindNotConfigured, 0, "provider base url not configured")
	}

	last := gateway.Failure(gateway.KindNotConfigured, 0, "no candidate paths configured")
	for _, path := range a.candidates {
		endpoint := base + "/" + strings.Trim(path, "/")
		endpoint = strings.TrimRight(endpoint, "/")

		var out rpcResponse
		res, ok := a.call(ctx, "negotiate", endpoint, rpcRequest{Method: "money_info"}, &out)
		if !ok {
			last = res
			continue
		}
		if out.Status != 1 {
			last = gateway.Failure(gateway.KindBadRequest, http.StatusOK, "money_info refused: %s", out.Msg)
			continue
		}

		a.mu.Lock()
		a.endpoint = endpoint
		a.mu.Unlock()

		a.logger.Info("✅ [PROVIDER] Endpoint negociado", zap.String("endpoint", endpoint))
		return gateway.OK(nil, "endpoint negotiated")
	}

	a.logger.Warn("⚠️ [PROVIDER] Nenhum endpoint respondeu", zap.String("error", last.Error))
	return last
}

// Endpoint devolve o endpoint fixado, vazio antes da negociação
func (a *Adapter) Endpoint() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.endpoint
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Supports(payment.Kind, payment.Method) bool { return false }

func (a *Adapter) CreatePayment(ctx context.Context, kind payment.Kind, req gateway.Request) gateway.Result {
	return gateway.Failure(gateway.KindNotSupported, 0, "the game provider does not create payments")
}

func (a *Adapter) Cancel(ctx context.Context, requestNumber string) gateway.Result {
	return gateway.Failure(gateway.KindNotSupported, 0, "the game provider does not cancel payments")
}

// TestConnection renegocia o endpoint
func (a *Adapter) TestConnection(ctx context.Context) gateway.Result {
	return a.Negotiate(ctx)
}

// LaunchRequest pede a URL de abertura de um jogo
type LaunchRequest struct {
	UserCode     string
	ProviderCode string
	GameCode     string
	Lang         string
}

// LaunchResult é a URL devolvida pelo agregador
type LaunchResult struct {
	gateway.Result
	LaunchURL string `json:"launch_url,omitempty"`
}

// LaunchGame usa o endpoint negociado; nunca sai testando caminhos.
func (a *Adapter) LaunchGame(ctx context.Context, req LaunchRequest) LaunchResult {
	endpoint := a.Endpoint()
	if endpoint == "" {
		return LaunchResult{Result: gateway.Failure(gateway.KindNotConfigured, 0, "provider endpoint not negotiated")}
	}

	lang := req.Lang
	if lang == "" {
		lang = "pt"
	}

	var out rpcResponse
	res, ok := a.call(ctx, "game_launch", endpoint, rpcRequest{
		Method:       "game_launch",
		UserCode:     req.UserCode,
		ProviderCode: req.ProviderCode,
		GameCode:     req.GameCode,
		Lang:         lang,
	}, &out)
	if !ok {
		return LaunchResult{Result: res}
	}
	if out.Status != 1 || out.LaunchURL == "" {
		return LaunchResult{Result: gateway.Failure(gateway.KindBadRequest, http.StatusOK, "game_launch refused: %s", out.Msg)}
	}
	return LaunchResult{Result: gateway.OK(nil, "game launched"), LaunchURL: out.LaunchURL}
}

func (a *Adapter) call(ctx context.Context, operation, endpoint string, body rpcRequest, out *rpcResponse) (gateway.Result, bool) {
	body.AgentCode = a.settings.Get(settings.ProviderAgentCode)
	body.AgentToken = a.settings.Get(settings.ProviderAgentToken)
	if body.AgentCode == "" || body.AgentToken == "" {
		return gateway.Failure(gateway.KindNotConfigured, 0, "agent credentials not configured"), false
	}
	return gateway.Call(ctx, a.logger, Name, operation, a.http.R().SetBody(body), http.MethodPost, endpoint, out)
}

var _ gateway.Adapter = (*Adapter)(nil)
