package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/api"
	"github.com/matheusmosca/payment-reconciliation/internal/audit"
	"github.com/matheusmosca/payment-reconciliation/internal/auth"
	"github.com/matheusmosca/payment-reconciliation/internal/config"
	"github.com/matheusmosca/payment-reconciliation/internal/gateway"
	"github.com/matheusmosca/payment-reconciliation/internal/gateway/provider"
	"github.com/matheusmosca/payment-reconciliation/internal/gateway/suitpay"
	"github.com/matheusmosca/payment-reconciliation/internal/gateway/xbank"
	"github.com/matheusmosca/payment-reconciliation/internal/logging"
	"github.com/matheusmosca/payment-reconciliation/internal/orchestrator"
	"github.com/matheusmosca/payment-reconciliation/internal/ratelimit"
	"github.com/matheusmosca/payment-reconciliation/internal/reconciliation"
	"github.com/matheusmosca/payment-reconciliation/internal/settings"
	"github.com/matheusmosca/payment-reconciliation/internal/store"
	"github.com/matheusmosca/payment-reconciliation/internal/sweeper"
	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
	"github.com/matheusmosca/payment-reconciliation/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	tp, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	mp, err := telemetry.InitMetrics(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down meter", zap.Error(err))
		}
	}()

	metrics, err := telemetry.NewMetrics(mp.Meter(cfg.ServiceName))
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Initialize database
	dsn := cfg.DatabaseDSN()
	dbPool, err := store.InitDB(ctx, dsn, cfg.DatabaseMaxConns, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	if cfg.RunMigrations {
		if err := store.Migrate(ctx, dbPool); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	sqlDB, err := store.OpenSQL(dsn)
	if err != nil {
		logger.Fatal("Failed to open barrier connection", zap.Error(err))
	}
	defer sqlDB.Close()

	// Settings: snapshot do banco com override por variável de ambiente
	settingsStore := settings.NewStore(settings.NewPostgresRepository(dbPool), cfg.SettingsRefreshInterval, logger)
	if err := settingsStore.Reload(ctx); err != nil {
		logger.Fatal("Failed to load settings", zap.Error(err))
	}
	go settingsStore.Run(ctx)

	// Gateways
	suitpayAdapter := suitpay.New(settingsStore, cfg.GatewayTimeout, cfg.PublicBaseURL+"/webhooks/suitpay", logger)
	xbankAdapter := xbank.New(settingsStore, cfg.GatewayTimeout, cfg.PublicBaseURL+"/webhooks/xbank", logger)
	providerAdapter := provider.New(settingsStore, cfg.GatewayTimeout, cfg.ProviderCandidatePaths, logger)
	if res := providerAdapter.Negotiate(ctx); !res.Success {
		logger.Warn("⚠️ Game provider unavailable at startup", zap.String("kind", string(res.Kind)), zap.String("error", res.Error))
	}
	registry := gateway.NewRegistry(suitpayAdapter, xbankAdapter, providerAdapter)

	// Auditoria de webhooks recusados
	var sink audit.Sink = audit.NewLogSink(logger)
	if cfg.ElasticsearchURL != "" {
		esSink, err := audit.NewElasticsearchSink(audit.ElasticsearchConfig{
			URL:      cfg.ElasticsearchURL,
			Username: cfg.ElasticsearchUsername,
			Password: cfg.ElasticsearchPassword,
			Index:    cfg.ElasticsearchIndex,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Elasticsearch audit sink", zap.Error(err))
		}
		sink = esSink
	}

	// Rate limit opcional
	var limiter orchestrator.Limiter
	if cfg.RedisAddr != "" {
		rl, err := ratelimit.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RateLimitPerMin, time.Minute)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rl.Close()
		limiter = rl
	}

	// Initialize dependencies
	repository := store.New(dbPool)
	gameplayLedger := store.NewGameplayLedger(sqlDB, repository)
	engine := reconciliation.NewEngine(repository, repository, gameplayLedger, metrics, logger)
	orch := orchestrator.NewOrchestrator(repository, engine, registry, limiter, cfg.GatewayTimeout, logger)
	processor := webhook.NewProcessor(engine, repository, settingsStore, sink, webhook.Options{
		AllowUnsigned:   cfg.WebhookAllowUnsigned,
		XBankAllowedIPs: cfg.XBankWebhookAllowedIPs,
	}, metrics, logger)

	go sweeper.New(repository, cfg.PendingStaleAfter, cfg.SweepInterval, metrics, logger).Run(ctx)

	handler := api.NewHandler(orch, processor, engine, providerAdapter, settingsStore,
		otel.Tracer(cfg.ServiceName), logger, cfg.ServiceName)
	router, err := api.NewRouter(handler, api.RouterConfig{
		ServiceName:    cfg.ServiceName,
		TrustedProxies: cfg.TrustedProxies,
		JWT:            auth.NewJWTService(cfg.JWTSecret, cfg.JWTTTL),
	})
	if err != nil {
		logger.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server", zap.Error(err))
		}
	}()

	logger.Info("🚀 Payments Service listening", zap.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}
