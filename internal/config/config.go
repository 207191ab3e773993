package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contém toda a configuração do serviço de pagamentos
type Config struct {
	Environment string
	Port        string
	ServiceName string

	// Banco de dados
	DatabaseUser     string
	DatabasePassword string
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseMaxConns int32
	RunMigrations    bool

	// Observabilidade
	OTELEndpoint string

	// HTTP
	PublicBaseURL  string
	TrustedProxies []string

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// Redis (rate limit). Vazio desabilita.
	RedisAddr       string
	RedisPassword   string
	RateLimitPerMin int

	// Elasticsearch (auditoria de webhooks rejeitados). Vazio usa apenas logs.
	ElasticsearchURL      string
	ElasticsearchUsername string
	ElasticsearchPassword string
	ElasticsearchIndex    string

	// Gateways
	GatewayTimeout          time.Duration
	SettingsRefreshInterval time.Duration
	WebhookAllowUnsigned    bool
	XBankWebhookAllowedIPs  []string
	ProviderCandidatePaths  []string

	// Varredura de transações pendentes
	SweepInterval     time.Duration
	PendingStaleAfter time.Duration
}

// Load lê a configuração das variáveis de ambiente, carregando o .env se existir
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Environment:      getEnv("ENVIRONMENT", "development"),
		Port:             getEnv("PORT", "8080"),
		ServiceName:      getEnv("SERVICE_NAME", "payments-service"),
		DatabaseUser:     getEnv("DATABASE_USER", "root"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "pass"),
		DatabaseHost:     getEnv("DATABASE_HOST", "localhost"),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseName:     getEnv("DATABASE_NAME", "payments_db"),
		DatabaseMaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 10)),
		RunMigrations:    getEnvBool("RUN_MIGRATIONS", true),

		OTELEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    getEnvDuration("JWT_TTL", 24*time.Hour),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RateLimitPerMin: getEnvInt("PAYMENT_RATE_LIMIT_PER_MINUTE", 10),

		ElasticsearchURL:      os.Getenv("ELASTICSEARCH_URL"),
		ElasticsearchUsername: os.Getenv("ELASTICSEARCH_USERNAME"),
		ElasticsearchPassword: os.Getenv("ELASTICSEARCH_PASSWORD"),
		ElasticsearchIndex:    getEnv("ELASTICSEARCH_INDEX", "payments_webhook_audit"),

		GatewayTimeout:          getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		SettingsRefreshInterval: getEnvDuration("SETTINGS_REFRESH_INTERVAL", time.Minute),
		WebhookAllowUnsigned:    getEnvBool("WEBHOOK_ALLOW_UNSIGNED", false),
		XBankWebhookAllowedIPs:  getEnvList("XBANK_WEBHOOK_ALLOWED_IPS"),
		ProviderCandidatePaths: getEnvList("PROVIDER_CANDIDATE_PATHS",
			"/api/v2", "/api/v1", "/api", "/"),

		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		PendingStaleAfter: getEnvDuration("PENDING_STALE_AFTER", 24*time.Hour),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.SettingsRefreshInterval <= 0 {
		return fmt.Errorf("SETTINGS_REFRESH_INTERVAL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.PendingStaleAfter <= 0 {
		return fmt.Errorf("PENDING_STALE_AFTER must be positive")
	}
	return nil
}

// DatabaseDSN monta a URL de conexão usada pelo pgx e pelo lib/pq
func (c *Config) DatabaseDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
	)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvList(key string, defaults ...string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaults
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
