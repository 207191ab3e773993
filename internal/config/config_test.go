package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Arrange
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WEBHOOK_ALLOW_UNSIGNED", "")
	t.Setenv("GATEWAY_TIMEOUT", "")

	// Act
	cfg, err := Load()

	// Assert
	require.NoError(t, err)
	assert.False(t, cfg.WebhookAllowUnsigned)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []string{"/api/v2", "/api/v1", "/api", "/"}, cfg.ProviderCandidatePaths)
}

func TestLoad_Overrides(t *testing.T) {
	// Arrange
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WEBHOOK_ALLOW_UNSIGNED", "true")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("XBANK_WEBHOOK_ALLOWED_IPS", "10.0.0.1, 10.0.0.2")
	t.Setenv("PUBLIC_BASE_URL", "https://pay.example.com/")

	// Act
	cfg, err := Load()

	// Assert
	require.NoError(t, err)
	assert.True(t, cfg.WebhookAllowUnsigned)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.XBankWebhookAllowedIPs)
	assert.Equal(t, "https://pay.example.com", cfg.PublicBaseURL)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero sweep interval", key: "SWEEP_INTERVAL", value: "0s"},
		{name: "negative sweep interval", key: "SWEEP_INTERVAL", value: "-1m"},
		{name: "zero stale threshold", key: "PENDING_STALE_AFTER", value: "0s"},
		{name: "zero refresh interval", key: "SETTINGS_REFRESH_INTERVAL", value: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			t.Setenv(tt.key, tt.value)

			_, err := Load()

			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
}

func TestDatabaseDSN_PrefersDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")

	cfg := &Config{}

	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DatabaseDSN())
}
