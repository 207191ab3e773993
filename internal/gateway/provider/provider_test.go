package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/gateway"
	"github.com/matheusmosca/payment-reconciliation/internal/logging"
	"github.com/matheusmosca/payment-reconciliation/internal/settings"
)

func TestNegotiate_PinsFirstWorkingPathAndLaunchesWithoutProbing(t *testing.T) {
	// Arrange
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "agent", body["agent_code"])

		if r.URL.Path != "/api/v1" {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch body["method"] {
		case "money_info":
			_, _ = w.Write([]byte(`{"status":1,"agent":{"balance":1000}}`))
		case "game_launch":
			_, _ = w.Write([]byte(`{"status":1,"launch_url":"https://games.example.test/play"}`))
		}
	}))
	defer srv.Close()

	adapter := New(settings.Static{
		settings.ProviderBaseURL:    srv.URL,
		settings.ProviderAgentCode:  "agent",
		settings.ProviderAgentToken: "token",
	}, time.Second, []string{"/api/v2", "/api/v1", "/api"}, logging.Nop())

	// Act
	negotiated := adapter.Negotiate(context.Background())
	launch := adapter.LaunchGame(context.Background(), LaunchRequest{UserCode: "alice", GameCode: "fortune-tiger"})

	// Assert
	require.True(t, negotiated.Success, negotiated.Error)
	assert.Equal(t, srv.URL+"/api/v1", adapter.Endpoint())
	assert.True(t, launch.Success)
	assert.Equal(t, "https://games.example.test/play", launch.LaunchURL)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestLaunchGame_RequiresNegotiation(t *testing.T) {
	adapter := New(settings.Static{}, time.Second, []string{"/api"}, logging.Nop())

	res := adapter.LaunchGame(context.Background(), LaunchRequest{UserCode: "alice"})

	assert.False(t, res.Success)
	assert.Equal(t, gateway.KindNotConfigured, res.Kind)
}

func TestNegotiate_AllCandidatesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":0,"msg":"INVALID_AGENT"}`))
	}))
	defer srv.Close()
	adapter := New(settings.Static{
		settings.ProviderBaseURL:    srv.URL,
		settings.ProviderAgentCode:  "agent",
		settings.ProviderAgentToken: "bad",
	}, time.Second, []string{"/api/v2", "/api"}, logging.Nop())

	res := adapter.TestConnection(context.Background())

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "INVALID_AGENT")
	assert.Empty(t, adapter.Endpoint())
}
