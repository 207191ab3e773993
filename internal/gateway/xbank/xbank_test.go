package xbank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/gateway"
	"github.com/matheusmosca/payment-reconciliation/internal/logging"
	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/settings"
)

func newAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(settings.Static{
		settings.XBankBaseURL: srv.URL,
		settings.XBankToken:   "tok",
	}, 2*time.Second, "https://example.test/webhooks/xbank", logging.Nop())
}

func TestCreatePayment_WithdrawalUsesPaymentEndpoint(t *testing.T) {
	// Arrange
	var got map[string]any
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathPayment, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"idTransaction":"xb-1","status":"pending"}`))
	})

	// Act
	res := adapter.CreatePayment(context.Background(), payment.KindWithdrawal, gateway.Request{
		RequestNumber: "req-w",
		Method:        payment.MethodPIX,
		Amount:        decimal.RequireFromString("-30"),
		PixKey:        "alice@example.test",
		PixKeyType:    "email",
	})

	// Assert
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "xb-1", res.Data.ExternalID)
	assert.Equal(t, payment.StatusPending, res.Data.Status)
	assert.Equal(t, 30.0, got["amount"])
	assert.Equal(t, "req-w", got["external_id"])
}

func TestCreatePayment_MissingTransactionID(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"queued"}`))
	})

	res := adapter.CreatePayment(context.Background(), payment.KindDeposit, gateway.Request{
		RequestNumber: "req-d",
		Method:        payment.MethodPIX,
		Amount:        decimal.NewFromInt(10),
	})

	assert.False(t, res.Success)
	assert.Equal(t, gateway.KindMalformed, res.Kind)
}

func TestCreatePayment_OnlyPix(t *testing.T) {
	adapter := New(settings.Static{}, time.Second, "", logging.Nop())

	res := adapter.CreatePayment(context.Background(), payment.KindDeposit, gateway.Request{Method: payment.MethodCard})

	assert.Equal(t, gateway.KindNotSupported, res.Kind)
}

func TestCancel_NotSupported(t *testing.T) {
	adapter := New(settings.Static{}, time.Second, "", logging.Nop())

	res := adapter.Cancel(context.Background(), "req")

	assert.False(t, res.Success)
	assert.Equal(t, gateway.KindNotSupported, res.Kind)
}
