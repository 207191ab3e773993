package suitpay

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
	source := settings.Static{
		settings.SuitPayBaseURL:      srv.URL,
		settings.SuitPayClientID:     "client-id",
		settings.SuitPayClientSecret: "client-secret",
	}
	return New(source, 2*time.Second, "https://example.test/webhooks/suitpay", logging.Nop())
}

func pixRequest() gateway.Request {
	return gateway.Request{
		RequestNumber: "req-1",
		Method:        payment.MethodPIX,
		Amount:        decimal.RequireFromString("50.00"),
		DueDate:       time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
		Client:        gateway.Client{Name: "Alice", Document: "12345678900", Email: "a@example.test"},
	}
}

func TestCreatePayment_PixDeposit(t *testing.T) {
	// Arrange
	var got map[string]any
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathQRCode, r.URL.Path)
		assert.Equal(t, "client-id", r.Header.Get("ci"))
		assert.Equal(t, "client-secret", r.Header.Get("cs"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"idTransaction": "ext-123",
			"paymentCode":   "000201010212",
			"response":      "OK",
		})
	})

	// Act
	res := adapter.CreatePayment(context.Background(), payment.KindDeposit, pixRequest())

	// Assert
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ext-123", res.Data.ExternalID)
	assert.Equal(t, "000201010212", res.Data.QRCode)
	assert.Equal(t, payment.StatusPending, res.Data.Status)
	assert.Equal(t, "req-1", got["requestNumber"])
	assert.Equal(t, "2026-10-20", got["dueDate"])
	assert.Equal(t, 50.0, got["amount"])
}

func TestCreatePayment_CardDeniedMapsToFailed(t *testing.T) {
	// Arrange
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCard, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"idTransaction":     "ext-card",
			"statusTransaction": "PAYMENT_DENIED",
			"response":          "OK",
		})
	})
	req := pixRequest()
	req.Method = payment.MethodCard
	req.Card = &gateway.Card{Number: "4111111111111111", CVV: "123", ExpirationMonth: "12", ExpirationYear: "2030"}

	// Act
	res := adapter.CreatePayment(context.Background(), payment.KindDeposit, req)

	// Assert
	require.True(t, res.Success)
	assert.Equal(t, payment.StatusFailed, res.Data.Status)
}

func TestCreatePayment_DistinguishesUnauthorizedFromBadRequest(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   gateway.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, gateway.KindUnauthorized},
		{"forbidden", http.StatusForbidden, gateway.KindUnauthorized},
		{"bad request", http.StatusBadRequest, gateway.KindBadRequest},
		{"upstream", http.StatusBadGateway, gateway.KindUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			res := adapter.CreatePayment(context.Background(), payment.KindDeposit, pixRequest())

			assert.False(t, res.Success)
			assert.Equal(t, tc.kind, res.Kind)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestCreatePayment_ResponseNotOK(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"INVALID_DOCUMENT"}`))
	})

	res := adapter.CreatePayment(context.Background(), payment.KindDeposit, pixRequest())

	assert.False(t, res.Success)
	assert.Equal(t, gateway.KindBadRequest, res.Kind)
	assert.Contains(t, res.Error, "INVALID_DOCUMENT")
}

func TestCreatePayment_Timeout(t *testing.T) {
	// Arrange
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	adapter := New(settings.Static{
		settings.SuitPayBaseURL:      srv.URL,
		settings.SuitPayClientID:     "ci",
		settings.SuitPayClientSecret: "cs",
	}, 50*time.Millisecond, "", logging.Nop())

	// Act
	res := adapter.CreatePayment(context.Background(), payment.KindDeposit, pixRequest())

	// Assert
	assert.False(t, res.Success)
	assert.Equal(t, gateway.KindTimeout, res.Kind)
}

func TestCreatePayment_MissingCredentials(t *testing.T) {
	adapter := New(settings.Static{}, time.Second, "", logging.Nop())

	res := adapter.CreatePayment(context.Background(), payment.KindDeposit, pixRequest())

	assert.False(t, res.Success)
	assert.Equal(t, gateway.KindNotConfigured, res.Kind)
}

func TestCreatePayment_WithdrawalOnlyPix(t *testing.T) {
	adapter := New(settings.Static{}, time.Second, "", logging.Nop())
	req := pixRequest()
	req.Method = payment.MethodBoleto

	res := adapter.CreatePayment(context.Background(), payment.KindWithdrawal, req)

	assert.False(t, res.Success)
	assert.Equal(t, gateway.KindNotSupported, res.Kind)
}
