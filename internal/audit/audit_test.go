package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/logging"
)

func TestNewRecord_KeepsInvalidJSONAsRaw(t *testing.T) {
	valid := NewRecord("suitpay", "invalid_signature", "10.0.0.1", []byte(`{"a":1}`))
	invalid := NewRecord("suitpay", "malformed", "10.0.0.1", []byte(`not-json`))

	assert.JSONEq(t, `{"a":1}`, string(valid.Payload))
	assert.Empty(t, valid.RawPayload)
	assert.Nil(t, invalid.Payload)
	assert.Equal(t, "not-json", invalid.RawPayload)
	assert.NotEmpty(t, valid.ID)
}

func TestElasticsearchSink_IndexesRecord(t *testing.T) {
	// Arrange
	var (
		gotPath string
		gotDoc  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotDoc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	sink, err := NewElasticsearchSink(ElasticsearchConfig{URL: srv.URL, Index: "payments_webhook_audit"}, logging.Nop())
	require.NoError(t, err)
	rec := NewRecord("xbank", "unknown_transaction", "10.0.0.9", []byte(`{"idTransaction":"x"}`))

	// Act
	err = sink.Record(context.Background(), rec)

	// Assert
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(gotPath, "/payments_webhook_audit/_doc/"+rec.ID))
	assert.Equal(t, "unknown_transaction", gotDoc["reason"])
}

func TestElasticsearchSink_ReportsIndexError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	sink, err := NewElasticsearchSink(ElasticsearchConfig{URL: srv.URL, Index: "audit"}, logging.Nop())
	require.NoError(t, err)

	err = sink.Record(context.Background(), NewRecord("suitpay", "x", "", []byte(`{}`)))

	assert.Error(t, err)
}
