package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record é o registro forense de um webhook recusado
type Record struct {
	ID         string          `json:"id"`
	Gateway    string          `json:"gateway"`
	Reason     string          `json:"reason"`
	RemoteIP   string          `json:"remote_ip"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload string          `json:"raw_payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NewRecord monta um registro. Corpos que não são JSON válido ficam em RawPayload.
func NewRecord(gateway, reason, remoteIP string, body []byte) Record {
	rec := Record{
		ID:         uuid.NewString(),
		Gateway:    gateway,
		Reason:     reason,
		RemoteIP:   remoteIP,
		ReceivedAt: time.Now().UTC(),
	}
	if json.Valid(body) {
		rec.Payload = json.RawMessage(body)
	} else {
		rec.RawPayload = string(body)
	}
	return rec
}

// Sink persiste registros forenses
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// LogSink escreve o registro completo no log estruturado
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink cria um LogSink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, rec Record) error {
	s.logger.Warn("🚨 [AUDIT] Webhook recusado",
		zap.String("audit_id", rec.ID),
		zap.String("gateway", rec.Gateway),
		zap.String("reason", rec.Reason),
		zap.String("remote_ip", rec.RemoteIP),
		zap.ByteString("payload", rec.Payload),
		zap.String("raw_payload", rec.RawPayload),
	)
	return nil
}

// ElasticsearchConfig holds configuration options for the Elasticsearch sink
type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

// ElasticsearchSink indexa cada registro; o log sempre recebe uma cópia,
// então uma falha no Elasticsearch não perde o registro.
type ElasticsearchSink struct {
	client   *elasticsearch.Client
	index    string
	fallback *LogSink
}

// NewElasticsearchSink cria o sink a partir da configuração
func NewElasticsearchSink(cfg ElasticsearchConfig, logger *zap.Logger) (*ElasticsearchSink, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.URL},
	}
	if cfg.Username != "" && cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	return &ElasticsearchSink{
		client:   client,
		index:    cfg.Index,
		fallback: NewLogSink(logger),
	}, nil
}

func (s *ElasticsearchSink) Record(ctx context.Context, rec Record) error {
	_ = s.fallback.Record(ctx, rec)

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding audit record: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(doc),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(rec.ID),
	)
	if err != nil {
		return fmt.Errorf("error indexing audit record: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing audit record: %s", res.String())
	}
	return nil
}
