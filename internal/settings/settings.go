package settings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Chaves usadas pelos adaptadores de gateway
const (
	SuitPayBaseURL      = "suitpay_base_url"
	SuitPayClientID     = "suitpay_client_id"
	SuitPayClientSecret = "suitpay_client_secret"
	XBankBaseURL        = "xbank_base_url"
	XBankToken          = "xbank_token"
	ProviderBaseURL     = "provider_base_url"
	ProviderAgentCode   = "provider_agent_code"
	ProviderAgentToken  = "provider_agent_token"
)

// Source fornece valores de configuração dos gateways
type Source interface {
	Get(key string) string
}

// Repository lê a tabela chave/valor de settings
type Repository interface {
	All(ctx context.Context) (map[string]string, error)
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Store guarda um snapshot imutável dos settings, recarregado em intervalo
// fixo ou sob demanda. Variáveis de ambiente têm precedência sobre o banco.
type Store struct {
	repo     Repository
	interval time.Duration
	logger   *zap.Logger
	lookup   func(string) (string, bool)

	mu       sync.RWMutex
	snapshot map[string]string
	loadedAt time.Time
}

// NewStore cria um Store; chame Reload antes de usar
func NewStore(repo Repository, interval time.Duration, logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		interval: interval,
		logger:   logger,
		lookup:   os.LookupEnv,
		snapshot: map[string]string{},
	}
}

// Get devolve o valor da chave: primeiro a variável de ambiente em
// maiúsculas, depois o último snapshot carregado.
func (s *Store) Get(key string) string {
	if v, ok := s.lookup(strings.ToUpper(key)); ok && v != "" {
		return v
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot[key]
}

// Reload recarrega o snapshot. Em caso de erro o snapshot anterior continua valendo.
func (s *Store) Reload(ctx context.Context) error {
	values, err := s.repo.All(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot = values
	s.loadedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("🔄 [SETTINGS] Snapshot recarregado", zap.Int("keys", len(values)))
	return nil
}

// LoadedAt devolve o instante do último carregamento bem sucedido
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Run recarrega o snapshot a cada intervalo até o contexto ser cancelado
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.logger.Warn("⚠️ [SETTINGS] Falha ao recarregar, mantendo snapshot anterior", zap.Error(err))
			}
		}
	}
}

// Static é uma Source fixa, usada em testes e em execuções sem banco
type Static map[string]string

func (s Static) Get(key string) string {
	return s[key]
}
