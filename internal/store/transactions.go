package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

const transactionColumns = `
	id, user_id, request_number, COALESCE(external_id, ''), gateway, kind, payment_method,
	amount, status, COALESCE(qr_code, ''), COALESCE(barcode, ''), COALESCE(digitable_line, ''),
	metadata, created_at, updated_at`

// Store implementa o store de transações e o ledger de saldo sobre PostgreSQL
type Store struct {
	db *pgxpool.Pool
}

// New cria uma nova instância de Store
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// BeginTx inicia uma nova transação
func (s *Store) BeginTx(ctx context.Context) (payment.Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

// Create persiste uma transação PENDING. O UNIQUE de request_number é a
// garantia final de idempotência da criação.
func (s *Store) Create(ctx context.Context, d payment.Draft) (*payment.Transaction, error) {
	metadata := d.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, request_number, gateway, kind, payment_method, amount, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transactionColumns,
		d.UserID, d.RequestNumber, d.Gateway, string(d.Kind), string(d.Method), d.Amount, string(payment.StatusPending), metadata,
	)

	txn, err := scanTransaction(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, payment.ErrDuplicateRequestNumber.Wrap(err)
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return txn, nil
}

// FindByRequestNumber busca a transação pela chave de idempotência
func (s *Store) FindByRequestNumber(ctx context.Context, requestNumber string) (*payment.Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE request_number = $1`, requestNumber)
	return notFound(scanTransaction(row))
}

// FindByExternalID busca a transação pelo id atribuído pelo PSP
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_id = $1`, externalID)
	return notFound(scanTransaction(row))
}

// ListByUser lista as transações mais recentes do usuário
func (s *Store) ListByUser(ctx context.Context, userID int64, limit int) ([]payment.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListStalePending lista transações PENDING criadas antes de olderThan
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]payment.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	return collectTransactions(rows)
}

// MergeMetadata mescla um patch nos metadados sem tocar no status
func (s *Store) MergeMetadata(ctx context.Context, requestNumber string, patch map[string]any) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE transactions
		SET metadata = metadata || $2::jsonb,
		    updated_at = NOW()
		WHERE request_number = $1
	`, requestNumber, patch)
	if err != nil {
		return fmt.Errorf("failed to merge metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrTransactionNotFound
	}
	return nil
}

// GetForUpdate obtém a transação com lock pessimista (FOR UPDATE)
func (s *Store) GetForUpdate(ctx context.Context, tx payment.Tx, requestNumber string) (*payment.Transaction, error) {
	row := pgTx(tx).QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE request_number = $1
		FOR UPDATE
	`, requestNumber)

	txn, err := notFound(scanTransaction(row))
	if err != nil && !errors.Is(err, payment.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to get transaction with lock: %w", err)
	}
	return txn, err
}

// MarkEventProcessed insere o marcador (request_number, status). Devolve
// false quando o marcador já existia.
func (s *Store) MarkEventProcessed(ctx context.Context, tx payment.Tx, requestNumber string, status payment.Status) (bool, error) {
	tag, err := pgTx(tx).Exec(ctx, `
		INSERT INTO transaction_events (request_number, status)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, requestNumber, string(status))
	if err != nil {
		return false, fmt.Errorf("failed to insert processed event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus grava o status. external_id e os artefatos do gateway só são
// preenchidos quando ainda vazios; metadata é mesclado com ||.
func (s *Store) UpdateStatus(ctx context.Context, tx payment.Tx, requestNumber string, upd payment.StatusUpdate) (*payment.Transaction, error) {
	metadata := upd.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	row := pgTx(tx).QueryRow(ctx, `
		UPDATE transactions
		SET status = $2,
		    external_id = COALESCE(NULLIF(external_id, ''), NULLIF($3, '')),
		    qr_code = COALESCE(NULLIF(qr_code, ''), NULLIF($4, '')),
		    barcode = COALESCE(NULLIF(barcode, ''), NULLIF($5, '')),
		    digitable_line = COALESCE(NULLIF(digitable_line, ''), NULLIF($6, '')),
		    metadata = metadata || $7::jsonb,
		    updated_at = NOW()
		WHERE request_number = $1
		RETURNING `+transactionColumns,
		requestNumber,
		string(upd.Status),
		upd.ExternalID,
		upd.Artifacts.QRCode,
		upd.Artifacts.Barcode,
		upd.Artifacts.DigitableLine,
		metadata,
	)

	txn, err := notFound(scanTransaction(row))
	if isUniqueViolation(err) {
		return nil, payment.ErrDuplicateExternalID.Wrap(err)
	}
	if err != nil && !errors.Is(err, payment.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return txn, err
}

func scanTransaction(row pgx.Row) (*payment.Transaction, error) {
	var (
		txn    payment.Transaction
		kind   string
		method string
		status string
	)
	err := row.Scan(
		&txn.ID,
		&txn.UserID,
		&txn.RequestNumber,
		&txn.ExternalID,
		&txn.Gateway,
		&kind,
		&method,
		&txn.Amount,
		&status,
		&txn.QRCode,
		&txn.Barcode,
		&txn.DigitableLine,
		&txn.Metadata,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.Kind = payment.Kind(kind)
	txn.Method = payment.Method(method)
	txn.Status = payment.Status(status)
	return &txn, nil
}

func collectTransactions(rows pgx.Rows) ([]payment.Transaction, error) {
	defer rows.Close()

	var out []payment.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

func notFound(txn *payment.Transaction, err error) (*payment.Transaction, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrTransactionNotFound
	}
	return txn, err
}
