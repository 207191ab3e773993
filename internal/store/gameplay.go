package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

const gameplayTransType = "gameplay"

// GameplayLedger aplica movimentos do agregador de jogos usando a barreira
// de branch do dtm: o insert em dtm_barrier.barrier e o UPDATE do saldo
// acontecem na mesma transação, então cada (gid, branch) move saldo uma vez.
type GameplayLedger struct {
	db    *sql.DB
	users *Store
}

// NewGameplayLedger cria uma nova instância de GameplayLedger
func NewGameplayLedger(db *sql.DB, users *Store) *GameplayLedger {
	return &GameplayLedger{db: db, users: users}
}

func (g *GameplayLedger) FindUser(ctx context.Context, userCode string) (*payment.User, error) {
	return g.users.FindUser(ctx, userCode)
}

func (g *GameplayLedger) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return g.users.Balance(ctx, userID)
}

// ApplyOnce devolve false quando a barreira já existia (callback repetido).
// Sem EventKey não há barreira: o movimento roda numa transação simples.
func (g *GameplayLedger) ApplyOnce(ctx context.Context, ge payment.GameplayEntry) (bool, error) {
	if ge.EventKey == "" {
		if err := g.applyWithoutBarrier(ctx, ge); err != nil {
			return false, err
		}
		return true, nil
	}

	barrier, err := dtmcli.BarrierFrom(gameplayTransType, ge.EventKey, ge.Branch, dtmcli.BranchAction)
	if err != nil {
		return false, fmt.Errorf("failed to build barrier: %w", err)
	}

	applied := false
	err = barrier.CallWithDB(g.db, func(tx *sql.Tx) error {
		applied = true
		return applyGameplayDelta(ctx, tx, ge)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (g *GameplayLedger) applyWithoutBarrier(ctx context.Context, ge payment.GameplayEntry) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := applyGameplayDelta(ctx, tx, ge); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func applyGameplayDelta(ctx context.Context, tx *sql.Tx, ge payment.GameplayEntry) error {
	entry := ge.Entry
	deposit, bet := counterDeltas(entry)

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + $1,
		    total_deposit_amount = total_deposit_amount + $2,
		    total_bet_amount = total_bet_amount + $3,
		    updated_at = NOW()
		WHERE id = $4
		  AND (NOT $5 OR balance + $1 >= 0)
	`, entry.Delta, deposit, bet, entry.UserID, ge.NoOverdraft)
	if err != nil {
		return fmt.Errorf("failed to apply gameplay delta: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, entry.UserID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return payment.ErrUserNotFound
		}
		return payment.ErrInsufficientUserFunds
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, delta, reason, reference)
		VALUES ($1, $2, $3, $4)
	`, entry.UserID, entry.Delta, string(entry.Reason), entry.Reference)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}
