package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

// ApplyDelta soma o delta ao saldo do usuário com um único UPDATE atômico e
// registra o lançamento, ambos na transação do chamador. Não existe
// operação de "definir saldo".
func (s *Store) ApplyDelta(ctx context.Context, tx payment.Tx, entry payment.LedgerEntry) error {
	deposit, bet := counterDeltas(entry)

	tag, err := pgTx(tx).Exec(ctx, `
		UPDATE users
		SET balance = balance + $1,
		    total_deposit_amount = total_deposit_amount + $2,
		    total_bet_amount = total_bet_amount + $3,
		    updated_at = NOW()
		WHERE id = $4
	`, entry.Delta, deposit, bet, entry.UserID)
	if err != nil {
		return fmt.Errorf("failed to apply balance delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrUserNotFound
	}

	_, err = pgTx(tx).Exec(ctx, `
		INSERT INTO ledger_entries (user_id, delta, reason, reference)
		VALUES ($1, $2, $3, $4)
	`, entry.UserID, entry.Delta, string(entry.Reason), entry.Reference)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

// FindUser resolve o usuário pelo username e, em seguida, pelo id numérico
func (s *Store) FindUser(ctx context.Context, userCode string) (*payment.User, error) {
	user, err := s.scanUser(ctx, `WHERE username = $1`, userCode)
	if err == nil || !errors.Is(err, payment.ErrUserNotFound) {
		return user, err
	}

	id, convErr := strconv.ParseInt(userCode, 10, 64)
	if convErr != nil {
		return nil, payment.ErrUserNotFound
	}
	return s.scanUser(ctx, `WHERE id = $1`, id)
}

// Balance devolve o saldo atual do usuário
func (s *Store) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, payment.ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (s *Store) scanUser(ctx context.Context, where string, arg any) (*payment.User, error) {
	var u payment.User
	err := s.db.QueryRow(ctx, `
		SELECT id, username, balance, total_deposit_amount, total_bet_amount
		FROM users `+where, arg).Scan(&u.ID, &u.Username, &u.Balance, &u.TotalDepositAmount, &u.TotalBetAmount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// counterDeltas devolve os incrementos de total_deposit_amount e
// total_bet_amount; ambos os contadores só crescem.
func counterDeltas(entry payment.LedgerEntry) (deposit, bet decimal.Decimal) {
	switch entry.Reason {
	case payment.ReasonDeposit:
		return entry.Delta.Abs(), decimal.Zero
	case payment.ReasonBet:
		return decimal.Zero, entry.Delta.Abs()
	}
	return decimal.Zero, decimal.Zero
}
