package store

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

type testEnv struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	store *Store
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `TRUNCATE ledger_entries, transaction_events, transactions, users, dtm_barrier.barrier RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	sqlDB, err := OpenSQL(dbURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB.Close()
		pool.Close()
	})

	return &testEnv{pool: pool, sqlDB: sqlDB, store: New(pool)}
}

func (e *testEnv) addUser(t *testing.T, username string, balance string) int64 {
	t.Helper()
	var id int64
	err := e.pool.QueryRow(context.Background(),
		`INSERT INTO users (username, balance) VALUES ($1, $2) RETURNING id`,
		username, decimal.RequireFromString(balance),
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestCreate_DuplicateRequestNumber(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "alice", "0")
	draft := payment.NewDraft(userID, uuid.NewString(), "suitpay", payment.KindDeposit, payment.MethodPIX, decimal.RequireFromString("50"))

	// Act
	first, err := env.store.Create(ctx, draft)
	require.NoError(t, err)
	_, err = env.store.Create(ctx, draft)

	// Assert
	assert.ErrorIs(t, err, payment.ErrDuplicateRequestNumber)
	assert.Equal(t, payment.StatusPending, first.Status)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("50")))
}

func TestUpdateStatus_WriteOnceFieldsAndMetadataMerge(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "alice", "0")
	rn := uuid.NewString()
	_, err := env.store.Create(ctx, payment.NewDraft(userID, rn, "suitpay", payment.KindDeposit, payment.MethodPIX, decimal.RequireFromString("10")))
	require.NoError(t, err)

	// Act
	tx, err := env.store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = env.store.UpdateStatus(ctx, tx, rn, payment.StatusUpdate{
		Status:     payment.StatusPending,
		ExternalID: "ext-1",
		Artifacts:  payment.Artifacts{QRCode: "qr-1"},
		Metadata:   map[string]any{"a": "1"},
	})
	require.NoError(t, err)
	updated, err := env.store.UpdateStatus(ctx, tx, rn, payment.StatusUpdate{
		Status:     payment.StatusPaidOut,
		ExternalID: "ext-2",
		Artifacts:  payment.Artifacts{QRCode: "qr-2"},
		Metadata:   map[string]any{"b": "2"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Assert
	assert.Equal(t, payment.StatusPaidOut, updated.Status)
	assert.Equal(t, "ext-1", updated.ExternalID)
	assert.Equal(t, "qr-1", updated.QRCode)
	assert.Equal(t, "1", updated.Metadata["a"])
	assert.Equal(t, "2", updated.Metadata["b"])

	byExt, err := env.store.FindByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, rn, byExt.RequestNumber)
}

func TestMarkEventProcessed_SecondInsertIsRejected(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	rn := uuid.NewString()

	// Act
	tx, err := env.store.BeginTx(ctx)
	require.NoError(t, err)
	first, err := env.store.MarkEventProcessed(ctx, tx, rn, payment.StatusPaidOut)
	require.NoError(t, err)
	second, err := env.store.MarkEventProcessed(ctx, tx, rn, payment.StatusPaidOut)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Assert
	assert.True(t, first)
	assert.False(t, second)
}

func TestApplyDelta_ConcurrentDeltasCompose(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "alice", "100")

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := env.store.BeginTx(ctx)
			if err != nil {
				return
			}
			defer tx.Rollback()
			delta := decimal.RequireFromString("1.50")
			if i%2 == 0 {
				delta = delta.Neg()
			}
			if err := env.store.ApplyDelta(ctx, tx, payment.LedgerEntry{UserID: userID, Delta: delta, Reason: payment.ReasonWin, Reference: "concurrency"}); err != nil {
				return
			}
			_ = tx.Commit()
		}(i)
	}
	wg.Wait()

	// Assert
	balance, err := env.store.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("100")), balance.String())
}

func TestApplyDelta_UnknownUser(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	tx, err := env.store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = env.store.ApplyDelta(ctx, tx, payment.LedgerEntry{UserID: 9999, Delta: decimal.NewFromInt(1), Reason: payment.ReasonDeposit})

	assert.ErrorIs(t, err, payment.ErrUserNotFound)
}

func TestGameplayLedger_BarrierAppliesOnce(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "alice", "100")
	ledger := NewGameplayLedger(env.sqlDB, env.store)
	bet := payment.GameplayEntry{
		EventKey:    "txn-1",
		Branch:      "bet",
		NoOverdraft: true,
		Entry:       payment.LedgerEntry{UserID: userID, Delta: decimal.RequireFromString("-20"), Reason: payment.ReasonBet, Reference: "txn-1"},
	}

	// Act
	first, err := ledger.ApplyOnce(ctx, bet)
	require.NoError(t, err)
	second, err := ledger.ApplyOnce(ctx, bet)
	require.NoError(t, err)

	// Assert
	assert.True(t, first)
	assert.False(t, second)
	user, err := ledger.FindUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.RequireFromString("80")))
	assert.True(t, user.TotalBetAmount.Equal(decimal.RequireFromString("20")))
}

func TestGameplayLedger_RefusesOverdraft(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "bob", "5")
	ledger := NewGameplayLedger(env.sqlDB, env.store)

	// Act
	_, err := ledger.ApplyOnce(ctx, payment.GameplayEntry{
		EventKey:    "txn-2",
		Branch:      "bet",
		NoOverdraft: true,
		Entry:       payment.LedgerEntry{UserID: userID, Delta: decimal.RequireFromString("-6"), Reason: payment.ReasonBet, Reference: "txn-2"},
	})

	// Assert
	assert.ErrorIs(t, err, payment.ErrInsufficientUserFunds)
	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("5")))
}

func TestGameplayLedger_EntriesWithoutKeyAlwaysApply(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "alice", "100")
	ledger := NewGameplayLedger(env.sqlDB, env.store)
	bet := payment.GameplayEntry{
		Branch:      "bet",
		NoOverdraft: true,
		Entry:       payment.LedgerEntry{UserID: userID, Delta: decimal.RequireFromString("-20"), Reason: payment.ReasonBet, Reference: "payload:abc"},
	}

	// Act
	first, err := ledger.ApplyOnce(ctx, bet)
	require.NoError(t, err)
	second, err := ledger.ApplyOnce(ctx, bet)
	require.NoError(t, err)

	// Assert
	assert.True(t, first)
	assert.True(t, second)
	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("60")), balance.String())
}
