package store

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/logging"
	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/reconciliation"
	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
)

func (e *testEnv) engine() *reconciliation.Engine {
	return reconciliation.NewEngine(e.store, e.store, NewGameplayLedger(e.sqlDB, e.store), telemetry.NopMetrics(), logging.Nop())
}

func (e *testEnv) ledgerRows(t *testing.T, userID int64) int {
	t.Helper()
	var n int
	err := e.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&n)
	require.NoError(t, err)
	return n
}

// fire entrega o mesmo evento em paralelo e devolve quantas entregas aplicaram
func fire(t *testing.T, engine *reconciliation.Engine, ev reconciliation.Event, deliveries int) int {
	t.Helper()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		errs    []error
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := engine.Apply(context.Background(), ev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if out.Applied {
				applied++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	return applied
}

func TestEngine_ConcurrentPaidOutCreditsOnceOnPostgres(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "alice", "100")
	rn := uuid.NewString()
	_, err := env.store.Create(ctx, payment.NewDraft(userID, rn, "suitpay", payment.KindDeposit, payment.MethodPIX, decimal.RequireFromString("50")))
	require.NoError(t, err)

	// Act
	applied := fire(t, env.engine(), reconciliation.Event{
		RequestNumber: rn,
		Target:        payment.StatusPaidOut,
		ExternalID:    "ext-race",
		Source:        "webhook:suitpay",
	}, 20)

	// Assert
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, env.ledgerRows(t, userID))

	balance, err := env.store.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("150")), balance.String())

	stored, err := env.store.FindByRequestNumber(ctx, rn)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPaidOut, stored.Status)
}

func TestEngine_ConcurrentChargebackReversesOnceOnPostgres(t *testing.T) {
	// Arrange
	env := setupTest(t)
	ctx := context.Background()
	userID := env.addUser(t, "bob", "0")
	rn := uuid.NewString()
	_, err := env.store.Create(ctx, payment.NewDraft(userID, rn, "suitpay", payment.KindDeposit, payment.MethodPIX, decimal.RequireFromString("30")))
	require.NoError(t, err)
	engine := env.engine()
	_, err = engine.Apply(ctx, reconciliation.Event{RequestNumber: rn, Target: payment.StatusPaidOut, Source: "webhook:suitpay"})
	require.NoError(t, err)

	// Act
	applied := fire(t, engine, reconciliation.Event{
		RequestNumber: rn,
		Target:        payment.StatusChargeback,
		Source:        "webhook:suitpay",
	}, 20)

	// Assert
	assert.Equal(t, 1, applied)
	assert.Equal(t, 2, env.ledgerRows(t, userID))

	balance, err := env.store.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), balance.String())
}
