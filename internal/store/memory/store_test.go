package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
)

func TestCreate_DuplicateRequestNumber(t *testing.T) {
	// Arrange
	st := NewStore()
	ctx := context.Background()
	draft := payment.NewDraft(1, "req-1", "suitpay", payment.KindDeposit, payment.MethodPIX, decimal.RequireFromString("50"))

	// Act
	first, err := st.Create(ctx, draft)
	require.NoError(t, err)
	_, err = st.Create(ctx, payment.NewDraft(2, "req-1", "xbank", payment.KindDeposit, payment.MethodPIX, decimal.RequireFromString("70")))

	// Assert
	assert.ErrorIs(t, err, payment.ErrDuplicateRequestNumber)

	stored, err := st.FindByRequestNumber(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, int64(1), stored.UserID)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("50")))
}

func TestRollback_UndoesStatusAndLedger(t *testing.T) {
	// Arrange
	st := NewStore()
	ctx := context.Background()
	st.AddUser(1, "alice", decimal.RequireFromString("10"))
	_, err := st.Create(ctx, payment.NewDraft(1, "req-2", "suitpay", payment.KindDeposit, payment.MethodPIX, decimal.RequireFromString("5")))
	require.NoError(t, err)

	// Act
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	_, err = st.UpdateStatus(ctx, tx, "req-2", payment.StatusUpdate{Status: payment.StatusPaidOut, ExternalID: "ext-2"})
	require.NoError(t, err)
	require.NoError(t, st.ApplyDelta(ctx, tx, payment.LedgerEntry{UserID: 1, Delta: decimal.RequireFromString("5"), Reason: payment.ReasonDeposit}))
	require.NoError(t, tx.Rollback())

	// Assert
	stored, err := st.FindByRequestNumber(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, stored.Status)
	_, err = st.FindByExternalID(ctx, "ext-2")
	assert.ErrorIs(t, err, payment.ErrTransactionNotFound)
	u, _ := st.User(1)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("10")))
	assert.Empty(t, st.Entries())
}
