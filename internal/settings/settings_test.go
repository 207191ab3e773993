package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/payment-reconciliation/internal/logging"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) All(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func TestStore_ReloadAndGet(t *testing.T) {
	// Arrange
	repo := new(MockRepository)
	ctx := context.Background()
	repo.On("All", ctx).Return(map[string]string{SuitPayClientID: "ci-db"}, nil).Once()
	s := NewStore(repo, time.Minute, logging.Nop())
	s.lookup = func(string) (string, bool) { return "", false }

	// Act
	err := s.Reload(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "ci-db", s.Get(SuitPayClientID))
	assert.False(t, s.LoadedAt().IsZero())
	repo.AssertExpectations(t)
}

func TestStore_EnvironmentOverridesDatabase(t *testing.T) {
	// Arrange
	repo := new(MockRepository)
	ctx := context.Background()
	repo.On("All", ctx).Return(map[string]string{SuitPayClientSecret: "from-db"}, nil)
	s := NewStore(repo, time.Minute, logging.Nop())
	s.lookup = func(key string) (string, bool) {
		if key == "SUITPAY_CLIENT_SECRET" {
			return "from-env", true
		}
		return "", false
	}

	// Act
	require.NoError(t, s.Reload(ctx))

	// Assert
	assert.Equal(t, "from-env", s.Get(SuitPayClientSecret))
}

func TestStore_ReloadFailureKeepsSnapshot(t *testing.T) {
	// Arrange
	repo := new(MockRepository)
	ctx := context.Background()
	repo.On("All", ctx).Return(map[string]string{XBankToken: "tok"}, nil).Once()
	repo.On("All", ctx).Return(nil, errors.New("db down")).Once()
	s := NewStore(repo, time.Minute, logging.Nop())
	s.lookup = func(string) (string, bool) { return "", false }
	require.NoError(t, s.Reload(ctx))

	// Act
	err := s.Reload(ctx)

	// Assert
	assert.Error(t, err)
	assert.Equal(t, "tok", s.Get(XBankToken))
}
