package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate-dev/keygate/domain"
)

func TestLockoutGuard_RecordFailure(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "user-1", Email: "alice@example.com"}

	t.Run("failure below threshold stays unlocked", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		auditLog := &recordingAuditLogger{}
		guard := NewLockoutGuard(mockUserRepo, auditLog, 5, 2*time.Hour)

		mockUserRepo.On("IncrementFailedLogin", ctx, user.ID, 5, 2*time.Hour).
			Return(&domain.LockState{Attempts: 3}, nil).Once()

		state, err := guard.RecordFailure(ctx, user, domain.EventMeta{})
		require.NoError(t, err)
		assert.Equal(t, 3, state.Attempts)
		assert.Nil(t, state.LockUntil)
		assert.Empty(t, auditLog.kinds(), "no lock event below the threshold")
		mockUserRepo.AssertExpectations(t)
	})

	t.Run("threshold failure records lock event", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		auditLog := &recordingAuditLogger{}
		guard := NewLockoutGuard(mockUserRepo, auditLog, 5, 2*time.Hour)

		lockUntil := time.Now().Add(2 * time.Hour)
		mockUserRepo.On("IncrementFailedLogin", ctx, user.ID, 5, 2*time.Hour).
			Return(&domain.LockState{Attempts: 5, LockUntil: &lockUntil, JustLocked: true}, nil).Once()

		state, err := guard.RecordFailure(ctx, user, domain.EventMeta{IP: "10.0.0.1"})
		require.NoError(t, err)
		assert.True(t, state.JustLocked)
		require.Len(t, auditLog.kinds(), 1)
		assert.Equal(t, domain.EventAccountLock, auditLog.last().Kind)
		assert.Equal(t, "10.0.0.1", auditLog.last().IP)
		mockUserRepo.AssertExpectations(t)
	})
}

func TestLockoutGuard_RecordSuccess(t *testing.T) {
	ctx := context.Background()
	mockUserRepo := new(MockUserRepository)
	guard := NewLockoutGuard(mockUserRepo, nil, 5, 2*time.Hour)

	mockUserRepo.On("ResetFailedLogin", ctx, "user-1").Return(nil).Once()
	require.NoError(t, guard.RecordSuccess(ctx, "user-1"))
	mockUserRepo.AssertExpectations(t)
}

func TestLockoutGuard_IsLocked(t *testing.T) {
	guard := NewLockoutGuard(new(MockUserRepository), nil, 5, 2*time.Hour)

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	assert.True(t, guard.IsLocked(&domain.User{LockUntil: &future}))
	assert.False(t, guard.IsLocked(&domain.User{LockUntil: &past}), "expired locks do not bar login")
	assert.False(t, guard.IsLocked(&domain.User{}))
}

func TestLockoutGuard_Unlock(t *testing.T) {
	ctx := context.Background()
	mockUserRepo := new(MockUserRepository)
	auditLog := &recordingAuditLogger{}
	guard := NewLockoutGuard(mockUserRepo, auditLog, 5, 2*time.Hour)

	mockUserRepo.On("ResetFailedLogin", ctx, "user-1").Return(nil).Once()
	require.NoError(t, guard.Unlock(ctx, "user-1", domain.EventMeta{}))
	assert.Equal(t, []domain.EventKind{domain.EventAccountUnlock}, auditLog.kinds())
	mockUserRepo.AssertExpectations(t)
}

func TestLockoutGuard_Defaults(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "user-1"}
	mockUserRepo := new(MockUserRepository)
	guard := NewLockoutGuard(mockUserRepo, nil, 0, 0)

	mockUserRepo.On("IncrementFailedLogin", ctx, user.ID, DefaultLockoutThreshold, DefaultLockoutDuration).
		Return(&domain.LockState{Attempts: 1}, nil).Once()

	_, err := guard.RecordFailure(ctx, user, domain.EventMeta{})
	require.NoError(t, err)
	mockUserRepo.AssertExpectations(t)
}
