package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keygate-dev/keygate/domain"
	"github.com/keygate-dev/keygate/internal/metrics"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 2 * time.Hour
)

// LockoutGuard tracks failed login attempts per identity and decides
// lock/unlock. Counting happens inside the user store's atomic increment so
// parallel failures on the same identity cannot lose updates; the guard is
// policy plus audit on top of that operation.
type LockoutGuard struct {
	users     domain.UserRepository
	audit     domain.AuditLogger
	threshold int
	lockFor   time.Duration
}

// NewLockoutGuard creates a guard. Non-positive threshold/duration fall back
// to the defaults (5 attempts, 2 hours).
func NewLockoutGuard(users domain.UserRepository, auditLog domain.AuditLogger, threshold int, lockFor time.Duration) *LockoutGuard {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if lockFor <= 0 {
		lockFor = DefaultLockoutDuration
	}
	return &LockoutGuard{
		users:     users,
		audit:     auditLog,
		threshold: threshold,
		lockFor:   lockFor,
	}
}

// RecordFailure counts a failed attempt and returns the resulting lock
// state. The failure that trips the lock also records an ACCOUNT_LOCK event.
func (g *LockoutGuard) RecordFailure(ctx context.Context, user *domain.User, meta domain.EventMeta) (*domain.LockState, error) {
	state, err := g.users.IncrementFailedLogin(ctx, user.ID, g.threshold, g.lockFor)
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}

	if state.JustLocked {
		metrics.AccountLockTotal.Inc()
		log.Warn().Str("userID", user.ID).Int("attempts", state.Attempts).Msg("Account locked after repeated failures")
		if g.audit != nil {
			g.audit.Record(ctx, &domain.SecurityEvent{
				UserID:    user.ID,
				Kind:      domain.EventAccountLock,
				IP:        meta.IP,
				UserAgent: meta.UserAgent,
			})
		}
	}
	return state, nil
}

// RecordSuccess clears the counter and any lock deadline unconditionally.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, userID string) error {
	return g.users.ResetFailedLogin(ctx, userID)
}

// IsLocked reports whether the identity is currently locked out.
func (g *LockoutGuard) IsLocked(user *domain.User) bool {
	return user.IsLocked()
}

// Unlock clears the lock administratively and records ACCOUNT_UNLOCK.
func (g *LockoutGuard) Unlock(ctx context.Context, userID string, meta domain.EventMeta) error {
	if err := g.users.ResetFailedLogin(ctx, userID); err != nil {
		return err
	}
	if g.audit != nil {
		g.audit.Record(ctx, &domain.SecurityEvent{
			UserID:    userID,
			Kind:      domain.EventAccountUnlock,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
	}
	return nil
}
