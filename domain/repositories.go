package domain

import (
	"context"
	"time"
)

// UserRepository persists identities. Mutations are allow-listed, targeted
// updates rather than whole-document writes, and the operations that back
// concurrent flows (lockout counting, backup-code redemption, TOTP step
// tracking) are atomic conditional updates at the store level.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	SetPasswordHash(ctx context.Context, userID, hash string) error
	SetLastLogin(ctx context.Context, userID string, at time.Time) error

	// IncrementFailedLogin applies the AdvanceLockout transition atomically
	// and returns the resulting state.
	IncrementFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration) (*LockState, error)
	// ResetFailedLogin clears the counter and any lock deadline.
	ResetFailedLogin(ctx context.Context, userID string) error

	// ActivateTwoFactor persists the confirmed secret, marks 2FA enabled and
	// replaces the backup-code hash set in one write.
	ActivateTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string) error
	DisableTwoFactor(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID string, backupCodeHashes []string) error
	// RemoveBackupCode atomically removes one stored hash and reports whether
	// it was still present. At most one concurrent caller sees true.
	RemoveBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	// AdvanceTwoFactorStep records the accepted TOTP step iff it is greater
	// than the stored one; false means the step was already consumed.
	AdvanceTwoFactorStep(ctx context.Context, userID string, step int64) (bool, error)
}

// RefreshTokenRepository is the ledger of refresh token records.
type RefreshTokenRepository interface {
	Store(ctx context.Context, token *RefreshToken) error
	GetByValue(ctx context.Context, value string) (*RefreshToken, error)

	// RevokeActive flips an active record to revoked and reports whether this
	// call made the transition. Exactly one of any set of concurrent callers
	// sees true, which is what makes rotation single-winner.
	RevokeActive(ctx context.Context, value string) (bool, error)
	// Revoke marks the record revoked regardless of current state. Idempotent.
	Revoke(ctx context.Context, value string) error
	// RevokeAllForUser revokes every active record for the user and returns
	// the token values it revoked so callers can evict caches.
	RevokeAllForUser(ctx context.Context, userID string) ([]string, error)

	// DeleteExpired is advisory cleanup; expiry is enforced at verify time.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ClientRepository reads registered clients. Owned by an external registry.
type ClientRepository interface {
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
}

// EventRepository appends security events. Events are never updated or
// deleted by this core.
type EventRepository interface {
	Append(ctx context.Context, event *SecurityEvent) error
}
