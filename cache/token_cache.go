// Package cache provides a read-through cache for verified refresh-token
// records. Entries are keyed by the sha256 of the token value so the raw
// token never reaches the cache backend.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the cache holds no entry for a token.
var ErrNotFound = errors.New("token not found in cache")

// Entry is a cached refresh-token record.
type Entry struct {
	Token     string    `json:"-" redis:"-"` // raw value, never serialized
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id,omitempty"`
	Revoked   bool      `json:"revoked"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenStore caches refresh-token records. Implementations must treat the
// store as advisory: a miss is always safe, a stale hit is not, so writers
// delete before mutating the backing ledger.
type TokenStore interface {
	Set(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, token string) (*Entry, error)
	Delete(ctx context.Context, token string) error
	Close() error
}
