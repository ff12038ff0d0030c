package domain

import (
	"context"
	"time"
)

// EventKind enumerates the security-relevant events this core records.
type EventKind string

const (
	EventLogin          EventKind = "LOGIN"
	EventLoginError     EventKind = "LOGIN_ERROR"
	EventLogout         EventKind = "LOGOUT"
	EventTokenRefresh   EventKind = "TOKEN_REFRESH"
	EventPasswordChange EventKind = "PASSWORD_CHANGE"
	EventTwoFactorOn    EventKind = "2FA_ENABLE"
	EventTwoFactorOff   EventKind = "2FA_DISABLE"
	EventAccountLock    EventKind = "ACCOUNT_LOCK"
	EventAccountUnlock  EventKind = "ACCOUNT_UNLOCK"
)

// EventMeta carries request origin metadata into audit events.
type EventMeta struct {
	IP        string
	UserAgent string
}

// SecurityEvent is an append-only audit record. UserID is empty for
// anonymous failures (e.g. login with an unknown email).
type SecurityEvent struct {
	ID        string            `bson:"_id,omitempty"`
	UserID    string            `bson:"user_id,omitempty"`
	Kind      EventKind         `bson:"kind"`
	IP        string            `bson:"ip,omitempty"`
	UserAgent string            `bson:"user_agent,omitempty"`
	Details   map[string]string `bson:"details,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
}

// AuditLogger records security events. Implementations must never fail the
// calling operation; persistence errors are their own to report.
type AuditLogger interface {
	Record(ctx context.Context, event *SecurityEvent)
}
