// Package errors defines the error kinds the authentication core exposes to
// its callers. Unknown-email and wrong-password failures share a single
// sentinel so callers cannot distinguish them; token failures collapse to
// one kind regardless of whether the token was malformed, expired, revoked
// or forged.
package errors

import "errors"

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountLocked is returned while a lockout deadline is in the
	// future. It carries no unlock-time hint.
	ErrAccountLocked = errors.New("account is locked")
	// ErrAccountDisabled is returned for identities with the enabled flag off.
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrTokenInvalid covers malformed, expired, revoked and bad-signature
	// tokens without distinguishing cause.
	ErrTokenInvalid = errors.New("invalid or expired token")

	ErrTwoFactorRequired       = errors.New("two-factor code required")
	ErrInvalidTwoFactorCode    = errors.New("invalid two-factor code")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")

	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidClient = errors.New("invalid client credentials")

	// ErrMissingSigningKey is a configuration error, fatal at startup.
	ErrMissingSigningKey = errors.New("token signing key is not configured")
)
