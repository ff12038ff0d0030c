package domain

import "time"

// User represents an identity in the system.
type User struct {
	ID            string   `bson:"_id,omitempty"` // MongoDB ID
	Username      string   `bson:"username"`
	Email         string   `bson:"email,unique"`
	PasswordHash  string   `bson:"password_hash"`
	Roles         []string `bson:"roles"`
	Enabled       bool     `bson:"enabled"`
	EmailVerified bool     `bson:"email_verified"`

	FailedLoginAttempts int        `bson:"failed_login_attempts,omitempty"`
	LockUntil           *time.Time `bson:"lock_until,omitempty"`

	TwoFactorEnabled     bool     `bson:"two_factor_enabled"`
	TwoFactorSecret      string   `bson:"two_factor_secret,omitempty"`
	TwoFactorBackupCodes []string `bson:"two_factor_backup_codes,omitempty"`
	// TwoFactorLastStep is the last TOTP step accepted for this user. Codes
	// at or below it are rejected even inside the skew window.
	TwoFactorLastStep int64 `bson:"two_factor_last_step,omitempty"`

	LastLoginAt *time.Time `bson:"last_login_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

// IsLocked reports whether the account is currently locked out.
func (u *User) IsLocked() bool {
	return u.LockUntil != nil && u.LockUntil.After(time.Now())
}
