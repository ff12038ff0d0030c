// Package totp wraps the TOTP and backup-code primitives used by the
// two-factor service: secret enrollment, window-tolerant code validation
// with step reporting, and bcrypt-hashed one-time backup codes.
package totp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Period is the TOTP step length in seconds.
	Period = 30
	// Skew is the number of steps accepted either side of the current one.
	Skew = 1
	// SecretSize is the raw secret length in bytes (160 bits).
	SecretSize = 20

	// DefaultNumBackupCodes is the number of backup codes generated on
	// activation.
	DefaultNumBackupCodes = 10
	// DefaultBackupCodeLength is the length of each backup code.
	DefaultBackupCodeLength = 10
)

// Codes are uppercase with easily-confused characters removed, so that a
// case-normalized candidate compares cleanly.
const backupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var validateOpts = totp.ValidateOpts{
	Period:    Period,
	Skew:      0, // skew handled explicitly so the matched step is known
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateSecret generates a new TOTP key for the given issuer and account.
// The key's Secret() is the base32 string to store after confirmation and
// URL() is the otpauth:// provisioning URI for QR embedding.
func GenerateSecret(issuer, accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      Period,
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, nil
}

// ValidateCode checks a passcode against the base32 secret at the current,
// previous and next step. It returns the matched step index so callers can
// reject same-window replays. Malformed secrets return an error; a plain
// mismatch returns (false, 0, nil).
func ValidateCode(secret, passcode string, at time.Time) (bool, int64, error) {
	secret = strings.TrimSpace(secret)
	for _, offset := range []int{0, -1, 1} {
		t := at.Add(time.Duration(offset*Period) * time.Second)
		ok, err := totp.ValidateCustom(passcode, secret, t, validateOpts)
		if err != nil {
			// Wrong-length input is a mismatch, not a fault.
			if errors.Is(err, otp.ErrValidateInputInvalidLength) {
				return false, 0, nil
			}
			return false, 0, fmt.Errorf("totp validation failed: %w", err)
		}
		if ok {
			return true, t.Unix() / Period, nil
		}
	}
	return false, 0, nil
}

// GenerateCode derives the 6-digit code for the secret at the given time.
// Test helper counterpart of ValidateCode.
func GenerateCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(strings.TrimSpace(secret), at, validateOpts)
}

// GenerateBackupCodes generates count unique single-use codes of the given
// length. It returns the plaintext codes, shown to the user exactly once,
// and their bcrypt hashes for storage.
func GenerateBackupCodes(count, length int) (plaintextCodes, hashedCodes []string, err error) {
	if count <= 0 {
		count = DefaultNumBackupCodes
	}
	if length <= 0 {
		length = DefaultBackupCodeLength
	}

	plaintextCodes = make([]string, count)
	hashedCodes = make([]string, count)
	seen := make(map[string]bool, count)

	for i := 0; i < count; i++ {
		for {
			b := make([]byte, length)
			if _, randErr := rand.Read(b); randErr != nil {
				return nil, nil, fmt.Errorf("failed to read random bytes for backup code: %w", randErr)
			}
			for j := range b {
				b[j] = backupCodeCharset[int(b[j])%len(backupCodeCharset)]
			}
			code := string(b)
			if !seen[code] {
				plaintextCodes[i] = code
				seen[code] = true
				break
			}
		}

		hashed, hashErr := bcrypt.GenerateFromPassword([]byte(plaintextCodes[i]), bcrypt.DefaultCost)
		if hashErr != nil {
			return nil, nil, fmt.Errorf("failed to hash backup code: %w", hashErr)
		}
		hashedCodes[i] = string(hashed)
	}
	return plaintextCodes, hashedCodes, nil
}

// Normalize case-normalizes a backup-code candidate.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FindBackupCode compares a candidate against the stored hash set and returns
// the index of the matching hash. The candidate must already be normalized.
// Removing the matched hash is the caller's responsibility.
func FindBackupCode(hashedCodes []string, candidate string) (int, bool) {
	candidateBytes := []byte(candidate)
	for i, stored := range hashedCodes {
		err := bcrypt.CompareHashAndPassword([]byte(stored), candidateBytes)
		if err == nil {
			return i, true
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			// Corrupt stored hash. Skip it; it can never match anything.
			continue
		}
	}
	return -1, false
}
