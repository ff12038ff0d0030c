package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
	"github.com/keygate-dev/keygate/internal/auth/totp"
)

// TwoFactorEnrollment is returned by Enroll. The secret is pending: it is not
// persisted until the user confirms a code derived from it.
type TwoFactorEnrollment struct {
	Secret          string
	ProvisioningURI string
}

// TwoFactorService operates the TOTP second factor and its backup codes.
// Enrollment is two-step so a user who abandons setup is never locked out by
// a half-configured secret.
type TwoFactorService struct {
	users  domain.UserRepository
	audit  domain.AuditLogger
	issuer string
}

// NewTwoFactorService creates a TwoFactorService. issuer is the name shown
// in authenticator apps.
func NewTwoFactorService(users domain.UserRepository, auditLog domain.AuditLogger, issuer string) *TwoFactorService {
	return &TwoFactorService{
		users:  users,
		audit:  auditLog,
		issuer: issuer,
	}
}

// Enroll generates a fresh TOTP secret and provisioning URI for the user.
// Nothing is persisted; the caller holds the secret until ConfirmAndActivate.
func (s *TwoFactorService) Enroll(ctx context.Context, userID string) (*TwoFactorEnrollment, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, serrors.ErrUserNotFound
	}
	if user.TwoFactorEnabled {
		return nil, serrors.ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.GenerateSecret(s.issuer, user.Email)
	if err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("Failed to generate TOTP secret")
		return nil, fmt.Errorf("could not generate TOTP secret: %w", err)
	}

	return &TwoFactorEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// ConfirmAndActivate verifies a code against the pending secret and, on
// success, persists the secret as active, generates backup codes and returns
// their plaintext exactly once. The hashes are all that survives.
func (s *TwoFactorService) ConfirmAndActivate(ctx context.Context, userID, secret, code string, meta domain.EventMeta) ([]string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, serrors.ErrUserNotFound
	}
	if user.TwoFactorEnabled {
		return nil, serrors.ErrTwoFactorAlreadyEnabled
	}

	ok, _, err := totp.ValidateCode(secret, code, time.Now())
	if err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("TOTP validation failed during activation")
		return nil, fmt.Errorf("could not validate TOTP code: %w", err)
	}
	if !ok {
		return nil, serrors.ErrInvalidTwoFactorCode
	}

	plaintextCodes, hashedCodes, err := totp.GenerateBackupCodes(totp.DefaultNumBackupCodes, totp.DefaultBackupCodeLength)
	if err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("Failed to generate backup codes")
		return nil, fmt.Errorf("could not generate backup codes: %w", err)
	}

	if err := s.users.ActivateTwoFactor(ctx, user.ID, secret, hashedCodes); err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("Failed to activate two-factor authentication")
		return nil, fmt.Errorf("could not activate two-factor authentication: %w", err)
	}

	if s.audit != nil {
		s.audit.Record(ctx, &domain.SecurityEvent{
			UserID:    user.ID,
			Kind:      domain.EventTwoFactorOn,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
	}
	return plaintextCodes, nil
}

// VerifyCode checks a TOTP code against the active secret.
func (s *TwoFactorService) VerifyCode(ctx context.Context, userID, code string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return serrors.ErrUserNotFound
	}
	return s.verifyTOTP(ctx, user, code)
}

// verifyTOTP validates against the persisted secret with the standard skew
// window, then advances the last-accepted step. A code that matches a step
// already consumed is a replay and fails even inside the window.
func (s *TwoFactorService) verifyTOTP(ctx context.Context, user *domain.User, code string) error {
	if !user.TwoFactorEnabled || user.TwoFactorSecret == "" {
		return serrors.ErrTwoFactorNotEnabled
	}

	ok, step, err := totp.ValidateCode(user.TwoFactorSecret, code, time.Now())
	if err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("TOTP validation failed")
		return fmt.Errorf("could not validate TOTP code: %w", err)
	}
	if !ok {
		return serrors.ErrInvalidTwoFactorCode
	}

	advanced, err := s.users.AdvanceTwoFactorStep(ctx, user.ID, step)
	if err != nil {
		return fmt.Errorf("could not record accepted TOTP step: %w", err)
	}
	if !advanced {
		return serrors.ErrInvalidTwoFactorCode
	}
	return nil
}

// ConsumeBackupCode redeems a one-time backup code. The matching hash is
// removed atomically; of two concurrent submissions of the same code only
// one succeeds.
func (s *TwoFactorService) ConsumeBackupCode(ctx context.Context, userID, code string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return serrors.ErrUserNotFound
	}
	return s.consumeBackupCode(ctx, user, code)
}

func (s *TwoFactorService) consumeBackupCode(ctx context.Context, user *domain.User, code string) error {
	if !user.TwoFactorEnabled || len(user.TwoFactorBackupCodes) == 0 {
		return serrors.ErrInvalidTwoFactorCode
	}

	idx, found := totp.FindBackupCode(user.TwoFactorBackupCodes, totp.Normalize(code))
	if !found {
		return serrors.ErrInvalidTwoFactorCode
	}

	removed, err := s.users.RemoveBackupCode(ctx, user.ID, user.TwoFactorBackupCodes[idx])
	if err != nil {
		return fmt.Errorf("could not consume backup code: %w", err)
	}
	if !removed {
		// Already redeemed by a concurrent request.
		return serrors.ErrInvalidTwoFactorCode
	}
	return nil
}

// verifyAny accepts either a current TOTP code or an unused backup code.
// Used by the login orchestrator once the password has matched.
func (s *TwoFactorService) verifyAny(ctx context.Context, user *domain.User, code string) error {
	err := s.verifyTOTP(ctx, user, code)
	if err == nil {
		return nil
	}
	// Only a code mismatch makes the input a backup-code candidate. Storage
	// and crypto failures surface as-is instead of masquerading as one.
	if !errors.Is(err, serrors.ErrInvalidTwoFactorCode) {
		return err
	}
	return s.consumeBackupCode(ctx, user, code)
}

// RegenerateBackupCodes replaces the backup-code set for a 2FA-enabled user
// and returns the new plaintext codes once.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, serrors.ErrUserNotFound
	}
	if !user.TwoFactorEnabled {
		return nil, serrors.ErrTwoFactorNotEnabled
	}

	plaintextCodes, hashedCodes, err := totp.GenerateBackupCodes(totp.DefaultNumBackupCodes, totp.DefaultBackupCodeLength)
	if err != nil {
		return nil, fmt.Errorf("could not generate backup codes: %w", err)
	}
	if err := s.users.ReplaceBackupCodes(ctx, user.ID, hashedCodes); err != nil {
		return nil, fmt.Errorf("could not store backup codes: %w", err)
	}
	return plaintextCodes, nil
}

// Disable clears the secret, all backup-code hashes and the step marker.
func (s *TwoFactorService) Disable(ctx context.Context, userID string, meta domain.EventMeta) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return serrors.ErrUserNotFound
	}
	if !user.TwoFactorEnabled {
		return serrors.ErrTwoFactorNotEnabled
	}

	if err := s.users.DisableTwoFactor(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("Failed to disable two-factor authentication")
		return fmt.Errorf("could not disable two-factor authentication: %w", err)
	}

	if s.audit != nil {
		s.audit.Record(ctx, &domain.SecurityEvent{
			UserID:    user.ID,
			Kind:      domain.EventTwoFactorOff,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
	}
	return nil
}
