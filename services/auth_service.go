package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
	"github.com/keygate-dev/keygate/internal/metrics"
)

// LoginInput carries everything a login attempt submits.
type LoginInput struct {
	Email         string
	Password      string
	TwoFactorCode string
	ClientID      string
	ClientSecret  string
	Meta          domain.EventMeta
}

// LoginResult is the token pair handed back on a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// AuthService orchestrates credential verification, lockout accounting, the
// second factor and token issuance.
type AuthService struct {
	users     domain.UserRepository
	clients   domain.ClientRepository
	tokens    *TokenService
	hasher    PasswordHasher
	lockout   *LockoutGuard
	twoFactor *TwoFactorService
	audit     domain.AuditLogger
}

// NewAuthService creates an AuthService. clients may be nil when no client
// binding is configured.
func NewAuthService(
	users domain.UserRepository,
	clients domain.ClientRepository,
	tokens *TokenService,
	hasher PasswordHasher,
	lockout *LockoutGuard,
	twoFactor *TwoFactorService,
	auditLog domain.AuditLogger,
) *AuthService {
	return &AuthService{
		users:     users,
		clients:   clients,
		tokens:    tokens,
		hasher:    hasher,
		lockout:   lockout,
		twoFactor: twoFactor,
		audit:     auditLog,
	}
}

// Login authenticates an email and password, applies the lockout policy and
// the second factor, and issues a token pair. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		metrics.LoginFailureTotal.Inc()
		s.record(ctx, &domain.SecurityEvent{
			Kind:      domain.EventLoginError,
			IP:        in.Meta.IP,
			UserAgent: in.Meta.UserAgent,
			Details:   map[string]string{"email": in.Email, "reason": "unknown email"},
		})
		return nil, serrors.ErrInvalidCredentials
	}

	if !user.Enabled {
		s.recordLoginError(ctx, user.ID, in.Meta, "account disabled")
		return nil, serrors.ErrAccountDisabled
	}

	if s.lockout.IsLocked(user) {
		metrics.LoginFailureTotal.Inc()
		s.recordLoginError(ctx, user.ID, in.Meta, "account locked")
		return nil, serrors.ErrAccountLocked
	}

	if !s.hasher.Check(user.PasswordHash, in.Password) {
		metrics.LoginFailureTotal.Inc()
		if _, err := s.lockout.RecordFailure(ctx, user, in.Meta); err != nil {
			log.Error().Err(err).Str("userID", user.ID).Msg("Failed to record login failure")
		}
		s.recordLoginError(ctx, user.ID, in.Meta, "wrong password")
		return nil, serrors.ErrInvalidCredentials
	}

	client, err := s.resolveClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		s.recordLoginError(ctx, user.ID, in.Meta, "invalid client")
		return nil, err
	}

	if user.TwoFactorEnabled {
		if in.TwoFactorCode == "" {
			// Password already matched, so this is not a failed attempt.
			return nil, serrors.ErrTwoFactorRequired
		}
		if err := s.twoFactor.verifyAny(ctx, user, in.TwoFactorCode); err != nil {
			metrics.LoginFailureTotal.Inc()
			s.recordLoginError(ctx, user.ID, in.Meta, "invalid two-factor code")
			if errors.Is(err, serrors.ErrInvalidTwoFactorCode) {
				return nil, serrors.ErrInvalidTwoFactorCode
			}
			return nil, err
		}
	}

	if err := s.lockout.RecordSuccess(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to reset lockout counter")
	}
	if err := s.users.SetLastLogin(ctx, user.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to record last login")
	}

	result, err := s.issuePair(ctx, user, client)
	if err != nil {
		return nil, err
	}

	metrics.LoginSuccessTotal.Inc()
	s.record(ctx, &domain.SecurityEvent{
		UserID:    user.ID,
		Kind:      domain.EventLogin,
		IP:        in.Meta.IP,
		UserAgent: in.Meta.UserAgent,
	})
	return result, nil
}

// resolveClient looks up and authenticates the client when a client id is
// submitted. Confidential clients must present their secret.
func (s *AuthService) resolveClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	if clientID == "" {
		return nil, nil
	}
	if s.clients == nil {
		return nil, serrors.ErrInvalidClient
	}
	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, serrors.ErrInvalidClient
	}
	if !client.Public && !s.hasher.Check(client.SecretHash, clientSecret) {
		return nil, serrors.ErrInvalidClient
	}
	return client, nil
}

// Refresh rotates a refresh token and issues a fresh access token. The old
// refresh token is dead whether or not issuance succeeds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta domain.EventMeta) (*LoginResult, error) {
	newValue, record, err := s.tokens.RotateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil || !user.Enabled {
		// The subject vanished or was disabled after issuance. The rotation
		// already revoked the old token; kill the new one too.
		if revokeErr := s.tokens.RevokeRefreshToken(ctx, newValue); revokeErr != nil {
			log.Error().Err(revokeErr).Str("userID", record.UserID).Msg("Failed to revoke orphaned refresh token")
		}
		return nil, serrors.ErrTokenInvalid
	}

	var client *domain.Client
	if record.ClientID != "" && s.clients != nil {
		if c, err := s.clients.GetByClientID(ctx, record.ClientID); err == nil {
			client = c
		}
	}

	accessToken, _, err := s.tokens.IssueAccessToken(user, client)
	if err != nil {
		return nil, fmt.Errorf("could not issue access token: %w", err)
	}

	s.record(ctx, &domain.SecurityEvent{
		UserID:    user.ID,
		Kind:      domain.EventTokenRefresh,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: newValue,
		ExpiresIn:    int(s.tokens.AccessTokenTTL().Seconds()),
	}, nil
}

// Logout revokes a refresh token. Unknown or already-revoked tokens are
// treated as success.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta domain.EventMeta) error {
	record, err := s.tokens.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		// Nothing to revoke; logout is idempotent.
		return nil
	}
	if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("could not revoke refresh token: %w", err)
	}
	s.record(ctx, &domain.SecurityEvent{
		UserID:    record.UserID,
		Kind:      domain.EventLogout,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// ChangePassword replaces the password hash and revokes every refresh token
// the user holds, forcing re-authentication everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string, meta domain.EventMeta) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return serrors.ErrUserNotFound
	}
	if !s.hasher.Check(user.PasswordHash, oldPassword) {
		return serrors.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("could not hash password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("could not update password: %w", err)
	}
	if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("Failed to revoke refresh tokens after password change")
	}

	s.record(ctx, &domain.SecurityEvent{
		UserID:    user.ID,
		Kind:      domain.EventPasswordChange,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// issuePair issues an access and refresh token for the user.
func (s *AuthService) issuePair(ctx context.Context, user *domain.User, client *domain.Client) (*LoginResult, error) {
	accessToken, _, err := s.tokens.IssueAccessToken(user, client)
	if err != nil {
		return nil, fmt.Errorf("could not issue access token: %w", err)
	}

	clientID := ""
	if client != nil {
		clientID = client.ClientID
	}
	refreshToken, err := s.tokens.IssueRefreshToken(ctx, user.ID, clientID)
	if err != nil {
		return nil, fmt.Errorf("could not issue refresh token: %w", err)
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.tokens.AccessTokenTTL().Seconds()),
	}, nil
}

func (s *AuthService) record(ctx context.Context, ev *domain.SecurityEvent) {
	if s.audit != nil {
		s.audit.Record(ctx, ev)
	}
}

func (s *AuthService) recordLoginError(ctx context.Context, userID string, meta domain.EventMeta, reason string) {
	s.record(ctx, &domain.SecurityEvent{
		UserID:    userID,
		Kind:      domain.EventLoginError,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details:   map[string]string{"reason": reason},
	})
}
