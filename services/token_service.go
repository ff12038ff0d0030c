package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keygate-dev/keygate/cache"
	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
	"github.com/keygate-dev/keygate/internal/metrics"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// AccessTokenClaims are the claims embedded in a signed access token. Access
// tokens are stateless: nothing about them is persisted and verification is
// signature plus expiry only.
type AccessTokenClaims struct {
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService is the token issuer and the refresh-token ledger: it mints
// and verifies access tokens, and persists, rotates and revokes refresh
// tokens. Refresh records are cached at issuance only; every path that
// invalidates a record evicts the cache entry after the ledger write lands,
// so a cached entry can never outlive its record.
type TokenService struct {
	tokens     domain.RefreshTokenRepository
	cache      cache.TokenStore
	signer     *TokenSigner
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a TokenService. tokenCache may be nil to disable
// caching. Non-positive TTLs fall back to the defaults (15m access, 7d refresh).
func NewTokenService(
	tokens domain.RefreshTokenRepository,
	tokenCache cache.TokenStore,
	signer *TokenSigner,
	issuer string,
	accessTTL, refreshTTL time.Duration,
) *TokenService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenService{
		tokens:     tokens,
		cache:      tokenCache,
		signer:     signer,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTokenTTL returns the configured access token lifetime.
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.accessTTL
}

// IssueAccessToken mints a signed access token carrying the identity's id,
// username and role snapshot, bound to the client when one is present.
func (s *TokenService) IssueAccessToken(user *domain.User, client *domain.Client) (string, *AccessTokenClaims, error) {
	now := time.Now()
	claims := &AccessTokenClaims{
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	if client != nil {
		claims.ClientID = client.ClientID
	}

	signed, err := s.signer.Sign(claims, "")
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	metrics.TokensIssuedTotal.Inc()
	return signed, claims, nil
}

// VerifyAccessToken checks signature and expiry. Every failure mode
// (malformed, expired, bad signature, wrong issuer) collapses to
// ErrTokenInvalid; the caller maps them all to unauthorized.
func (s *TokenService) VerifyAccessToken(tokenValue string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenValue, claims, s.signer.Keyfunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil || !token.Valid {
		log.Debug().Err(err).Msg("Access token rejected")
		return nil, serrors.ErrTokenInvalid
	}
	return claims, nil
}

// IssueRefreshToken generates a high-entropy opaque token, persists its
// record with the configured expiry and returns the raw value. The record id
// is never exposed.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID, clientID string) (string, error) {
	value, err := newOpaqueToken()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	record := &domain.RefreshToken{
		Token:     value,
		UserID:    userID,
		ClientID:  clientID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Store(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	s.cacheRecord(ctx, record)
	metrics.TokensIssuedTotal.Inc()
	return value, nil
}

// VerifyRefreshToken resolves a raw token value to its record. Not found,
// revoked and expired all come back as ErrTokenInvalid.
func (s *TokenService) VerifyRefreshToken(ctx context.Context, value string) (*domain.RefreshToken, error) {
	now := time.Now()

	if s.cache != nil {
		if entry, err := s.cache.Get(ctx, value); err == nil {
			if entry.Revoked || !entry.ExpiresAt.After(now) {
				_ = s.cache.Delete(ctx, value)
				return nil, serrors.ErrTokenInvalid
			}
			return &domain.RefreshToken{
				Token:     value,
				UserID:    entry.UserID,
				ClientID:  entry.ClientID,
				ExpiresAt: entry.ExpiresAt,
				CreatedAt: entry.CreatedAt,
			}, nil
		}
	}

	record, err := s.tokens.GetByValue(ctx, value)
	if err != nil {
		return nil, serrors.ErrTokenInvalid
	}
	if !record.Active(now) {
		return nil, serrors.ErrTokenInvalid
	}

	// Not re-cached: a verify racing a revoke must not resurrect the entry
	// after the revoke's eviction. Only issuance populates the cache.
	return record, nil
}

// RotateRefreshToken retires the old token and issues its replacement. The
// old record is revoked through a conditional store update, so of any number
// of concurrent rotations of the same value exactly one proceeds to issue a
// new token; the rest fail with ErrTokenInvalid. The revoke lands before the
// replacement is created: an interruption leaves the old token dead, never
// two live tokens.
func (s *TokenService) RotateRefreshToken(ctx context.Context, oldValue string) (string, *domain.RefreshToken, error) {
	record, err := s.tokens.GetByValue(ctx, oldValue)
	if err != nil {
		return "", nil, serrors.ErrTokenInvalid
	}
	if !record.Active(time.Now()) {
		return "", nil, serrors.ErrTokenInvalid
	}

	won, err := s.tokens.RevokeActive(ctx, oldValue)
	if err != nil {
		return "", nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !won {
		// A concurrent rotation got here first.
		return "", nil, serrors.ErrTokenInvalid
	}
	// Evict after the revoke has landed so the entry cannot outlive the record.
	if s.cache != nil {
		_ = s.cache.Delete(ctx, oldValue)
	}

	newValue, err := s.IssueRefreshToken(ctx, record.UserID, record.ClientID)
	if err != nil {
		return "", nil, err
	}
	metrics.TokensRotatedTotal.Inc()
	return newValue, record, nil
}

// RevokeRefreshToken marks the record revoked regardless of current state.
// Idempotent; unknown values are a no-op.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, value string) error {
	if err := s.tokens.Revoke(ctx, value); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, value)
	}
	return nil
}

// RevokeAllForUser revokes every active refresh token the user holds, e.g.
// after a password change.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	values, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.cache != nil {
		for _, value := range values {
			_ = s.cache.Delete(ctx, value)
		}
	}
	return nil
}

// DeleteExpired purges expired records. Advisory: verify-time expiry checks
// already enforce correctness.
func (s *TokenService) DeleteExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, time.Now())
}

func (s *TokenService) cacheRecord(ctx context.Context, record *domain.RefreshToken) {
	if s.cache == nil {
		return
	}
	entry := &cache.Entry{
		Token:     record.Token,
		UserID:    record.UserID,
		ClientID:  record.ClientID,
		Revoked:   record.Revoked,
		ExpiresAt: record.ExpiresAt,
		CreatedAt: record.CreatedAt,
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("Failed to cache refresh token")
	}
}

// newOpaqueToken returns 256 bits of randomness, base64url-encoded.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
