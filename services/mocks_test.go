package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
)

// --- Mock Implementations ---

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) SetPasswordHash(ctx context.Context, userID, hash string) error {
	args := m.Called(ctx, userID, hash)
	return args.Error(0)
}

func (m *MockUserRepository) SetLastLogin(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *MockUserRepository) IncrementFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration) (*domain.LockState, error) {
	args := m.Called(ctx, userID, threshold, lockFor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LockState), args.Error(1)
}

func (m *MockUserRepository) ResetFailedLogin(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockUserRepository) ActivateTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string) error {
	args := m.Called(ctx, userID, secret, backupCodeHashes)
	return args.Error(0)
}

func (m *MockUserRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockUserRepository) ReplaceBackupCodes(ctx context.Context, userID string, backupCodeHashes []string) error {
	args := m.Called(ctx, userID, backupCodeHashes)
	return args.Error(0)
}

func (m *MockUserRepository) RemoveBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	args := m.Called(ctx, userID, codeHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) AdvanceTwoFactorStep(ctx context.Context, userID string, step int64) (bool, error) {
	args := m.Called(ctx, userID, step)
	return args.Bool(0), args.Error(1)
}

type MockClientRepository struct {
	mock.Mock
}

func (m *MockClientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

// recordingAuditLogger captures events for assertions.
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*domain.SecurityEvent
}

func (l *recordingAuditLogger) Record(_ context.Context, event *domain.SecurityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingAuditLogger) kinds() []domain.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]domain.EventKind, 0, len(l.events))
	for _, ev := range l.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (l *recordingAuditLogger) last() *domain.SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil
	}
	return l.events[len(l.events)-1]
}

// memTokenRepo is an in-memory domain.RefreshTokenRepository with the same
// conditional-update semantics as the MongoDB implementation. Rotation and
// revocation tests need real state transitions, not canned answers.
type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]*domain.RefreshToken)}
}

func (r *memTokenRepo) Store(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.tokens[token.Token] = &cp
	return nil
}

func (r *memTokenRepo) GetByValue(_ context.Context, value string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[value]
	if !ok {
		return nil, serrors.ErrTokenInvalid
	}
	cp := *token
	return &cp, nil
}

func (r *memTokenRepo) RevokeActive(_ context.Context, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[value]
	if !ok || token.Revoked {
		return false, nil
	}
	token.Revoked = true
	return true, nil
}

func (r *memTokenRepo) Revoke(_ context.Context, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token, ok := r.tokens[value]; ok {
		token.Revoked = true
	}
	return nil
}

func (r *memTokenRepo) RevokeAllForUser(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var values []string
	for _, token := range r.tokens {
		if token.UserID == userID && !token.Revoked {
			token.Revoked = true
			values = append(values, token.Token)
		}
	}
	return values, nil
}

func (r *memTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for value, token := range r.tokens {
		if !token.ExpiresAt.After(now) {
			delete(r.tokens, value)
			deleted++
		}
	}
	return deleted, nil
}
