package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
	"github.com/keygate-dev/keygate/internal/auth/totp"
)

const testTOTPIssuer = "KeygateTest"

func totpSecretForTest(t *testing.T) string {
	t.Helper()
	key, err := totp.GenerateSecret(testTOTPIssuer, "alice@example.com")
	require.NoError(t, err)
	return key.Secret()
}

func TestTwoFactorService_Enroll(t *testing.T) {
	ctx := context.Background()

	t.Run("returns pending secret without persisting", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)
		user := &domain.User{ID: "user-1", Email: "alice@example.com"}

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()

		enrollment, err := service.Enroll(ctx, "user-1")
		require.NoError(t, err)
		assert.NotEmpty(t, enrollment.Secret)
		assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
		assert.Contains(t, enrollment.ProvisioningURI, testTOTPIssuer)
		// No write expectations were set: enrollment must not touch the store.
		mockUserRepo.AssertExpectations(t)
	})

	t.Run("already enabled", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)
		user := &domain.User{ID: "user-1", TwoFactorEnabled: true}

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()

		_, err := service.Enroll(ctx, "user-1")
		assert.ErrorIs(t, err, serrors.ErrTwoFactorAlreadyEnabled)
	})

	t.Run("unknown user", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "ghost").Return(nil, serrors.ErrUserNotFound).Once()

		_, err := service.Enroll(ctx, "ghost")
		assert.ErrorIs(t, err, serrors.ErrUserNotFound)
	})
}

func TestTwoFactorService_ConfirmAndActivate(t *testing.T) {
	ctx := context.Background()
	secret := totpSecretForTest(t)

	t.Run("valid code activates and returns backup codes", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		auditLog := &recordingAuditLogger{}
		service := NewTwoFactorService(mockUserRepo, auditLog, testTOTPIssuer)
		user := &domain.User{ID: "user-1", Email: "alice@example.com"}

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		mockUserRepo.On("ActivateTwoFactor", ctx, "user-1", secret, mock.MatchedBy(func(hashes []string) bool {
			return len(hashes) == totp.DefaultNumBackupCodes
		})).Return(nil).Once()

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)

		backupCodes, err := service.ConfirmAndActivate(ctx, "user-1", secret, code, domain.EventMeta{})
		require.NoError(t, err)
		require.Len(t, backupCodes, totp.DefaultNumBackupCodes)
		for _, backupCode := range backupCodes {
			assert.Len(t, backupCode, totp.DefaultBackupCodeLength)
			assert.Equal(t, totp.Normalize(backupCode), backupCode)
		}
		assert.Equal(t, []domain.EventKind{domain.EventTwoFactorOn}, auditLog.kinds())
		mockUserRepo.AssertExpectations(t)
	})

	t.Run("wrong code does not activate", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)
		user := &domain.User{ID: "user-1", Email: "alice@example.com"}

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()

		_, err := service.ConfirmAndActivate(ctx, "user-1", secret, "000000", domain.EventMeta{})
		assert.ErrorIs(t, err, serrors.ErrInvalidTwoFactorCode)
		mockUserRepo.AssertNotCalled(t, "ActivateTwoFactor", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTwoFactorService_VerifyCode(t *testing.T) {
	ctx := context.Background()
	secret := totpSecretForTest(t)
	user := &domain.User{ID: "user-1", TwoFactorEnabled: true, TwoFactorSecret: secret}

	t.Run("valid code advances the step", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		mockUserRepo.On("AdvanceTwoFactorStep", ctx, "user-1", mock.AnythingOfType("int64")).Return(true, nil).Once()

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)
		require.NoError(t, service.VerifyCode(ctx, "user-1", code))
		mockUserRepo.AssertExpectations(t)
	})

	t.Run("replayed step is rejected", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		mockUserRepo.On("AdvanceTwoFactorStep", ctx, "user-1", mock.AnythingOfType("int64")).Return(false, nil).Once()

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)
		assert.ErrorIs(t, service.VerifyCode(ctx, "user-1", code), serrors.ErrInvalidTwoFactorCode)
	})

	t.Run("stale code is rejected", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()

		code, err := totp.GenerateCode(secret, time.Now().Add(-3*totp.Period*time.Second))
		require.NoError(t, err)
		assert.ErrorIs(t, service.VerifyCode(ctx, "user-1", code), serrors.ErrInvalidTwoFactorCode)
	})

	t.Run("not enabled", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(&domain.User{ID: "user-1"}, nil).Once()
		assert.ErrorIs(t, service.VerifyCode(ctx, "user-1", "123456"), serrors.ErrTwoFactorNotEnabled)
	})
}

func TestTwoFactorService_VerifyAny_StorageErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	secret := totpSecretForTest(t)

	_, hashedCodes, err := totp.GenerateBackupCodes(totp.DefaultNumBackupCodes, totp.DefaultBackupCodeLength)
	require.NoError(t, err)
	user := &domain.User{
		ID:                   "user-1",
		TwoFactorEnabled:     true,
		TwoFactorSecret:      secret,
		TwoFactorBackupCodes: hashedCodes,
	}

	mockUserRepo := new(MockUserRepository)
	service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

	storeErr := assert.AnError
	mockUserRepo.On("AdvanceTwoFactorStep", ctx, "user-1", mock.AnythingOfType("int64")).Return(false, storeErr).Once()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	// A failed step write is an internal fault. It must come back as such,
	// not get retried against the backup-code set as a mismatch.
	err = service.verifyAny(ctx, user, code)
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, serrors.ErrInvalidTwoFactorCode)
	mockUserRepo.AssertNotCalled(t, "RemoveBackupCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestTwoFactorService_ConsumeBackupCode(t *testing.T) {
	ctx := context.Background()

	plaintextCodes, hashedCodes, err := totp.GenerateBackupCodes(totp.DefaultNumBackupCodes, totp.DefaultBackupCodeLength)
	require.NoError(t, err)
	user := &domain.User{
		ID:                   "user-1",
		TwoFactorEnabled:     true,
		TwoFactorBackupCodes: hashedCodes,
	}

	t.Run("valid code is consumed once", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		mockUserRepo.On("RemoveBackupCode", ctx, "user-1", mock.AnythingOfType("string")).Return(true, nil).Once()

		require.NoError(t, service.ConsumeBackupCode(ctx, "user-1", plaintextCodes[0]))
		mockUserRepo.AssertExpectations(t)
	})

	t.Run("lowercase input matches", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		mockUserRepo.On("RemoveBackupCode", ctx, "user-1", mock.AnythingOfType("string")).Return(true, nil).Once()

		require.NoError(t, service.ConsumeBackupCode(ctx, "user-1", " "+strings.ToLower(plaintextCodes[1])+" "))
	})

	t.Run("already redeemed concurrently", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		mockUserRepo.On("RemoveBackupCode", ctx, "user-1", mock.AnythingOfType("string")).Return(false, nil).Once()

		assert.ErrorIs(t, service.ConsumeBackupCode(ctx, "user-1", plaintextCodes[2]), serrors.ErrInvalidTwoFactorCode)
	})

	t.Run("unknown code", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		assert.ErrorIs(t, service.ConsumeBackupCode(ctx, "user-1", "NOTACODE42"), serrors.ErrInvalidTwoFactorCode)
		mockUserRepo.AssertNotCalled(t, "RemoveBackupCode", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTwoFactorService_RegenerateBackupCodes(t *testing.T) {
	ctx := context.Background()
	mockUserRepo := new(MockUserRepository)
	service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)
	user := &domain.User{ID: "user-1", TwoFactorEnabled: true}

	mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
	mockUserRepo.On("ReplaceBackupCodes", ctx, "user-1", mock.MatchedBy(func(hashes []string) bool {
		return len(hashes) == totp.DefaultNumBackupCodes
	})).Return(nil).Once()

	codes, err := service.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, codes, totp.DefaultNumBackupCodes)
	mockUserRepo.AssertExpectations(t)
}

func TestTwoFactorService_Disable(t *testing.T) {
	ctx := context.Background()

	t.Run("disables and records event", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		auditLog := &recordingAuditLogger{}
		service := NewTwoFactorService(mockUserRepo, auditLog, testTOTPIssuer)
		user := &domain.User{ID: "user-1", TwoFactorEnabled: true}

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(user, nil).Once()
		mockUserRepo.On("DisableTwoFactor", ctx, "user-1").Return(nil).Once()

		require.NoError(t, service.Disable(ctx, "user-1", domain.EventMeta{}))
		assert.Equal(t, []domain.EventKind{domain.EventTwoFactorOff}, auditLog.kinds())
		mockUserRepo.AssertExpectations(t)
	})

	t.Run("not enabled", func(t *testing.T) {
		mockUserRepo := new(MockUserRepository)
		service := NewTwoFactorService(mockUserRepo, nil, testTOTPIssuer)

		mockUserRepo.On("GetUserByID", ctx, "user-1").Return(&domain.User{ID: "user-1"}, nil).Once()
		assert.ErrorIs(t, service.Disable(ctx, "user-1", domain.EventMeta{}), serrors.ErrTwoFactorNotEnabled)
	})
}
