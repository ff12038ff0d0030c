package totp

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateSecret(t *testing.T) {
	key, err := GenerateSecret("Keygate", "alice@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, key.Secret())
	assert.Contains(t, key.URL(), "otpauth://totp/")

	uri, err := url.Parse(key.URL())
	require.NoError(t, err)
	assert.Contains(t, uri.Path, "alice@example.com")
	assert.Equal(t, "Keygate", uri.Query().Get("issuer"))
}

func TestValidateCode(t *testing.T) {
	key, err := GenerateSecret("Keygate", "alice@example.com")
	require.NoError(t, err)
	secret := key.Secret()
	now := time.Now()

	t.Run("current step validates", func(t *testing.T) {
		code, err := GenerateCode(secret, now)
		require.NoError(t, err)

		ok, step, err := ValidateCode(secret, code, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, now.Unix()/Period, step)
	})

	t.Run("previous and next step validate", func(t *testing.T) {
		for _, offset := range []time.Duration{-Period * time.Second, Period * time.Second} {
			code, err := GenerateCode(secret, now.Add(offset))
			require.NoError(t, err)

			ok, step, err := ValidateCode(secret, code, now)
			require.NoError(t, err)
			assert.True(t, ok, "offset %v should be inside the window", offset)
			assert.Equal(t, now.Add(offset).Unix()/Period, step, "matched step reflects the offset")
		}
	})

	t.Run("code outside the window fails", func(t *testing.T) {
		for _, offset := range []time.Duration{-3 * Period * time.Second, 3 * Period * time.Second} {
			code, err := GenerateCode(secret, now.Add(offset))
			require.NoError(t, err)

			ok, _, err := ValidateCode(secret, code, now)
			require.NoError(t, err)
			assert.False(t, ok, "offset %v should be outside the window", offset)
		}
	})

	t.Run("wrong code fails", func(t *testing.T) {
		ok, _, err := ValidateCode(secret, "000000", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed input is a mismatch", func(t *testing.T) {
		ok, _, err := ValidateCode(secret, "not-a-code", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGenerateBackupCodes(t *testing.T) {
	plaintextCodes, hashedCodes, err := GenerateBackupCodes(DefaultNumBackupCodes, DefaultBackupCodeLength)
	require.NoError(t, err)
	require.Len(t, plaintextCodes, DefaultNumBackupCodes)
	require.Len(t, hashedCodes, DefaultNumBackupCodes)

	seen := make(map[string]bool)
	for i, code := range plaintextCodes {
		assert.Len(t, code, DefaultBackupCodeLength)
		assert.Equal(t, Normalize(code), code, "codes are already normalized")
		assert.False(t, seen[code], "codes are unique")
		seen[code] = true

		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashedCodes[i]), []byte(code)))
	}
}

func TestFindBackupCode(t *testing.T) {
	plaintextCodes, hashedCodes, err := GenerateBackupCodes(3, DefaultBackupCodeLength)
	require.NoError(t, err)

	t.Run("finds a stored code", func(t *testing.T) {
		idx, found := FindBackupCode(hashedCodes, plaintextCodes[1])
		assert.True(t, found)
		assert.Equal(t, 1, idx)
	})

	t.Run("case-insensitive after normalization", func(t *testing.T) {
		idx, found := FindBackupCode(hashedCodes, Normalize("  "+plaintextCodes[2]+"  "))
		assert.True(t, found)
		assert.Equal(t, 2, idx)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, found := FindBackupCode(hashedCodes, "MISSING123")
		assert.False(t, found)
	})

	t.Run("empty set", func(t *testing.T) {
		_, found := FindBackupCode(nil, plaintextCodes[0])
		assert.False(t, found)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ABCD234XYZ", Normalize(" abcd234xyz "))
	assert.Equal(t, "", Normalize("   "))
}
