package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerovault/api/src/apperr"
)

func TestDEKRoundTrip(t *testing.T) {
	wrapped, salt, err := NewUserDEK("SecurePass123!@#")
	require.NoError(t, err)
	// ciphertext(32) + tag(16) + nonce(12)
	assert.Equal(t, KeySize+16+NonceSize, len(wrapped))

	dek, err := UnwrapDEK(wrapped, salt, "SecurePass123!@#")
	require.NoError(t, err)
	assert.Len(t, dek, KeySize)
}

func TestUnwrapDEK_WrongPassword(t *testing.T) {
	wrapped, salt, err := NewUserDEK("correct-password")
	require.NoError(t, err)

	_, err = UnwrapDEK(wrapped, salt, "wrong-password")
	require.Error(t, err)
	assert.Equal(t, apperr.Authentication, apperr.KindOf(err))
}

func TestUnwrapDEK_MalformedInput(t *testing.T) {
	_, salt, err := NewUserDEK("pw")
	require.NoError(t, err)

	for _, wrapped := range [][]byte{nil, {0x01}, make([]byte, NonceSize)} {
		_, err := UnwrapDEK(wrapped, salt, "pw")
		require.Error(t, err)
		assert.Equal(t, apperr.Authentication, apperr.KindOf(err))
	}
}

func TestUnwrapDEK_BadSalt(t *testing.T) {
	wrapped, _, err := NewUserDEK("pw")
	require.NoError(t, err)

	_, err = UnwrapDEK(wrapped, []byte("!!!not-base64!!!"), "pw")
	require.Error(t, err)
	assert.Equal(t, apperr.Authentication, apperr.KindOf(err))
}

func TestRewrapDEK_PreservesKey(t *testing.T) {
	wrapped, salt, err := NewUserDEK("old-password-123")
	require.NoError(t, err)

	original, err := UnwrapDEK(wrapped, salt, "old-password-123")
	require.NoError(t, err)

	newWrapped, newSalt, err := RewrapDEK(wrapped, salt, "old-password-123", "new-password-456")
	require.NoError(t, err)
	assert.NotEqual(t, salt, newSalt)

	rewrapped, err := UnwrapDEK(newWrapped, newSalt, "new-password-456")
	require.NoError(t, err)
	assert.Equal(t, original, rewrapped)

	// old password no longer opens the new wrapping
	_, err = UnwrapDEK(newWrapped, newSalt, "old-password-123")
	require.Error(t, err)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	k1, err := DeriveKey("password", salt)
	require.NoError(t, err)
	k2, err := DeriveKey("password", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("other", salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestGenerateCSRFToken(t *testing.T) {
	tok, err := GenerateCSRFToken()
	require.NoError(t, err)
	// 32 bytes → 43 chars of unpadded base64
	assert.Len(t, tok, 43)
	assert.NotContains(t, tok, "=")

	tok2, err := GenerateCSRFToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)
}
