package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerovault/api/src/apperr"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)
	// ciphertext carries the 16-byte GCM tag
	assert.Equal(t, len(plaintext)+16, len(ciphertext))

	decrypted, err := Decrypt(key, ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("same input")

	_, nonce1, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	_, nonce2, err := Encrypt(key, plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, nonce1, nonce2)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	key := randomKey(t)
	ciphertext, nonce, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF

	_, err = Decrypt(key, ciphertext, nonce)
	require.Error(t, err)
	assert.Equal(t, apperr.Crypto, apperr.KindOf(err))
}

func TestDecrypt_WrongKey(t *testing.T) {
	ciphertext, nonce, err := Encrypt(randomKey(t), []byte("payload"))
	require.NoError(t, err)

	_, err = Decrypt(randomKey(t), ciphertext, nonce)
	require.Error(t, err)
	assert.Equal(t, apperr.Crypto, apperr.KindOf(err))
}

func TestEncrypt_RejectsBadKeySize(t *testing.T) {
	_, _, err := Encrypt(make([]byte, 16), []byte("payload"))
	require.Error(t, err)

	_, err = Decrypt(make([]byte, 31), []byte("ct"), make([]byte, NonceSize))
	require.Error(t, err)
}

func TestSecureKeyWipe(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	require.False(t, bytes.Equal(key.Bytes(), make([]byte, KeySize)))

	key.Wipe()
	assert.Equal(t, make([]byte, KeySize), key.Bytes())
}
