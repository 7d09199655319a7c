// Package crypto implements the vault's key hierarchy primitives: the
// AES-256-GCM cipher, the Argon2id password KDF, the per-user DEK envelope
// and CSRF token generation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/zerovault/api/src/apperr"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// NonceSize is the AES-GCM nonce size in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag size in bytes. Ciphertext
	// length is always plaintext length plus TagSize.
	TagSize = 16
)

// SecureKey holds a 32-byte key and zeroes it on release. Callers must
// Wipe a key once it is no longer needed.
type SecureKey struct {
	key [KeySize]byte
}

// NewSecureKey copies key material into a SecureKey.
func NewSecureKey(key []byte) (*SecureKey, error) {
	if len(key) != KeySize {
		return nil, apperr.Newf(apperr.Crypto, "invalid key size: %d", len(key))
	}
	sk := &SecureKey{}
	copy(sk.key[:], key)
	return sk, nil
}

// Bytes returns the backing key bytes. The slice aliases the key; do not
// retain it past Wipe.
func (sk *SecureKey) Bytes() []byte {
	return sk.key[:]
}

// Wipe overwrites the key material.
func (sk *SecureKey) Wipe() {
	for i := range sk.key {
		sk.key[i] = 0
	}
}

// Wipe zeroes a byte slice holding key material or plaintext.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() (*SecureKey, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "failed to generate key", err)
	}
	defer Wipe(key)
	return NewSecureKey(key)
}

// GenerateNonce returns a fresh random 96-bit nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "failed to generate nonce", err)
	}
	return nonce, nil
}

// Encrypt seals plaintext under key with a fresh random nonce and returns
// the ciphertext (tag included) and the nonce separately.
func Encrypt(key []byte, plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = GenerateNonce()
	if err != nil {
		return nil, nil, err
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens ciphertext under key and nonce. Fails with a Crypto error
// if the authentication tag does not verify.
func Decrypt(key []byte, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != NonceSize {
		return nil, apperr.Newf(apperr.Crypto, "invalid nonce size: %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "decryption failed", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, apperr.Newf(apperr.Crypto, "invalid key size: %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "GCM init failed", err)
	}
	return gcm, nil
}
