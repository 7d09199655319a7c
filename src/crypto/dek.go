package crypto

import (
	"github.com/zerovault/api/src/apperr"
)

// The wrapped DEK is a single byte string: AES-GCM ciphertext of the
// 32-byte DEK under the password-derived key, with the 12-byte nonce
// appended at the end.

// NewUserDEK generates a random 32-byte DEK and wraps it under a key
// derived from the user's password with a fresh salt. Returns the wrapped
// DEK and the salt string to store alongside it.
func NewUserDEK(password string) (wrapped, salt []byte, err error) {
	dek, err := GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	defer dek.Wipe()

	salt, err = GenerateSalt()
	if err != nil {
		return nil, nil, err
	}

	wrapped, err = wrapDEK(dek.Bytes(), password, salt)
	if err != nil {
		return nil, nil, err
	}
	return wrapped, salt, nil
}

// UnwrapDEK recovers the plaintext DEK from its password wrapping. Any
// failure (wrong password, tag mismatch, malformed input) surfaces as an
// Authentication error: this is the effective password check on every
// operation that needs the DEK.
func UnwrapDEK(wrapped, salt []byte, password string) ([]byte, error) {
	if len(wrapped) <= NonceSize {
		return nil, apperr.New(apperr.Authentication, "invalid credentials")
	}

	key, err := DeriveKey(password, salt)
	if err != nil {
		return nil, apperr.New(apperr.Authentication, "invalid credentials")
	}
	defer Wipe(key)

	split := len(wrapped) - NonceSize
	ciphertext, nonce := wrapped[:split], wrapped[split:]

	dek, err := Decrypt(key, ciphertext, nonce)
	if err != nil {
		return nil, apperr.New(apperr.Authentication, "invalid credentials")
	}
	if len(dek) != KeySize {
		Wipe(dek)
		return nil, apperr.New(apperr.Authentication, "invalid credentials")
	}
	return dek, nil
}

// RewrapDEK re-encrypts an existing DEK under a key derived from the new
// password with a fresh salt. The DEK value itself is preserved, so files
// encrypted before the password change keep opening.
func RewrapDEK(wrapped, oldSalt []byte, oldPassword, newPassword string) (newWrapped, newSalt []byte, err error) {
	dek, err := UnwrapDEK(wrapped, oldSalt, oldPassword)
	if err != nil {
		return nil, nil, err
	}
	defer Wipe(dek)

	newSalt, err = GenerateSalt()
	if err != nil {
		return nil, nil, err
	}

	newWrapped, err = wrapDEK(dek, newPassword, newSalt)
	if err != nil {
		return nil, nil, err
	}
	return newWrapped, newSalt, nil
}

func wrapDEK(dek []byte, password string, salt []byte) ([]byte, error) {
	key, err := DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	ciphertext, nonce, err := Encrypt(key, dek)
	if err != nil {
		return nil, err
	}

	wrapped := make([]byte, 0, len(ciphertext)+len(nonce))
	wrapped = append(wrapped, ciphertext...)
	wrapped = append(wrapped, nonce...)
	return wrapped, nil
}
