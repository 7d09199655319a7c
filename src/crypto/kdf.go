package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/zerovault/api/src/apperr"
)

// Argon2id parameters for DEK key derivation. Fixed: changing them would
// orphan every stored wrapped DEK.
const (
	kdfMemoryKiB   = 19 * 1024
	kdfIterations  = 3
	kdfParallelism = 6
	kdfSaltSize    = 16
)

// GenerateSalt returns a fresh 16-byte salt encoded as a standard salt
// string (base64 without padding). The encoded form is what gets stored.
func GenerateSalt() ([]byte, error) {
	raw := make([]byte, kdfSaltSize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "failed to generate salt", err)
	}
	return []byte(base64.RawStdEncoding.EncodeToString(raw)), nil
}

// DeriveKey derives a 32-byte key from a password and a stored salt string.
// The salt string is decoded back to its raw bytes so the derivation state
// matches the one used at wrap time.
func DeriveKey(password string, saltString []byte) ([]byte, error) {
	raw, err := base64.RawStdEncoding.DecodeString(string(saltString))
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, "invalid salt format", err)
	}
	if len(raw) != kdfSaltSize {
		return nil, apperr.Newf(apperr.Crypto, "invalid salt size: %d", len(raw))
	}

	return argon2.IDKey([]byte(password), raw, kdfIterations, kdfMemoryKiB, kdfParallelism, KeySize), nil
}
