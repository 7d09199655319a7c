package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/zerovault/api/src/apperr"
)

// Login hash parameters. These are independent of the DEK wrap KDF: the
// stored password hash only authenticates, it never derives key material.
const (
	loginHashMemoryKiB  = 19 * 1024
	loginHashIterations = 3
	loginHashThreads    = 6
	loginHashSaltSize   = 16
	loginHashKeyLen     = 32
)

// HashPassword returns a PHC-formatted Argon2id hash of password, suitable
// for storage in the users table.
func HashPassword(password string) (string, error) {
	salt := make([]byte, loginHashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to generate password salt", err)
	}

	hash := argon2.IDKey([]byte(password), salt, loginHashIterations, loginHashMemoryKiB, loginHashThreads, loginHashKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, loginHashMemoryKiB, loginHashIterations, loginHashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks password against a PHC-formatted Argon2id hash in
// constant time. A malformed hash verifies as false rather than erroring,
// so login failures stay indistinguishable to the caller.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory uint32
	var iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
