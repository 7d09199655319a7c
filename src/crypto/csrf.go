package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/zerovault/api/src/apperr"
)

const csrfTokenSize = 32

// GenerateCSRFToken returns a random 32-byte token as URL-safe base64
// without padding.
func GenerateCSRFToken() (string, error) {
	token := make([]byte, csrfTokenSize)
	if _, err := io.ReadFull(rand.Reader, token); err != nil {
		return "", apperr.Wrap(apperr.Crypto, "failed to generate CSRF token", err)
	}
	return base64.RawURLEncoding.EncodeToString(token), nil
}
