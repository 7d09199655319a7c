package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/services/security"
)

// RequireCSRF enforces the double-submit check on mutating methods: the
// X-CSRF-Token header must match the csrf_token cookie and the token must
// still exist in Redis, bound to the caller's session. Runs after
// RequireSession.
func RequireCSRF(sessions *security.SessionService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		header := c.GetHeader(CSRFHeader)
		cookie, err := c.Cookie(CSRFCookie)
		if err != nil || header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
			apperr.Respond(c, logger, apperr.New(apperr.Authentication, "CSRF token missing or mismatched"))
			return
		}

		sessionID := c.GetString(ContextSessionID)
		ok, err := sessions.ValidateCSRFToken(c.Request.Context(), header, sessionID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}
		if !ok {
			apperr.Respond(c, logger, apperr.New(apperr.Authentication, "CSRF token invalid or expired"))
			return
		}

		c.Next()
	}
}
