// Package middleware holds the gin middleware chain: CORS, session
// authentication, CSRF double-submit and request logging.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/models"
	"github.com/zerovault/api/src/services/security"
)

// Context keys set by RequireSession.
const (
	ContextUserID    = "user_id"
	ContextSession   = "session"
	ContextSessionID = "session_id"

	// SessionCookie is the HttpOnly session cookie name.
	SessionCookie = "session_id"
	// CSRFCookie is the script-readable CSRF cookie name.
	CSRFCookie = "csrf_token"
	// CSRFHeader carries the CSRF token on mutating requests.
	CSRFHeader = "X-CSRF-Token"
)

// RequireSession authenticates the request from its session cookie and
// injects the session (including the unwrapped DEK) into the gin context.
func RequireSession(sessions *security.SessionService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(SessionCookie)
		if err != nil || sessionID == "" {
			apperr.Respond(c, logger, apperr.New(apperr.Authorization, "not authenticated"))
			return
		}

		session, err := sessions.Load(c.Request.Context(), sessionID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}
		if session == nil {
			apperr.Respond(c, logger, apperr.New(apperr.Authorization, "session expired"))
			return
		}

		c.Set(ContextUserID, session.UserID)
		c.Set(ContextSession, session)
		c.Set(ContextSessionID, sessionID)
		c.Next()
	}
}

// SessionFromContext returns the session injected by RequireSession.
func SessionFromContext(c *gin.Context) *models.Session {
	if v, ok := c.Get(ContextSession); ok {
		if session, ok := v.(*models.Session); ok {
			return session
		}
	}
	return nil
}
