// Package auth holds the account endpoints: register, login, logout and
// password change.
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zerovault/api/src/middleware"
)

// Cookie lifetimes in seconds.
const (
	SessionCookieMaxAge = 7 * 24 * 3600
	CSRFCookieMaxAge    = 24 * 3600
)

func isProduction(c *gin.Context) bool {
	return c.GetString("environment") == "production"
}

// SetAuthCookies sets the HttpOnly session cookie and the script-readable
// CSRF cookie used for the double-submit check.
func SetAuthCookies(c *gin.Context, sessionID, csrfToken string) {
	secure := isProduction(c) || c.Request.TLS != nil

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		middleware.SessionCookie,
		sessionID,
		SessionCookieMaxAge,
		"/",
		"",
		secure,
		true, // HttpOnly
	)

	// Readable by frontend scripts so the token can be echoed in the
	// X-CSRF-Token header.
	c.SetCookie(
		middleware.CSRFCookie,
		csrfToken,
		CSRFCookieMaxAge,
		"/",
		"",
		secure,
		false,
	)
}

// ClearAuthCookies removes both cookies on logout.
func ClearAuthCookies(c *gin.Context) {
	secure := isProduction(c) || c.Request.TLS != nil

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", secure, true)
	c.SetCookie(middleware.CSRFCookie, "", -1, "/", "", secure, false)
}
