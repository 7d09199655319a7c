package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	"github.com/zerovault/api/src/middleware"
	auth_repo "github.com/zerovault/api/src/repository/auth"
	"github.com/zerovault/api/src/services/security"
)

// LoginRequest is the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler authenticates a user, unwraps their DEK with the supplied
// password and opens a session carrying it. Wrong username, wrong password
// and unwrappable DEK all answer the same way.
func LoginHandler(users *auth_repo.UserRepository, sessions *security.SessionService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}

		user, err := users.FindByUsername(c.Request.Context(), req.Username)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}
		if user == nil || !security.VerifyPassword(req.Password, user.Password) {
			apperr.Respond(c, logger, apperr.New(apperr.Authentication, "invalid credentials"))
			return
		}

		dek, err := crypto.UnwrapDEK(user.EncryptedDEK, user.DEKSalt, req.Password)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		sessionID, csrfToken, err := sessions.Create(c.Request.Context(), user.ID, dek)
		crypto.Wipe(dek)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		SetAuthCookies(c, sessionID, csrfToken)

		c.JSON(http.StatusOK, gin.H{
			"id":         user.ID,
			"name":       user.Name,
			"username":   user.Username,
			"csrf_token": csrfToken,
		})
	}
}

// LogoutHandler deletes the session and clears both cookies.
func LogoutHandler(sessions *security.SessionService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetString(middleware.ContextSessionID)
		if sessionID != "" {
			sessions.Delete(c.Request.Context(), sessionID)
		}
		ClearAuthCookies(c)

		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	}
}
