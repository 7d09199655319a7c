package auth

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	auth_repo "github.com/zerovault/api/src/repository/auth"
	"github.com/zerovault/api/src/services/security"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,255}$`)

// RegisterRequest is the register request body.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func validateCredentials(username, password string) error {
	if !usernamePattern.MatchString(username) {
		return apperr.New(apperr.Validation, "username must be 3-255 characters of letters, digits, '_' or '-'")
	}
	if len(password) < 8 || len(password) > 128 {
		return apperr.New(apperr.Validation, "password must be between 8 and 128 characters")
	}
	return nil
}

// RegisterHandler creates a new account and opens a session for it. The
// user's DEK is generated here and stored only in password-wrapped form; the
// server cannot read it back without the password.
func RegisterHandler(users *auth_repo.UserRepository, sessions *security.SessionService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}

		if req.Name == "" || len(req.Name) > 255 {
			apperr.Respond(c, logger, apperr.New(apperr.Validation, "name must be 1-255 characters"))
			return
		}
		if err := validateCredentials(req.Username, req.Password); err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		passwordHash, err := security.HashPassword(req.Password)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		wrappedDEK, salt, err := crypto.NewUserDEK(req.Password)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		user, err := users.Create(c.Request.Context(), req.Name, req.Username, passwordHash, wrappedDEK, salt)
		if err != nil {
			if errors.Is(err, auth_repo.ErrUsernameTaken) {
				apperr.Respond(c, logger, apperr.New(apperr.Validation, "username already taken"))
				return
			}
			apperr.Respond(c, logger, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"user_id":  user.ID,
			"username": user.Username,
		}).Info("User registered")

		// Log the fresh account in right away.
		dek, err := crypto.UnwrapDEK(wrappedDEK, salt, req.Password)
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

		c.JSON(http.StatusCreated, gin.H{
			"id":         user.ID,
			"name":       user.Name,
			"username":   user.Username,
			"csrf_token": csrfToken,
		})
	}
}
