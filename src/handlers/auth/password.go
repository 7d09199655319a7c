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

// ChangePasswordRequest is the change-password request body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePasswordHandler rewraps the user's DEK under the new password and
// stores the new login hash. The DEK value never changes, so existing
// files and the current session keep working.
func ChangePasswordHandler(users *auth_repo.UserRepository, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChangePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}
		if len(req.NewPassword) < 8 || len(req.NewPassword) > 128 {
			apperr.Respond(c, logger, apperr.New(apperr.Validation, "password must be between 8 and 128 characters"))
			return
		}

		session := middleware.SessionFromContext(c)
		if session == nil {
			apperr.Respond(c, logger, apperr.New(apperr.Authentication, "not authenticated"))
			return
		}

		user, err := users.FindByID(c.Request.Context(), session.UserID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}
		if user == nil || !security.VerifyPassword(req.CurrentPassword, user.Password) {
			apperr.Respond(c, logger, apperr.New(apperr.Authentication, "invalid credentials"))
			return
		}

		newWrapped, newSalt, err := crypto.RewrapDEK(user.EncryptedDEK, user.DEKSalt, req.CurrentPassword, req.NewPassword)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		newHash, err := security.HashPassword(req.NewPassword)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		if err := users.UpdatePasswordAndDEK(c.Request.Context(), user.ID, newHash, newWrapped, newSalt); err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		logger.WithField("user_id", user.ID).Info("Password changed")
		c.JSON(http.StatusOK, gin.H{"message": "password changed"})
	}
}
