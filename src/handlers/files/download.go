package files

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/middleware"
	"github.com/zerovault/api/src/services/content"
)

// DownloadHandler streams a file's plaintext. Headers are committed before
// the first chunk is decrypted, so a mid-stream failure can only abort the
// connection, not change the status code.
func DownloadHandler(downloads *content.DownloadService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			apperr.Respond(c, logger, apperr.New(apperr.Validation, "invalid file id"))
			return
		}

		session := middleware.SessionFromContext(c)
		file, release, err := downloads.Prepare(c.Request.Context(), session.UserID, fileID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}
		defer release()

		c.Header("Content-Type", "application/octet-stream")
		c.Header("Content-Length", strconv.FormatInt(file.FileSize, 10))
		c.Header("Content-Disposition",
			fmt.Sprintf(`attachment; filename="%s"`, content.SanitizeFilename(file.OriginalFilename)))
		c.Status(http.StatusOK)

		if err := downloads.Stream(c.Request.Context(), file, c.Writer); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"user_id": session.UserID,
				"file_id": fileID,
			}).Error("Download stream aborted")
			c.Abort()
		}
	}
}
