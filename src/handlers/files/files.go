package files

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/middleware"
	"github.com/zerovault/api/src/services/content"
)

// ListFilesHandler returns the user's live files, newest first.
// Query: limit (default 100, max 500), offset.
func ListFilesHandler(files *content.FileService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
		offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

		session := middleware.SessionFromContext(c)
		list, err := files.List(c.Request.Context(), session.UserID, limit, offset)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"files": list, "count": len(list)})
	}
}

// DeleteFileHandler soft-deletes a file and releases its quota.
func DeleteFileHandler(files *content.FileService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			apperr.Respond(c, logger, apperr.New(apperr.Validation, "invalid file id"))
			return
		}

		session := middleware.SessionFromContext(c)
		released, err := files.Delete(c.Request.Context(), session.UserID, fileID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "file deleted", "released_bytes": released})
	}
}

// StorageInfoHandler returns the user's quota snapshot.
func StorageInfoHandler(files *content.FileService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := middleware.SessionFromContext(c)
		info, err := files.Storage(c.Request.Context(), session.UserID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, info)
	}
}

// RecalculateQuotaHandler rebuilds the quota ledger from live file rows.
func RecalculateQuotaHandler(files *content.FileService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := middleware.SessionFromContext(c)
		info, err := files.RecalculateQuota(c.Request.Context(), session.UserID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, info)
	}
}
