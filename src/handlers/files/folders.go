package files

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/middleware"
	files_repo "github.com/zerovault/api/src/repository/files"
)

// CreateFolderRequest is the folder creation body.
type CreateFolderRequest struct {
	Name           string     `json:"name" binding:"required"`
	ParentFolderID *uuid.UUID `json:"parent_folder_id"`
	Description    *string    `json:"description"`
}

// CreateFolderHandler creates a folder, optionally under a parent.
func CreateFolderHandler(folders *files_repo.FolderRepository, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateFolderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}
		if len(req.Name) > 255 {
			apperr.Respond(c, logger, apperr.New(apperr.Validation, "folder name too long"))
			return
		}

		session := middleware.SessionFromContext(c)
		folder, err := folders.Create(c.Request.Context(), session.UserID, req.ParentFolderID, req.Name, req.Description)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusCreated, folder)
	}
}

// ListFolderContentsHandler returns the subfolders and files directly
// under a folder; without a folder_id query it lists the root.
func ListFolderContentsHandler(folders *files_repo.FolderRepository, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var folderID *uuid.UUID
		if raw := c.Query("folder_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				apperr.Respond(c, logger, apperr.New(apperr.Validation, "invalid folder id"))
				return
			}
			folderID = &id
		}

		session := middleware.SessionFromContext(c)
		subfolders, files, err := folders.ListContents(c.Request.Context(), session.UserID, folderID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"folders": subfolders, "files": files})
	}
}

// GetFolderHandler returns one folder with its live file stats.
func GetFolderHandler(folders *files_repo.FolderRepository, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		folderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			apperr.Respond(c, logger, apperr.New(apperr.Validation, "invalid folder id"))
			return
		}

		session := middleware.SessionFromContext(c)
		folder, err := folders.GetWithStats(c.Request.Context(), session.UserID, folderID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}
		if folder == nil {
			apperr.Respond(c, logger, apperr.New(apperr.NotFound, "folder not found"))
			return
		}

		c.JSON(http.StatusOK, folder)
	}
}

// DeleteFolderHandler removes a folder subtree. Files inside are detached
// to the root, not deleted.
func DeleteFolderHandler(folders *files_repo.FolderRepository, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		folderID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			apperr.Respond(c, logger, apperr.New(apperr.Validation, "invalid folder id"))
			return
		}

		session := middleware.SessionFromContext(c)
		if err := folders.DeleteRecursive(c.Request.Context(), session.UserID, folderID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				apperr.Respond(c, logger, apperr.New(apperr.NotFound, "folder not found"))
				return
			}
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "folder deleted"})
	}
}
