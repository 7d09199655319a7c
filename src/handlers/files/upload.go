// Package files holds the file transfer and management endpoints.
package files

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/middleware"
	"github.com/zerovault/api/src/services/content"
)

// Per-field timeout while reading chunk multipart bodies.
const multipartFieldTimeout = 300 * time.Second

// InitUploadRequest is the upload/init request body.
type InitUploadRequest struct {
	Filename     string `json:"filename" binding:"required"`
	FileSize     int64  `json:"file_size" binding:"required"`
	TotalChunks  int    `json:"total_chunks" binding:"required"`
	ExpectedHash string `json:"expected_hash"`
}

// InitUploadHandler starts a chunked upload.
func InitUploadHandler(uploads *content.UploadService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InitUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}

		session := middleware.SessionFromContext(c)
		res, err := uploads.Init(c.Request.Context(), session.UserID, req.Filename, req.FileSize, req.TotalChunks, req.ExpectedHash)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// UploadChunkHandler accepts one chunk as multipart form data with fields
// upload_session_id, chunk_index and chunk. Fields are read sequentially
// under a 300-second deadline.
func UploadChunkHandler(uploads *content.UploadService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := http.NewResponseController(c.Writer)
		if err := rc.SetReadDeadline(time.Now().Add(multipartFieldTimeout)); err != nil {
			logger.WithError(err).Debug("Read deadline not supported")
		}

		uploadID, index, chunk, err := readChunkForm(c)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		session := middleware.SessionFromContext(c)
		progress, err := uploads.SaveChunk(c.Request.Context(), session.UserID, session.DEK, uploadID, index, chunk)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, progress)
	}
}

func readChunkForm(c *gin.Context) (uploadID string, index int, chunk []byte, err error) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		return "", 0, nil, apperr.Wrap(apperr.Multipart, "request is not multipart", err)
	}

	index = -1
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, nil, apperr.Wrap(apperr.Multipart, "failed to read multipart field", err)
		}

		switch part.FormName() {
		case "upload_session_id":
			data, err := io.ReadAll(part)
			if err != nil {
				return "", 0, nil, apperr.Wrap(apperr.Multipart, "failed to read upload_session_id", err)
			}
			uploadID = string(data)
		case "chunk_index":
			data, err := io.ReadAll(part)
			if err != nil {
				return "", 0, nil, apperr.Wrap(apperr.Multipart, "failed to read chunk_index", err)
			}
			index, err = strconv.Atoi(string(data))
			if err != nil {
				return "", 0, nil, apperr.Wrap(apperr.Validation, "chunk_index is not a number", err)
			}
		case "chunk":
			chunk, err = io.ReadAll(part)
			if err != nil {
				return "", 0, nil, apperr.Wrap(apperr.Multipart, "failed to read chunk data", err)
			}
		}
		part.Close()
	}

	if uploadID == "" {
		return "", 0, nil, apperr.New(apperr.Multipart, "missing upload_session_id field")
	}
	if index < 0 {
		return "", 0, nil, apperr.New(apperr.Multipart, "missing chunk_index field")
	}
	if chunk == nil {
		return "", 0, nil, apperr.New(apperr.Multipart, "missing chunk field")
	}
	return uploadID, index, chunk, nil
}

// FinalizeUploadRequest is the upload/finalize request body.
type FinalizeUploadRequest struct {
	UploadSessionID string     `json:"upload_session_id" binding:"required"`
	FolderID        *uuid.UUID `json:"folder_id"`
}

// FinalizeUploadHandler commits a completed upload.
func FinalizeUploadHandler(uploads *content.UploadService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req FinalizeUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}

		session := middleware.SessionFromContext(c)
		file, err := uploads.Finalize(c.Request.Context(), session.UserID, session.DEK, req.UploadSessionID, req.FolderID)
		if err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, file)
	}
}

// CancelUploadRequest is the upload/cancel request body.
type CancelUploadRequest struct {
	UploadSessionID string `json:"upload_session_id" binding:"required"`
}

// CancelUploadHandler aborts an upload and reclaims staged chunks.
func CancelUploadHandler(uploads *content.UploadService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, logger, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}

		session := middleware.SessionFromContext(c)
		if err := uploads.Cancel(c.Request.Context(), session.UserID, req.UploadSessionID); err != nil {
			apperr.Respond(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "upload cancelled"})
	}
}
