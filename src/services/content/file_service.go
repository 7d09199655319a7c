package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
	auth_repo "github.com/zerovault/api/src/repository/auth"
	files_repo "github.com/zerovault/api/src/repository/files"
)

// FileService covers the committed-file operations outside the upload and
// download paths: listing, deletion and the quota views.
type FileService struct {
	db     *database.DB
	users  *auth_repo.UserRepository
	files  *files_repo.FileRepository
	logger *logrus.Logger
}

// NewFileService creates a file service.
func NewFileService(db *database.DB, users *auth_repo.UserRepository, files *files_repo.FileRepository, logger *logrus.Logger) *FileService {
	return &FileService{db: db, users: users, files: files, logger: logger}
}

// List returns the user's live files, newest first.
func (s *FileService) List(ctx context.Context, userID uuid.UUID, limit, offset int64) ([]models.File, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.files.List(ctx, userID, limit, offset)
}

// Delete soft-deletes a file and releases its bytes from the quota ledger
// in one transaction, returning how many bytes were released. Staged chunk
// files stay on disk for the sweep tooling; the row flip is what frees the
// quota.
func (s *FileService) Delete(ctx context.Context, userID, fileID uuid.UUID) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	size, err := s.files.SoftDeleteTx(ctx, tx, fileID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.New(apperr.NotFound, "file not found")
		}
		return 0, fmt.Errorf("soft delete file: %w", err)
	}

	if err := s.users.ReleaseUsage(ctx, tx, userID, size); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"file_id": fileID,
		"size":    size,
	}).Info("File deleted")
	return size, nil
}

// StorageInfo is the quota view returned to clients.
type StorageInfo struct {
	QuotaBytes     int64   `json:"storage_quota_bytes"`
	UsedBytes      int64   `json:"storage_used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

func newStorageInfo(quota, used int64) *StorageInfo {
	info := &StorageInfo{
		QuotaBytes:     quota,
		UsedBytes:      used,
		AvailableBytes: quota - used,
	}
	if quota > 0 {
		info.UsagePercent = float64(used) / float64(quota) * 100
	}
	return info
}

// Storage returns the user's current quota snapshot.
func (s *FileService) Storage(ctx context.Context, userID uuid.UUID) (*StorageInfo, error) {
	q, err := s.users.StorageInfo(ctx, userID)
	if err != nil {
		return nil, err
	}
	return newStorageInfo(q.QuotaBytes, q.UsedBytes), nil
}

// RecalculateQuota rebuilds used_bytes from the sum of live file sizes in
// a single transaction. Operator-triggered reconciliation for ledger
// drift.
func (s *FileService) RecalculateQuota(ctx context.Context, userID uuid.UUID) (*StorageInfo, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recalculate: %w", err)
	}
	defer tx.Rollback()

	quota, err := s.users.QuotaForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	used, err := s.files.SumLiveBytesTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetUsage(ctx, tx, userID, used); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recalculate: %w", err)
	}

	if used != quota.UsedBytes {
		s.logger.WithFields(logrus.Fields{
			"user_id":  userID,
			"was_used": quota.UsedBytes,
			"now_used": used,
		}).Warn("Quota ledger drift corrected")
	}

	return newStorageInfo(quota.QuotaBytes, used), nil
}
