// Package files_repo persists committed file records and folders.
package files_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
)

const fileColumns = `id, user_id, folder_id, original_filename, total_chunks,
	chunks_metadata, encrypted_dek, nonce, dek_version, file_size, mime_type,
	checksum_sha256, upload_status, uploaded_at, is_deleted, deleted_at, access_count`

// FileRepository reads and writes the files table.
type FileRepository struct {
	db     *database.DB
	logger *logrus.Logger
}

// NewFileRepository creates a file repository.
func NewFileRepository(db *database.DB, logger *logrus.Logger) *FileRepository {
	return &FileRepository{db: db, logger: logger}
}

// CreateTx inserts a completed file record inside tx, so the insert commits
// atomically with the quota debit.
func (r *FileRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, file *models.File) error {
	query := `
		INSERT INTO files (
			id, user_id, folder_id, original_filename, total_chunks,
			chunks_metadata, encrypted_dek, nonce, dek_version, file_size,
			mime_type, checksum_sha256, upload_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'completed')`
	_, err := tx.ExecContext(ctx, query,
		file.ID, file.UserID, file.FolderID, file.OriginalFilename, file.TotalChunks,
		file.ChunksMetadata, file.EncryptedDEK, file.Nonce, file.DEKVersion, file.FileSize,
		file.MimeType, file.ChecksumSHA256)
	if err != nil {
		r.logger.WithError(err).WithField("file_id", file.ID).Error("Failed to insert file record")
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// FindByID returns the live file owned by userID, or nil when absent.
func (r *FileRepository) FindByID(ctx context.Context, fileID, userID uuid.UUID) (*models.File, error) {
	var file models.File
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE id = $1 AND user_id = $2 AND is_deleted = false`
	err := r.db.GetContext(ctx, &file, query, fileID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find file: %w", err)
	}
	return &file, nil
}

// List returns the user's live files, newest first.
func (r *FileRepository) List(ctx context.Context, userID uuid.UUID, limit, offset int64) ([]models.File, error) {
	files := []models.File{}
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE user_id = $1 AND is_deleted = false
		ORDER BY uploaded_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &files, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// SoftDeleteTx marks the file deleted inside tx and returns its size so the
// caller can release quota in the same transaction. Returns sql.ErrNoRows
// when the file is absent or already deleted.
func (r *FileRepository) SoftDeleteTx(ctx context.Context, tx *sqlx.Tx, fileID, userID uuid.UUID) (int64, error) {
	var size int64
	query := `
		UPDATE files
		SET is_deleted = true, deleted_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_deleted = false
		RETURNING file_size`
	err := tx.GetContext(ctx, &size, query, fileID, userID)
	if err != nil {
		return 0, err
	}
	return size, nil
}

// SumLiveBytesTx totals the user's non-deleted file sizes inside tx.
func (r *FileRepository) SumLiveBytesTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(file_size), 0) FROM files WHERE user_id = $1 AND is_deleted = false`
	if err := tx.GetContext(ctx, &total, query, userID); err != nil {
		return 0, fmt.Errorf("sum live bytes: %w", err)
	}
	return total, nil
}

// IncrementAccessCount bumps the download counter. Best-effort; callers may
// ignore the error.
func (r *FileRepository) IncrementAccessCount(ctx context.Context, fileID uuid.UUID) error {
	query := `UPDATE files SET access_count = access_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, fileID); err != nil {
		return fmt.Errorf("increment access count: %w", err)
	}
	return nil
}
