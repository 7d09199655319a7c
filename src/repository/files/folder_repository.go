package files_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
)

// FolderRepository reads and writes the folders table.
type FolderRepository struct {
	db     *database.DB
	logger *logrus.Logger
}

// NewFolderRepository creates a folder repository.
func NewFolderRepository(db *database.DB, logger *logrus.Logger) *FolderRepository {
	return &FolderRepository{db: db, logger: logger}
}

// Create inserts a folder and returns the row.
func (r *FolderRepository) Create(ctx context.Context, userID uuid.UUID, parentID *uuid.UUID, name string, description *string) (*models.Folder, error) {
	var folder models.Folder
	query := `
		INSERT INTO folders (id, user_id, parent_folder_id, name, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, parent_folder_id, name, description, created_at, updated_at`
	err := r.db.GetContext(ctx, &folder, query, uuid.New(), userID, parentID, name, description)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Error("Failed to create folder")
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return &folder, nil
}

// ListContents returns the subfolders and live files directly under
// folderID; folderID nil means the root.
func (r *FolderRepository) ListContents(ctx context.Context, userID uuid.UUID, folderID *uuid.UUID) ([]models.Folder, []models.File, error) {
	folders := []models.Folder{}
	folderQuery := `
		SELECT id, user_id, parent_folder_id, name, description, created_at, updated_at
		FROM folders
		WHERE user_id = $1 AND parent_folder_id IS NOT DISTINCT FROM $2
		ORDER BY name`
	if err := r.db.SelectContext(ctx, &folders, folderQuery, userID, folderID); err != nil {
		return nil, nil, fmt.Errorf("list folders: %w", err)
	}

	files := []models.File{}
	fileQuery := `SELECT ` + fileColumns + `
		FROM files
		WHERE user_id = $1 AND folder_id IS NOT DISTINCT FROM $2 AND is_deleted = false
		ORDER BY uploaded_at DESC`
	if err := r.db.SelectContext(ctx, &files, fileQuery, userID, folderID); err != nil {
		return nil, nil, fmt.Errorf("list folder files: %w", err)
	}

	return folders, files, nil
}

// GetWithStats returns a folder with counts over its live files, or nil
// when absent.
func (r *FolderRepository) GetWithStats(ctx context.Context, userID, folderID uuid.UUID) (*models.FolderWithStats, error) {
	var folder models.FolderWithStats
	query := `
		SELECT f.id, f.user_id, f.parent_folder_id, f.name, f.description,
		       f.created_at, f.updated_at,
		       COUNT(fi.id) FILTER (WHERE fi.is_deleted = false) AS file_count,
		       COALESCE(SUM(fi.file_size) FILTER (WHERE fi.is_deleted = false), 0) AS total_bytes
		FROM folders f
		LEFT JOIN files fi ON fi.folder_id = f.id
		WHERE f.id = $1 AND f.user_id = $2
		GROUP BY f.id`
	err := r.db.GetContext(ctx, &folder, query, folderID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("folder stats: %w", err)
	}
	return &folder, nil
}

// DeleteRecursive removes a folder subtree. Files inside keep their rows
// but are detached from the deleted folders; storage release stays a file
// deletion concern.
func (r *FolderRepository) DeleteRecursive(ctx context.Context, userID, folderID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete folder: %w", err)
	}
	defer tx.Rollback()

	subtree := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM folders WHERE id = $1 AND user_id = $2
			UNION ALL
			SELECT f.id FROM folders f JOIN subtree s ON f.parent_folder_id = s.id
		)
		SELECT id FROM subtree`
	// Detach files, then delete folders bottom-up.
	var ids []uuid.UUID
	if err := tx.SelectContext(ctx, &ids, subtree, folderID, userID); err != nil {
		return fmt.Errorf("resolve folder subtree: %w", err)
	}
	if len(ids) == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `UPDATE files SET folder_id = NULL WHERE folder_id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("detach files: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete folders: %w", err)
	}

	return tx.Commit()
}
