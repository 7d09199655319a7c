package models

import (
	"time"

	"github.com/google/uuid"
)

// Folder is a user-owned directory node. Folders nest via ParentFolderID.
type Folder struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	UserID         uuid.UUID  `db:"user_id" json:"user_id"`
	ParentFolderID *uuid.UUID `db:"parent_folder_id" json:"parent_folder_id,omitempty"`
	Name           string     `db:"name" json:"name"`
	Description    *string    `db:"description" json:"description,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// FolderWithStats is a folder plus aggregate counts over its live files.
type FolderWithStats struct {
	Folder
	FileCount  int64 `db:"file_count" json:"file_count"`
	TotalBytes int64 `db:"total_bytes" json:"total_bytes"`
}
