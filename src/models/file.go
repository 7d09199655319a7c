package models

import (
	"time"

	"github.com/google/uuid"
)

// File is a committed upload. ChunksMetadata is the serialized chunk table
// (see ChunkTable); EncryptedDEK is the session DEK wrapped under the KEK
// identified by DEKVersion, with Nonce stored separately.
type File struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	UserID           uuid.UUID  `db:"user_id" json:"user_id"`
	FolderID         *uuid.UUID `db:"folder_id" json:"folder_id,omitempty"`
	OriginalFilename string     `db:"original_filename" json:"filename"`
	TotalChunks      int        `db:"total_chunks" json:"total_chunks"`
	ChunksMetadata   []byte     `db:"chunks_metadata" json:"-"`
	EncryptedDEK     []byte     `db:"encrypted_dek" json:"-"`
	Nonce            []byte     `db:"nonce" json:"-"`
	DEKVersion       int        `db:"dek_version" json:"-"`
	FileSize         int64      `db:"file_size" json:"size_bytes"`
	MimeType         *string    `db:"mime_type" json:"mime_type,omitempty"`
	ChecksumSHA256   *string    `db:"checksum_sha256" json:"checksum_sha256,omitempty"`
	UploadStatus     string     `db:"upload_status" json:"-"`
	UploadedAt       time.Time  `db:"uploaded_at" json:"uploaded_at"`
	IsDeleted        bool       `db:"is_deleted" json:"-"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
	AccessCount      int64      `db:"access_count" json:"access_count"`
}

// KEK is a versioned key encryption key row. EncryptedKeydata is the
// plaintext KEK wrapped under the master key with Nonce.
type KEK struct {
	Version          int       `db:"version"`
	EncryptedKeydata []byte    `db:"encrypted_keydata"`
	Nonce            []byte    `db:"nonce"`
	IsActive         bool      `db:"is_active"`
	IsDeprecated     bool      `db:"is_deprecated"`
	CreatedAt        time.Time `db:"created_at"`
}
