// Package models defines the persistent and ephemeral record types shared
// across repositories, services and handlers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a row in the users table. EncryptedDEK is the password-wrapped
// data encryption key (ciphertext with the 12-byte nonce appended); DEKSalt
// is the stored salt string for the Argon2id derivation.
type User struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Username           string     `db:"username" json:"username"`
	Password           string     `db:"password" json:"-"`
	EncryptedDEK       []byte     `db:"encrypted_dek" json:"-"`
	DEKSalt            []byte     `db:"dek_salt" json:"-"`
	StorageQuotaBytes  int64      `db:"storage_quota_bytes" json:"storage_quota_bytes"`
	StorageUsedBytes   int64      `db:"storage_used_bytes" json:"storage_used_bytes"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	LastPasswordChange *time.Time `db:"last_password_change" json:"-"`
	IsActive           bool       `db:"is_active" json:"is_active"`
}
