// Package auth_repo persists user accounts and the quota ledger.
package auth_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
)

// ErrUsernameTaken is returned when a unique violation hits the username
// constraint on insert.
var ErrUsernameTaken = errors.New("username already taken")

const userColumns = `id, name, username, password, encrypted_dek, dek_salt,
	storage_quota_bytes, storage_used_bytes, created_at, updated_at,
	last_password_change, is_active`

// UserRepository reads and writes the users table. Quota mutations go
// through the transactional ledger methods; callers own the transaction so
// the quota change and its reason commit together.
type UserRepository struct {
	db     *database.DB
	logger *logrus.Logger
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *database.DB, logger *logrus.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Create inserts a new user with the default quota and returns the row.
func (r *UserRepository) Create(ctx context.Context, name, username, passwordHash string, encryptedDEK, dekSalt []byte) (*models.User, error) {
	var user models.User
	query := `
		INSERT INTO users (name, username, password, encrypted_dek, dek_salt)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns
	err := r.db.GetContext(ctx, &user, query, name, username, passwordHash, encryptedDEK, dekSalt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		r.logger.WithError(err).WithField("username", username).Error("Failed to create user")
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// FindByUsername returns an active user by username, or nil when absent.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND is_active = true`
	err := r.db.GetContext(ctx, &user, query, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by id, or nil when absent.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// UpdatePasswordAndDEK stores a new password hash together with the
// rewrapped DEK and its fresh salt.
func (r *UserRepository) UpdatePasswordAndDEK(ctx context.Context, id uuid.UUID, passwordHash string, encryptedDEK, dekSalt []byte) error {
	query := `
		UPDATE users
		SET password = $1, encrypted_dek = $2, dek_salt = $3,
		    last_password_change = NOW(), updated_at = NOW()
		WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, passwordHash, encryptedDEK, dekSalt, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// QuotaStatus is a locked quota snapshot read inside a transaction.
type QuotaStatus struct {
	QuotaBytes int64 `db:"storage_quota_bytes"`
	UsedBytes  int64 `db:"storage_used_bytes"`
}

// Available returns quota minus used.
func (q QuotaStatus) Available() int64 { return q.QuotaBytes - q.UsedBytes }

// QuotaForUpdate reads the user's quota row with SELECT ... FOR UPDATE.
// The row stays locked until tx ends, serializing ledger mutations.
func (r *UserRepository) QuotaForUpdate(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*QuotaStatus, error) {
	var q QuotaStatus
	query := `
		SELECT storage_quota_bytes, storage_used_bytes
		FROM users
		WHERE id = $1
		FOR UPDATE`
	if err := tx.GetContext(ctx, &q, query, userID); err != nil {
		return nil, fmt.Errorf("lock quota row: %w", err)
	}
	return &q, nil
}

// CommitUsage debits size bytes inside tx. Call only after QuotaForUpdate
// confirmed admission in the same transaction.
func (r *UserRepository) CommitUsage(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, size int64) error {
	query := `UPDATE users SET storage_used_bytes = storage_used_bytes + $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, size, userID); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}
	return nil
}

// ReleaseUsage credits size bytes back inside tx, clamped at zero.
func (r *UserRepository) ReleaseUsage(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, size int64) error {
	query := `UPDATE users SET storage_used_bytes = GREATEST(0, storage_used_bytes - $1) WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, size, userID); err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return nil
}

// SetUsage overwrites used bytes inside tx; used by quota recomputation.
func (r *UserRepository) SetUsage(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, used int64) error {
	query := `UPDATE users SET storage_used_bytes = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, query, used, userID); err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	return nil
}

// StorageInfo reads the quota snapshot without locking.
func (r *UserRepository) StorageInfo(ctx context.Context, userID uuid.UUID) (*QuotaStatus, error) {
	var q QuotaStatus
	query := `SELECT storage_quota_bytes, storage_used_bytes FROM users WHERE id = $1`
	if err := r.db.GetContext(ctx, &q, query, userID); err != nil {
		return nil, fmt.Errorf("storage info: %w", err)
	}
	return &q, nil
}
