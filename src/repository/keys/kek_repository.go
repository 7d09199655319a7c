// Package keys_repo persists the versioned key-encryption-key rows.
package keys_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
)

const kekColumns = `version, encrypted_keydata, nonce, is_active, is_deprecated, created_at`

// KEKRepository reads and writes the keks table. Rows hold KEK material
// wrapped by the master key; plaintext keys never touch the database.
type KEKRepository struct {
	db     *database.DB
	logger *logrus.Logger
}

// NewKEKRepository creates a KEK repository.
func NewKEKRepository(db *database.DB, logger *logrus.Logger) *KEKRepository {
	return &KEKRepository{db: db, logger: logger}
}

// InsertVersion stores a wrapped KEK under the given version. A concurrent
// seed of the same version is a no-op; the caller re-reads the winner.
func (r *KEKRepository) InsertVersion(ctx context.Context, version int, wrapped, nonce []byte) error {
	query := `
		INSERT INTO keks (version, encrypted_keydata, nonce, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (version) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, version, wrapped, nonce); err != nil {
		r.logger.WithError(err).WithField("version", version).Error("Failed to insert KEK version")
		return fmt.Errorf("insert kek: %w", err)
	}
	return nil
}

// FindActive returns the highest-version KEK that is active and not
// deprecated, or nil when none exists.
func (r *KEKRepository) FindActive(ctx context.Context) (*models.KEK, error) {
	var kek models.KEK
	query := `SELECT ` + kekColumns + `
		FROM keks
		WHERE is_active = true AND is_deprecated = false
		ORDER BY version DESC
		LIMIT 1`
	err := r.db.GetContext(ctx, &kek, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active kek: %w", err)
	}
	return &kek, nil
}

// FindByVersion returns the KEK row for version, deprecated or not, or nil
// when absent.
func (r *KEKRepository) FindByVersion(ctx context.Context, version int) (*models.KEK, error) {
	var kek models.KEK
	query := `SELECT ` + kekColumns + ` FROM keks WHERE version = $1`
	err := r.db.GetContext(ctx, &kek, query, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find kek by version: %w", err)
	}
	return &kek, nil
}
