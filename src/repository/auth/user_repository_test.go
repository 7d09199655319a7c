package auth_repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerovault/api/src/database"
)

func setupRepoTest(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	// Setup DB Mock
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Create wrapper
	databaseDB := &database.DB{DB: sqlx.NewDb(db, "postgres")} // Logger unexported

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	repo := NewUserRepository(databaseDB, logger)
	return repo, mock
}

func userRows(id uuid.UUID, username string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "username", "password", "encrypted_dek", "dek_salt",
		"storage_quota_bytes", "storage_used_bytes", "created_at", "updated_at",
		"last_password_change", "is_active",
	}).AddRow(id, "Test User", username, "$argon2id$...", []byte{1, 2}, []byte{3, 4},
		int64(1073741824), int64(0), now, now, now, true)
}

func TestUserRepository_FindByUsername(t *testing.T) {
	repo, mock := setupRepoTest(t)

	id := uuid.New()

	// Expectations
	mock.ExpectQuery(`SELECT .* FROM users WHERE username = \$1 AND is_active = true`).
		WithArgs("alice").
		WillReturnRows(userRows(id, "alice"))

	// Execute
	user, err := repo.FindByUsername(context.Background(), "alice")

	// Verify
	assert.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "alice", user.Username)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_FindByUsername_NotFound(t *testing.T) {
	repo, mock := setupRepoTest(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE username = \$1 AND is_active = true`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	user, err := repo.FindByUsername(context.Background(), "missing")

	// Should return nil, nil
	assert.NoError(t, err)
	assert.Nil(t, user)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create(t *testing.T) {
	repo, mock := setupRepoTest(t)

	// Create uses QueryRow and Scan, so we must return rows
	mock.ExpectQuery(`INSERT INTO users .* RETURNING .*`).
		WithArgs("Bob", "bob", "$argon2id$...", []byte{1, 2}, []byte{3, 4}).
		WillReturnRows(userRows(uuid.New(), "bob"))

	user, err := repo.Create(context.Background(), "Bob", "bob", "$argon2id$...", []byte{1, 2}, []byte{3, 4})

	assert.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "bob", user.Username)
	assert.Equal(t, int64(1073741824), user.StorageQuotaBytes)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_UsernameTaken(t *testing.T) {
	repo, mock := setupRepoTest(t)

	mock.ExpectQuery(`INSERT INTO users .* RETURNING .*`).
		WillReturnError(&pq.Error{Code: "23505"})

	user, err := repo.Create(context.Background(), "Bob", "bob", "hash", nil, nil)

	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Nil(t, user)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_QuotaLedger(t *testing.T) {
	repo, mock := setupRepoTest(t)

	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT storage_quota_bytes, storage_used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"storage_quota_bytes", "storage_used_bytes"}).
			AddRow(int64(1000), int64(400)))
	mock.ExpectExec(`UPDATE users SET storage_used_bytes = storage_used_bytes \+ \$1 WHERE id = \$2`).
		WithArgs(int64(500), userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	q, err := repo.QuotaForUpdate(context.Background(), tx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), q.Available())

	require.NoError(t, repo.CommitUsage(context.Background(), tx, userID, 500))
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ReleaseUsage_ClampsAtZero(t *testing.T) {
	repo, mock := setupRepoTest(t)

	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET storage_used_bytes = GREATEST\(0, storage_used_bytes - \$1\) WHERE id = \$2`).
		WithArgs(int64(999), userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, repo.ReleaseUsage(context.Background(), tx, userID, 999))
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}
