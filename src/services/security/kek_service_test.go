package security

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	"github.com/zerovault/api/src/database"
	keys_repo "github.com/zerovault/api/src/repository/keys"
)

func setupKEKTest(t *testing.T) (*KEKService, sqlmock.Sqlmock, []byte) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	databaseDB := &database.DB{DB: sqlx.NewDb(db, "postgres")}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	masterKey := make([]byte, crypto.KeySize)
	for i := range masterKey {
		masterKey[i] = byte(i + 1)
	}

	repo := keys_repo.NewKEKRepository(databaseDB, logger)
	return NewKEKService(repo, masterKey, logger), mock, masterKey
}

func wrappedKEKRow(t *testing.T, masterKey []byte, version int) (*sqlmock.Rows, []byte) {
	t.Helper()

	kek, err := crypto.GenerateKey()
	require.NoError(t, err)
	plain := append([]byte(nil), kek.Bytes()...)

	wrapped, nonce, err := crypto.Encrypt(masterKey, plain)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"version", "encrypted_keydata", "nonce", "is_active", "is_deprecated", "created_at"}).
		AddRow(version, wrapped, nonce, true, false, time.Now())
	return rows, plain
}

func TestKEKService_EnsureSeed_AlreadySeeded(t *testing.T) {
	svc, mock, masterKey := setupKEKTest(t)

	rows, _ := wrappedKEKRow(t, masterKey, 1)
	mock.ExpectQuery(`SELECT .* FROM keks WHERE is_active = true AND is_deprecated = false`).
		WillReturnRows(rows)

	require.NoError(t, svc.EnsureSeed(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKEKService_EnsureSeed_InsertsVersionOne(t *testing.T) {
	svc, mock, _ := setupKEKTest(t)

	mock.ExpectQuery(`SELECT .* FROM keks WHERE is_active = true AND is_deprecated = false`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "encrypted_keydata", "nonce", "is_active", "is_deprecated", "created_at"}))
	mock.ExpectExec(`INSERT INTO keks .* ON CONFLICT \(version\) DO NOTHING`).
		WithArgs(1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.EnsureSeed(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKEKService_ActiveKEK_UnwrapsAndCaches(t *testing.T) {
	svc, mock, masterKey := setupKEKTest(t)

	rows, plain := wrappedKEKRow(t, masterKey, 3)
	mock.ExpectQuery(`SELECT .* FROM keks WHERE is_active = true AND is_deprecated = false`).
		WillReturnRows(rows)

	version, key, err := svc.ActiveKEK(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, plain, key.Bytes())

	// Second lookup for the same version hits the cache, no query expected
	cached, err := svc.KeyByVersion(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, plain, cached.Bytes())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKEKService_KeyByVersion_MissingFailsLoudly(t *testing.T) {
	svc, mock, _ := setupKEKTest(t)

	mock.ExpectQuery(`SELECT .* FROM keks WHERE version = \$1`).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"version", "encrypted_keydata", "nonce", "is_active", "is_deprecated", "created_at"}))

	key, err := svc.KeyByVersion(context.Background(), 9)
	assert.Nil(t, key)
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKEKService_Evict_WipesCachedKey(t *testing.T) {
	svc, mock, masterKey := setupKEKTest(t)

	rows, _ := wrappedKEKRow(t, masterKey, 1)
	mock.ExpectQuery(`SELECT .* FROM keks WHERE version = \$1`).
		WithArgs(1).
		WillReturnRows(rows)

	key, err := svc.KeyByVersion(context.Background(), 1)
	require.NoError(t, err)

	svc.Evict(1)
	assert.Equal(t, make([]byte, crypto.KeySize), key.Bytes())

	// After eviction the version must be reloaded
	rows2, _ := wrappedKEKRow(t, masterKey, 1)
	mock.ExpectQuery(`SELECT .* FROM keks WHERE version = \$1`).
		WithArgs(1).
		WillReturnRows(rows2)

	_, err = svc.KeyByVersion(context.Background(), 1)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
