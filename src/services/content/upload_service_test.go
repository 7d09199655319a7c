package content

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
	auth_repo "github.com/zerovault/api/src/repository/auth"
	files_repo "github.com/zerovault/api/src/repository/files"
	keys_repo "github.com/zerovault/api/src/repository/keys"
	"github.com/zerovault/api/src/services/security"
)

type uploadTestEnv struct {
	svc       *UploadService
	downloads *DownloadService
	mock      sqlmock.Sqlmock
	redis     *miniredis.Miniredis
	masterKey []byte
	staging   string
}

func setupUploadTest(t *testing.T) *uploadTestEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	databaseDB := &database.DB{DB: sqlx.NewDb(db, "postgres")}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisClient := &database.RedisClient{Client: rdb}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	masterKey := make([]byte, crypto.KeySize)
	for i := range masterKey {
		masterKey[i] = byte(i + 100)
	}

	users := auth_repo.NewUserRepository(databaseDB, logger)
	files := files_repo.NewFileRepository(databaseDB, logger)
	keks := security.NewKEKService(keys_repo.NewKEKRepository(databaseDB, logger), masterKey, logger)

	staging := t.TempDir()

	return &uploadTestEnv{
		svc:       NewUploadService(databaseDB, redisClient, users, files, keks, NewTransferPool(UploadBufferSlots), staging, logger),
		downloads: NewDownloadService(redisClient, files, keks, NewTransferPool(DownloadBufferSlots), staging, logger),
		mock:      mock,
		redis:     mr,
		masterKey: masterKey,
		staging:   staging,
	}
}

func (env *uploadTestEnv) expectQuotaPrecheck(quota, used int64) {
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT storage_quota_bytes, storage_used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"storage_quota_bytes", "storage_used_bytes"}).AddRow(quota, used))
	env.mock.ExpectCommit()
}

func (env *uploadTestEnv) expectActiveKEK(t *testing.T) {
	t.Helper()

	kek, err := crypto.GenerateKey()
	require.NoError(t, err)
	wrapped, nonce, err := crypto.Encrypt(env.masterKey, kek.Bytes())
	require.NoError(t, err)

	env.mock.ExpectQuery(`SELECT .* FROM keks WHERE is_active = true AND is_deprecated = false`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "encrypted_keydata", "nonce", "is_active", "is_deprecated", "created_at"}).
			AddRow(1, wrapped, nonce, true, false, time.Now()))
}

func testDEK(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return append([]byte(nil), key.Bytes()...)
}

func TestUploadService_Init(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()

	env.expectQuotaPrecheck(1<<30, 0)

	res, err := env.svc.Init(context.Background(), userID, "report.pdf", 12_000_000, 2, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.UploadID)
	assert.Equal(t, int64(ChunkSizeHint), res.ChunkSizeHint)
	assert.Zero(t, res.QuotaReserved)

	assert.True(t, env.redis.Exists(UploadKey(userID, res.UploadID)))
	assert.True(t, env.redis.Exists(UploadLockKey(userID)))
	assert.Greater(t, env.redis.TTL(UploadKey(userID, res.UploadID)), time.Duration(0))

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUploadService_Init_RejectsConcurrentUpload(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()

	env.expectQuotaPrecheck(1<<30, 0)
	_, err := env.svc.Init(context.Background(), userID, "a.bin", 100, 1, "")
	require.NoError(t, err)

	_, err = env.svc.Init(context.Background(), userID, "b.bin", 100, 1, "")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "upload already in progress")
}

func TestUploadService_Init_Validation(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()

	cases := []struct {
		name        string
		size        int64
		totalChunks int
	}{
		{"zero size", 0, 1},
		{"negative size", -5, 1},
		{"oversize", MaxFileSize + 1, 1},
		{"zero chunks", 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Init(context.Background(), userID, "f", tc.size, tc.totalChunks, "")
			require.Error(t, err)
			assert.Equal(t, apperr.Validation, apperr.KindOf(err))
		})
	}

	// No lock left behind by rejected inits
	assert.False(t, env.redis.Exists(UploadLockKey(userID)))
}

func TestUploadService_Init_InsufficientQuota(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()

	env.expectQuotaPrecheck(1000, 900)

	_, err := env.svc.Init(context.Background(), userID, "big.bin", 500, 1, "")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	// Lock released on failed admission
	assert.False(t, env.redis.Exists(UploadLockKey(userID)))
}

func TestUploadService_SaveChunk_DuplicateDoesNotDoubleCount(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	dek := testDEK(t)

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "f.bin", 100, 2, "")
	require.NoError(t, err)

	progress, err := env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 0, []byte("first version"))
	require.NoError(t, err)
	assert.Equal(t, 1, progress.ChunksReceived)

	// Re-sending the same index overwrites but does not increment
	progress, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 0, []byte("second version"))
	require.NoError(t, err)
	assert.Equal(t, 1, progress.ChunksReceived)

	staged, err := os.ReadFile(filepath.Join(env.staging, models.StagedChunkName(res.UploadID, 0)))
	require.NoError(t, err)
	assert.NotEmpty(t, staged)
}

func TestUploadService_SaveChunk_Validation(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	dek := testDEK(t)

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "f.bin", 100, 2, "")
	require.NoError(t, err)

	_, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 2, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, -1, []byte("x"))
	require.Error(t, err)

	_, err = env.svc.SaveChunk(context.Background(), userID, []byte("short"), res.UploadID, 0, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, apperr.Crypto, apperr.KindOf(err))

	_, err = env.svc.SaveChunk(context.Background(), userID, dek, "unknown-upload", 0, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestUploadService_Finalize_Incomplete(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	dek := testDEK(t)

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "f.bin", 100, 3, "")
	require.NoError(t, err)

	_, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 0, []byte("only one"))
	require.NoError(t, err)

	_, err = env.svc.Finalize(context.Background(), userID, dek, res.UploadID, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "incomplete upload")

	// Cleanup ran: session, lock and staged chunk are gone
	assert.False(t, env.redis.Exists(UploadKey(userID, res.UploadID)))
	assert.False(t, env.redis.Exists(UploadLockKey(userID)))
	_, err = os.Stat(filepath.Join(env.staging, models.StagedChunkName(res.UploadID, 0)))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadService_FinalizeThenDownloadRoundTrip(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	dek := testDEK(t)

	plain0 := bytes.Repeat([]byte("alpha-"), 1000)
	plain1 := bytes.Repeat([]byte("omega-"), 500)
	totalSize := int64(len(plain0) + len(plain1))

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "data.bin", totalSize, 2, "")
	require.NoError(t, err)

	// Out-of-order arrival
	_, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 1, plain1)
	require.NoError(t, err)
	progress, err := env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 0, plain0)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.ChunksReceived)

	env.expectActiveKEK(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT storage_quota_bytes, storage_used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"storage_quota_bytes", "storage_used_bytes"}).AddRow(int64(1<<30), int64(0)))
	env.mock.ExpectExec(`UPDATE users SET storage_used_bytes = storage_used_bytes \+ \$1`).
		WithArgs(totalSize, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec(`INSERT INTO files`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	file, err := env.svc.Finalize(context.Background(), userID, dek, res.UploadID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, file.DEKVersion)
	assert.Equal(t, totalSize, file.FileSize)
	assert.Equal(t, "data.bin", file.OriginalFilename)

	// Session keys removed after commit
	assert.False(t, env.redis.Exists(UploadKey(userID, res.UploadID)))
	assert.False(t, env.redis.Exists(UploadLockKey(userID)))

	// Staged chunks are the durable store and must survive finalize
	_, err = os.Stat(filepath.Join(env.staging, models.StagedChunkName(res.UploadID, 0)))
	require.NoError(t, err)

	// Streaming back yields the original plaintext in index order
	env.mock.ExpectExec(`UPDATE files SET access_count = access_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var out bytes.Buffer
	require.NoError(t, env.downloads.Stream(context.Background(), file, &out))
	assert.Equal(t, append(plain0, plain1...), out.Bytes())

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUploadService_Finalize_QuotaExceededAtCommit(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	dek := testDEK(t)

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "f.bin", 1000, 1, "")
	require.NoError(t, err)

	_, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 0, bytes.Repeat([]byte("x"), 1000))
	require.NoError(t, err)

	// Quota shrank between init and finalize
	env.expectActiveKEK(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT storage_quota_bytes, storage_used_bytes FROM users WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"storage_quota_bytes", "storage_used_bytes"}).AddRow(int64(1000), int64(500)))
	env.mock.ExpectRollback()

	_, err = env.svc.Finalize(context.Background(), userID, dek, res.UploadID, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	// Failed finalize cleans up
	assert.False(t, env.redis.Exists(UploadKey(userID, res.UploadID)))
	assert.False(t, env.redis.Exists(UploadLockKey(userID)))
}

func TestUploadService_Finalize_DeclaredSizeMismatch(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	dek := testDEK(t)

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "f.bin", 5000, 1, "")
	require.NoError(t, err)

	// Only 100 of the declared 5000 bytes ever arrive
	_, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 0, bytes.Repeat([]byte("x"), 100))
	require.NoError(t, err)

	_, err = env.svc.Finalize(context.Background(), userID, dek, res.UploadID, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "does not match")

	// Mismatch cleans up like any other failed finalize
	assert.False(t, env.redis.Exists(UploadKey(userID, res.UploadID)))
	assert.False(t, env.redis.Exists(UploadLockKey(userID)))
	_, err = os.Stat(filepath.Join(env.staging, models.StagedChunkName(res.UploadID, 0)))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadService_Cancel(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	dek := testDEK(t)

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "f.bin", 100, 2, "")
	require.NoError(t, err)

	_, err = env.svc.SaveChunk(context.Background(), userID, dek, res.UploadID, 0, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(context.Background(), userID, res.UploadID))

	assert.False(t, env.redis.Exists(UploadKey(userID, res.UploadID)))
	assert.False(t, env.redis.Exists(UploadLockKey(userID)))
	_, err = os.Stat(filepath.Join(env.staging, models.StagedChunkName(res.UploadID, 0)))
	assert.True(t, os.IsNotExist(err))

	// Cancelling an unknown upload succeeds
	require.NoError(t, env.svc.Cancel(context.Background(), userID, "does-not-exist"))
}

func TestUploadService_Cancel_UnknownKeepsLiveUploadLock(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()

	env.expectQuotaPrecheck(1<<30, 0)
	res, err := env.svc.Init(context.Background(), userID, "f.bin", 100, 2, "")
	require.NoError(t, err)

	// Cancelling a bogus id must not release the live upload's lock
	require.NoError(t, env.svc.Cancel(context.Background(), userID, "does-not-exist"))

	assert.True(t, env.redis.Exists(UploadKey(userID, res.UploadID)))
	assert.True(t, env.redis.Exists(UploadLockKey(userID)))
}
