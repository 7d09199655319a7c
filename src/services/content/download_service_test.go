package content

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerovault/api/src/apperr"
)

func expectFileRow(env *uploadTestEnv, fileID, userID uuid.UUID) {
	now := time.Now()
	env.mock.ExpectQuery(`SELECT .* FROM files WHERE id = \$1 AND user_id = \$2 AND is_deleted = false`).
		WithArgs(fileID, userID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "folder_id", "original_filename", "total_chunks",
			"chunks_metadata", "encrypted_dek", "nonce", "dek_version", "file_size",
			"mime_type", "checksum_sha256", "upload_status", "uploaded_at",
			"is_deleted", "deleted_at", "access_count",
		}).AddRow(fileID, userID, nil, "data.bin", 1,
			[]byte{0, 0, 0, 0}, []byte{1}, []byte{2}, 1, int64(10),
			nil, nil, "completed", now, false, nil, int64(0)))
}

func TestDownloadService_Prepare_AcquiresAndReleasesLock(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	fileID := uuid.New()

	expectFileRow(env, fileID, userID)

	file, release, err := env.downloads.Prepare(context.Background(), userID, fileID)
	require.NoError(t, err)
	assert.Equal(t, "data.bin", file.OriginalFilename)
	assert.True(t, env.redis.Exists(DownloadLockKey(userID)))
	assert.Equal(t, int64(1), env.downloads.pool.InFlight())

	// Lock and permit are returned when the stream ends
	release()
	assert.False(t, env.redis.Exists(DownloadLockKey(userID)))
	assert.Equal(t, int64(0), env.downloads.pool.InFlight())

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDownloadService_Prepare_ConcurrentDownloadRejected(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	fileID := uuid.New()

	expectFileRow(env, fileID, userID)
	_, release, err := env.downloads.Prepare(context.Background(), userID, fileID)
	require.NoError(t, err)
	defer release()

	expectFileRow(env, fileID, userID)
	_, _, err = env.downloads.Prepare(context.Background(), userID, fileID)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "download already in progress")
}

func TestDownloadService_Prepare_NotFound(t *testing.T) {
	env := setupUploadTest(t)
	userID := uuid.New()
	fileID := uuid.New()

	env.mock.ExpectQuery(`SELECT .* FROM files WHERE id = \$1 AND user_id = \$2 AND is_deleted = false`).
		WithArgs(fileID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, _, err := env.downloads.Prepare(context.Background(), userID, fileID)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	// No lock taken for a missing file
	assert.False(t, env.redis.Exists(DownloadLockKey(userID)))
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"plain.txt":          "plain.txt",
		`quo"te.txt`:         "quo_te.txt",
		`back\slash`:         "back_slash",
		"line\r\nbreak":      "line__break",
		"tab\there":          "tab_here",
		"unicode-déjà.pdf":   "unicode-déjà.pdf",
		"del\x7fchar":        "del_char",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestWriterBufferSizing(t *testing.T) {
	assert.Equal(t, 2048*mib, writerBufferBytes(0))
	assert.Equal(t, 1024*mib, writerBufferBytes(1))
	assert.Equal(t, 10*mib, writerBufferBytes(199))
	assert.Equal(t, 2*mib, writerBufferBytes(5000))
}

func TestDownloadBufferChunks(t *testing.T) {
	assert.Equal(t, 200, downloadBufferChunks(200, 0))
	assert.Equal(t, 100, downloadBufferChunks(200, 1))
	assert.Equal(t, 1, downloadBufferChunks(200, 199))
	assert.Equal(t, 1, downloadBufferChunks(200, 5000))
}
