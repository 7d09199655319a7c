package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
	files_repo "github.com/zerovault/api/src/repository/files"
	"github.com/zerovault/api/src/services/security"
)

// DownloadService streams committed files back as plaintext. Chunks are
// read and decrypted by a bounded pipeline but always reach the writer in
// index order.
type DownloadService struct {
	redis      *database.RedisClient
	files      *files_repo.FileRepository
	keks       *security.KEKService
	pool       *TransferPool
	stagingDir string
	logger     *logrus.Logger
}

// NewDownloadService creates a download service reading staged chunks from
// stagingDir.
func NewDownloadService(
	redisClient *database.RedisClient,
	files *files_repo.FileRepository,
	keks *security.KEKService,
	pool *TransferPool,
	stagingDir string,
	logger *logrus.Logger,
) *DownloadService {
	return &DownloadService{
		redis:      redisClient,
		files:      files,
		keks:       keks,
		pool:       pool,
		stagingDir: stagingDir,
		logger:     logger,
	}
}

// Prepare resolves the file and acquires the per-user download lock and a
// pipeline permit. The caller must invoke the returned release function
// when the stream ends, success or failure, so the lock never outlives the
// transfer.
func (s *DownloadService) Prepare(ctx context.Context, userID, fileID uuid.UUID) (*models.File, func(), error) {
	file, err := s.files.FindByID(ctx, fileID, userID)
	if err != nil {
		return nil, nil, err
	}
	if file == nil {
		return nil, nil, apperr.New(apperr.NotFound, "file not found")
	}

	locked, err := s.redis.SetNX(ctx, DownloadLockKey(userID), "1", downloadLockTTL).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("acquire download lock: %w", err)
	}
	if !locked {
		return nil, nil, apperr.New(apperr.Validation, "download already in progress")
	}

	if err := s.pool.Acquire(ctx); err != nil {
		s.redis.Del(ctx, DownloadLockKey(userID))
		return nil, nil, fmt.Errorf("acquire download slot: %w", err)
	}

	release := func() {
		s.pool.Release()
		// Use a fresh context: the request context is often already
		// cancelled when a stream aborts.
		if err := s.redis.Del(context.Background(), DownloadLockKey(userID)).Err(); err != nil {
			s.logger.WithError(err).Warn("Failed to release download lock")
		}
	}
	return file, release, nil
}

// Stream decrypts the file's chunks and writes plaintext to w in index
// order. Once the first byte is written the response cannot be retracted;
// a mid-stream error terminates the connection.
func (s *DownloadService) Stream(ctx context.Context, file *models.File, w io.Writer) error {
	chunks, err := models.DecodeChunkTable(file.ChunksMetadata)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "corrupt chunk table", err)
	}

	kek, err := s.keks.KeyByVersion(ctx, file.DEKVersion)
	if err != nil {
		return err
	}
	dek, err := crypto.Decrypt(kek.Bytes(), file.EncryptedDEK, file.Nonce)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to unwrap file key", err)
	}
	defer crypto.Wipe(dek)

	bufferChunks := downloadBufferChunks(s.pool.Slots(), s.pool.InFlight())

	type chunkResult struct {
		plaintext []byte
		err       error
	}

	// The futures channel capacity bounds how many chunks are decrypted
	// ahead of the writer; emission order is the channel order.
	futures := make(chan chan chunkResult, bufferChunks)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(futures)
		for _, chunk := range chunks {
			chunk := chunk
			result := make(chan chunkResult, 1)
			select {
			case futures <- result:
			case <-gctx.Done():
				return gctx.Err()
			}
			g.Go(func() error {
				plaintext, err := s.readAndDecryptChunk(dek, chunk)
				result <- chunkResult{plaintext: plaintext, err: err}
				return err
			})
		}
		return nil
	})

	var writeErr error
	for result := range futures {
		res := <-result
		if writeErr != nil || res.err != nil {
			continue // drain remaining futures so workers never block
		}
		if _, err := w.Write(res.plaintext); err != nil {
			writeErr = fmt.Errorf("write response: %w", err)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	if err := s.files.IncrementAccessCount(context.Background(), file.ID); err != nil {
		s.logger.WithError(err).WithField("file_id", file.ID).Warn("Failed to bump access count")
	}
	return nil
}

func (s *DownloadService) readAndDecryptChunk(dek []byte, chunk models.ChunkInfo) ([]byte, error) {
	path := filepath.Join(s.stagingDir, chunk.Filename)
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, fmt.Sprintf("failed to read chunk %d", chunk.Index), err)
	}

	plaintext, err := crypto.Decrypt(dek, ciphertext, chunk.Nonce)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, fmt.Sprintf("failed to decrypt chunk %d", chunk.Index), err)
	}
	return plaintext, nil
}

// SanitizeFilename makes a filename safe for a Content-Disposition header:
// quotes, backslashes and control characters become underscores.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, name)
}
