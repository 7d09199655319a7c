package content

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
	auth_repo "github.com/zerovault/api/src/repository/auth"
	files_repo "github.com/zerovault/api/src/repository/files"
	"github.com/zerovault/api/src/services/security"
)

const (
	// MaxFileSize is the hard per-file cap (50 GiB).
	MaxFileSize = 50 << 30
	// ChunkSizeHint is the plaintext chunk size clients should use (6 MiB).
	ChunkSizeHint = 6 << 20

	uploadSessionTTL = 24 * time.Hour
	downloadLockTTL  = 1 * time.Hour

	cleanupBatchSize = 50
)

// UploadKey is the KV key of an in-progress upload session.
func UploadKey(userID uuid.UUID, uploadID string) string {
	return fmt.Sprintf("upload:%s:%s", userID, uploadID)
}

// UploadLockKey is the per-user lock enforcing at most one in-flight upload.
func UploadLockKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_uploading:%s", userID)
}

// DownloadLockKey is the per-user lock serializing downloads.
func DownloadLockKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_downloading:%s", userID)
}

// UploadService drives the three-phase chunked upload protocol:
// init, chunk (repeated, any order), then finalize or cancel. All
// per-upload state lives in Redis; chunk ciphertext is staged on disk and
// becomes the durable store at finalize.
type UploadService struct {
	db         *database.DB
	redis      *database.RedisClient
	users      *auth_repo.UserRepository
	files      *files_repo.FileRepository
	keks       *security.KEKService
	pool       *TransferPool
	stagingDir string
	logger     *logrus.Logger
}

// NewUploadService creates an upload service staging chunks under
// stagingDir.
func NewUploadService(
	db *database.DB,
	redisClient *database.RedisClient,
	users *auth_repo.UserRepository,
	files *files_repo.FileRepository,
	keks *security.KEKService,
	pool *TransferPool,
	stagingDir string,
	logger *logrus.Logger,
) *UploadService {
	return &UploadService{
		db:         db,
		redis:      redisClient,
		users:      users,
		files:      files,
		keks:       keks,
		pool:       pool,
		stagingDir: stagingDir,
		logger:     logger,
	}
}

// InitResult is the response of a successful init.
type InitResult struct {
	UploadID      string `json:"upload_id"`
	ChunkSizeHint int64  `json:"chunk_size"`
	QuotaReserved int64  `json:"quota_reserved"`
}

// Init validates the request, takes the per-user upload lock and creates
// the upload session. Quota is checked for admission here but not debited;
// the sole debit happens at finalize, atomically with the file insert.
func (s *UploadService) Init(ctx context.Context, userID uuid.UUID, filename string, fileSize int64, totalChunks int, expectedHash string) (*InitResult, error) {
	if fileSize <= 0 {
		return nil, apperr.New(apperr.Validation, "file size must be positive")
	}
	if fileSize > MaxFileSize {
		return nil, apperr.Newf(apperr.Validation, "file exceeds maximum size of %d bytes", int64(MaxFileSize))
	}
	if totalChunks <= 0 {
		return nil, apperr.New(apperr.Validation, "total chunks must be positive")
	}

	locked, err := s.redis.SetNX(ctx, UploadLockKey(userID), "1", uploadSessionTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire upload lock: %w", err)
	}
	if !locked {
		return nil, apperr.New(apperr.Validation, "upload already in progress")
	}

	if err := s.admissionPrecheck(ctx, userID, fileSize); err != nil {
		s.redis.Del(ctx, UploadLockKey(userID))
		return nil, err
	}

	uploadID := uuid.New().String()
	session := models.NewUploadSession(uploadID, userID, filename, fileSize, totalChunks, expectedHash, time.Now().Unix())

	data, err := session.Encode()
	if err != nil {
		s.redis.Del(ctx, UploadLockKey(userID))
		return nil, apperr.Wrap(apperr.Internal, "failed to encode upload session", err)
	}
	if err := s.redis.Set(ctx, UploadKey(userID, uploadID), data, uploadSessionTTL).Err(); err != nil {
		s.redis.Del(ctx, UploadLockKey(userID))
		return nil, fmt.Errorf("store upload session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"upload_id":    uploadID,
		"total_chunks": totalChunks,
		"file_size":    fileSize,
	}).Info("Upload initialized")

	return &InitResult{UploadID: uploadID, ChunkSizeHint: ChunkSizeHint, QuotaReserved: 0}, nil
}

// admissionPrecheck confirms the file would fit right now. The row lock
// gives a consistent read; the transaction commits without mutating.
func (s *UploadService) admissionPrecheck(ctx context.Context, userID uuid.UUID, fileSize int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quota precheck: %w", err)
	}
	defer tx.Rollback()

	quota, err := s.users.QuotaForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if fileSize > quota.Available() {
		return apperr.Newf(apperr.Validation, "insufficient storage: %d bytes available", quota.Available())
	}
	return tx.Commit()
}

// ChunkProgress reports upload progress after a chunk is accepted.
type ChunkProgress struct {
	ChunksReceived  int     `json:"chunks_received"`
	TotalChunks     int     `json:"total_chunks"`
	BytesWritten    int64   `json:"bytes_written"`
	ProgressPercent float64 `json:"progress_percent"`
}

// SaveChunk encrypts one plaintext chunk under the session DEK and stages
// the ciphertext. Chunks may arrive in any order; re-sending an index
// overwrites the staged file without double counting.
func (s *UploadService) SaveChunk(ctx context.Context, userID uuid.UUID, dek []byte, uploadID string, index int, plaintext []byte) (*ChunkProgress, error) {
	if err := s.pool.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire upload slot: %w", err)
	}
	defer s.pool.Release()

	session, err := s.loadSession(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= session.TotalChunks {
		return nil, apperr.Newf(apperr.Validation, "chunk index %d out of range [0, %d)", index, session.TotalChunks)
	}
	if len(dek) != crypto.KeySize {
		return nil, apperr.New(apperr.Crypto, "session holds no usable encryption key")
	}

	ciphertext, nonce, err := crypto.Encrypt(dek, plaintext)
	if err != nil {
		return nil, err
	}

	if err := s.stageChunk(uploadID, index, ciphertext); err != nil {
		return nil, err
	}

	if !session.ChunkSeen(index) {
		session.ChunksReceived++
	}
	session.ChunkNonces[index] = nonce
	session.BytesWritten += int64(len(ciphertext))

	if err := s.storeSession(ctx, session); err != nil {
		return nil, err
	}

	return &ChunkProgress{
		ChunksReceived:  session.ChunksReceived,
		TotalChunks:     session.TotalChunks,
		BytesWritten:    session.BytesWritten,
		ProgressPercent: float64(session.ChunksReceived) / float64(session.TotalChunks) * 100,
	}, nil
}

// stageChunk writes ciphertext to the staging directory through a writer
// sized from a 2 GiB budget split across concurrent uploads.
func (s *UploadService) stageChunk(uploadID string, index int, ciphertext []byte) error {
	if err := os.MkdirAll(s.stagingDir, 0o700); err != nil {
		return apperr.Wrap(apperr.Storage, "failed to create staging directory", err)
	}

	path := filepath.Join(s.stagingDir, models.StagedChunkName(uploadID, index))
	f, err := os.Create(path)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "failed to create staged chunk", err)
	}

	w := bufio.NewWriterSize(f, writerBufferBytes(s.pool.InFlight()))
	if _, err := w.Write(ciphertext); err != nil {
		f.Close()
		return apperr.Wrap(apperr.Storage, "failed to write staged chunk", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apperr.Wrap(apperr.Storage, "failed to flush staged chunk", err)
	}
	if err := f.Close(); err != nil {
		return apperr.Wrap(apperr.Storage, "failed to close staged chunk", err)
	}
	return nil
}

// Finalize is the linearization point of an upload: quota admission and
// debit, chunk table serialization, DEK wrap under the active KEK and the
// file insert all commit in one transaction. Staged chunks are not moved;
// the staging directory is the durable chunk store.
func (s *UploadService) Finalize(ctx context.Context, userID uuid.UUID, dek []byte, uploadID string, folderID *uuid.UUID) (*models.File, error) {
	session, err := s.loadSession(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}

	if session.ChunksReceived != session.TotalChunks {
		s.cleanup(ctx, session)
		return nil, apperr.Newf(apperr.Validation, "incomplete upload: %d of %d chunks received", session.ChunksReceived, session.TotalChunks)
	}
	if len(dek) != crypto.KeySize {
		return nil, apperr.New(apperr.Crypto, "session holds no usable encryption key")
	}

	// The declared size becomes the download Content-Length, so it must
	// match the plaintext actually staged. Stat rather than trust the
	// session counters; overwritten duplicates make those drift.
	staged, err := s.stagedPlaintextBytes(session)
	if err != nil {
		s.cleanup(ctx, session)
		return nil, err
	}
	if staged != session.TotalSize {
		s.cleanup(ctx, session)
		return nil, apperr.Newf(apperr.Validation, "declared size %d does not match %d uploaded bytes", session.TotalSize, staged)
	}

	chunks := make([]models.ChunkInfo, session.TotalChunks)
	for i := 0; i < session.TotalChunks; i++ {
		chunks[i] = models.ChunkInfo{
			Index:         i,
			Nonce:         session.ChunkNonces[i],
			Filename:      models.StagedChunkName(uploadID, i),
			SizeEncrypted: ChunkSizeHint,
		}
	}
	chunkTable, err := models.EncodeChunkTable(chunks)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to encode chunk table", err)
	}

	kekVersion, kek, err := s.keks.ActiveKEK(ctx)
	if err != nil {
		return nil, err
	}
	wrappedDEK, dekNonce, err := crypto.Encrypt(kek.Bytes(), dek)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	quota, err := s.users.QuotaForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if session.TotalSize > quota.Available() {
		tx.Rollback()
		s.cleanup(ctx, session)
		return nil, apperr.Newf(apperr.Validation, "insufficient storage: %d bytes available", quota.Available())
	}
	if err := s.users.CommitUsage(ctx, tx, userID, session.TotalSize); err != nil {
		return nil, err
	}

	mime := "application/octet-stream"
	file := &models.File{
		ID:               uuid.New(),
		UserID:           userID,
		FolderID:         folderID,
		OriginalFilename: session.Filename,
		TotalChunks:      session.TotalChunks,
		ChunksMetadata:   chunkTable,
		EncryptedDEK:     wrappedDEK,
		Nonce:            dekNonce,
		DEKVersion:       kekVersion,
		FileSize:         session.TotalSize,
		MimeType:         &mime,
		UploadStatus:     "completed",
	}
	if session.ExpectedHash != "" {
		file.ChecksumSHA256 = &session.ExpectedHash
	}

	if err := s.files.CreateTx(ctx, tx, file); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}

	s.deleteSessionKeys(ctx, session)

	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"upload_id": uploadID,
		"file_id":   file.ID,
		"size":      file.FileSize,
	}).Info("Upload finalized")

	return file, nil
}

// stagedPlaintextBytes sums the plaintext sizes of all staged chunks from
// the filesystem. Each staged file carries exactly TagSize bytes of AEAD
// overhead.
func (s *UploadService) stagedPlaintextBytes(session *models.UploadSession) (int64, error) {
	var total int64
	for i := 0; i < session.TotalChunks; i++ {
		info, err := os.Stat(filepath.Join(s.stagingDir, models.StagedChunkName(session.UploadID, i)))
		if err != nil {
			return 0, apperr.Wrap(apperr.Storage, fmt.Sprintf("staged chunk %d missing", i), err)
		}
		total += info.Size() - crypto.TagSize
	}
	return total, nil
}

// Cancel aborts an upload and reclaims its staged chunks. Cancelling an
// unknown or already-expired upload succeeds; cleanup tolerates missing
// files.
func (s *UploadService) Cancel(ctx context.Context, userID uuid.UUID, uploadID string) error {
	session, err := s.loadSession(ctx, userID, uploadID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			// The lock stays: it may belong to a different, live upload.
			s.redis.Del(ctx, UploadKey(userID, uploadID))
			return nil
		}
		return err
	}
	s.cleanup(ctx, session)
	return nil
}

// cleanup removes staged chunks in batches, then the KV record and the
// per-user lock. It never touches the quota ledger: nothing has been
// debited before finalize commits.
func (s *UploadService) cleanup(ctx context.Context, session *models.UploadSession) {
	for start := 0; start < session.TotalChunks; start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > session.TotalChunks {
			end = session.TotalChunks
		}
		for i := start; i < end; i++ {
			path := filepath.Join(s.stagingDir, models.StagedChunkName(session.UploadID, i))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.WithError(err).WithField("path", path).Warn("Failed to remove staged chunk")
			}
		}
	}

	s.deleteSessionKeys(ctx, session)

	s.logger.WithFields(logrus.Fields{
		"user_id":   session.UserID,
		"upload_id": session.UploadID,
	}).Info("Upload cleaned up")
}

func (s *UploadService) deleteSessionKeys(ctx context.Context, session *models.UploadSession) {
	if err := s.redis.Del(ctx, UploadKey(session.UserID, session.UploadID), UploadLockKey(session.UserID)).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to delete upload session keys")
	}
}

func (s *UploadService) loadSession(ctx context.Context, userID uuid.UUID, uploadID string) (*models.UploadSession, error) {
	data, err := s.redis.Get(ctx, UploadKey(userID, uploadID)).Bytes()
	if err == redis.Nil {
		return nil, apperr.New(apperr.NotFound, "upload session not found or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("load upload session: %w", err)
	}

	session, err := models.DecodeUploadSession(data)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "corrupt upload session record", err)
	}
	return session, nil
}

func (s *UploadService) storeSession(ctx context.Context, session *models.UploadSession) error {
	data, err := session.Encode()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to encode upload session", err)
	}
	if err := s.redis.Set(ctx, UploadKey(session.UserID, session.UploadID), data, uploadSessionTTL).Err(); err != nil {
		return fmt.Errorf("store upload session: %w", err)
	}
	return nil
}
