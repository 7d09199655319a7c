// Package operations holds the background maintenance and host inspection
// services.
package operations

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
	"github.com/zerovault/api/src/services/content"
)

const (
	uploadKeyPattern = "upload:*"
	scanPageSize     = 100

	uploadMaxAge = 24 * time.Hour
)

// SweeperService reclaims abandoned uploads: sessions older than 24 hours
// lose their staged chunks, their KV record and the per-user upload lock.
//
// The sweeper never touches the quota ledger. Quota is only debited when
// finalize commits, so an expired upload has nothing to credit back.
type SweeperService struct {
	redis      *database.RedisClient
	stagingDir string
	logger     *logrus.Logger
}

// NewSweeperService creates a sweeper over the given staging directory.
func NewSweeperService(redisClient *database.RedisClient, stagingDir string, logger *logrus.Logger) *SweeperService {
	return &SweeperService{redis: redisClient, stagingDir: stagingDir, logger: logger}
}

// Sweep scans all upload sessions once and expires the stale ones.
// Returns the number of sessions reclaimed. The full cursor iteration
// completes before any key is deleted, so the scan never observes its own
// mutations.
func (s *SweeperService) Sweep(ctx context.Context) (int, error) {
	var cursor uint64
	var keys []string

	for {
		page, next, err := s.redis.Scan(ctx, cursor, uploadKeyPattern, scanPageSize).Result()
		if err != nil {
			return 0, err
		}
		keys = append(keys, page...)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	expired := 0
	now := time.Now()
	for _, key := range keys {
		if s.expireIfStale(ctx, key, now) {
			expired++
		}
	}

	if expired > 0 {
		s.logger.WithField("expired", expired).Info("Swept stale upload sessions")
	}
	return expired, nil
}

func (s *SweeperService) expireIfStale(ctx context.Context, key string, now time.Time) bool {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false // raced with finalize/cancel, nothing to do
	}

	session, err := models.DecodeUploadSession(data)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Dropping undecodable upload session")
		s.redis.Del(ctx, key)
		return false
	}

	if now.Sub(time.Unix(session.CreatedAt, 0)) <= uploadMaxAge {
		return false
	}

	for i := 0; i < session.TotalChunks; i++ {
		path := filepath.Join(s.stagingDir, models.StagedChunkName(session.UploadID, i))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to remove staged chunk")
		}
	}

	if err := s.redis.Del(ctx, key, content.UploadLockKey(session.UserID)).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to delete expired upload keys")
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   session.UserID,
		"upload_id": session.UploadID,
		"age":       now.Sub(time.Unix(session.CreatedAt, 0)).String(),
	}).Info("Expired stale upload session")
	return true
}
