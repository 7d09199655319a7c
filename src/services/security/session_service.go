package security

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/models"
)

const (
	sessionKeyPrefix = "session:"
	csrfKeyPrefix    = "csrf:"

	csrfTokenTTL = 1 * time.Hour

	redisOpTimeout = 2 * time.Second
)

// SessionService manages server-side sessions and their CSRF tokens in
// Redis. The session record carries the user's unwrapped DEK; losing Redis
// logs everyone out but leaks nothing durable.
type SessionService struct {
	redis    *database.RedisClient
	duration time.Duration
	logger   *logrus.Logger
}

// NewSessionService creates a session service. duration is the session
// lifetime (SESSION_DURATION_DAYS from configuration).
func NewSessionService(redis *database.RedisClient, duration time.Duration, logger *logrus.Logger) *SessionService {
	return &SessionService{redis: redis, duration: duration, logger: logger}
}

// Create stores a new session for userID holding its unwrapped DEK and
// returns the session ID together with a freshly issued CSRF token.
func (s *SessionService) Create(ctx context.Context, userID uuid.UUID, dek []byte) (sessionID, csrfToken string, err error) {
	now := time.Now().UTC()
	session := &models.Session{
		UserID:    userID,
		DEK:       dek,
		CreatedAt: now,
		ExpiresAt: now.Add(s.duration),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return "", "", apperr.Wrap(apperr.Internal, "failed to encode session", err)
	}

	sessionID = uuid.New().String()

	redisCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := s.redis.Set(redisCtx, sessionKeyPrefix+sessionID, data, s.duration).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store session")
		return "", "", fmt.Errorf("store session: %w", err)
	}

	csrfToken, err = s.IssueCSRFToken(ctx, sessionID)
	if err != nil {
		return "", "", err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID[:8] + "...",
	}).Info("Session created")

	return sessionID, csrfToken, nil
}

// Load returns the session behind sessionID, or nil when it is absent or
// expired. An expired-but-present record is deleted on sight.
func (s *SessionService) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	redisCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := s.redis.Get(redisCtx, sessionKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.WithError(err).Warn("Dropping undecodable session record")
		s.Delete(ctx, sessionID)
		return nil, nil
	}

	if session.Expired(time.Now().UTC()) {
		s.Delete(ctx, sessionID)
		return nil, nil
	}

	return &session, nil
}

// Delete removes a session record. Best-effort; the TTL is the backstop.
func (s *SessionService) Delete(ctx context.Context, sessionID string) {
	redisCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := s.redis.Del(redisCtx, sessionKeyPrefix+sessionID).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to delete session")
	}
}

// IssueCSRFToken generates a CSRF token bound to sessionID with a one-hour
// TTL. The double-submit check compares the cookie value against this
// record.
func (s *SessionService) IssueCSRFToken(ctx context.Context, sessionID string) (string, error) {
	token, err := crypto.GenerateCSRFToken()
	if err != nil {
		return "", err
	}

	redisCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := s.redis.Set(redisCtx, csrfKeyPrefix+token, sessionID, csrfTokenTTL).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store CSRF token")
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return token, nil
}

// ValidateCSRFToken reports whether token exists and belongs to sessionID.
func (s *SessionService) ValidateCSRFToken(ctx context.Context, token, sessionID string) (bool, error) {
	if token == "" {
		return false, nil
	}

	redisCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	owner, err := s.redis.Get(redisCtx, csrfKeyPrefix+token).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate csrf token: %w", err)
	}
	return owner == sessionID, nil
}
