// Package security implements the key hierarchy services: the versioned
// KEK cache, server-side sessions with their CSRF tokens, and the login
// password hash.
package security

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/apperr"
	"github.com/zerovault/api/src/crypto"
	keys_repo "github.com/zerovault/api/src/repository/keys"
)

// KEKService unwraps and caches key encryption keys. Every wrapped DEK on
// a file row names the KEK version that sealed it, so old versions stay
// resolvable after a rotation.
//
// The cache holds plaintext KEKs guarded by an RWMutex; entries are wiped
// when evicted.
type KEKService struct {
	repo      *keys_repo.KEKRepository
	masterKey []byte
	logger    *logrus.Logger

	mu    sync.RWMutex
	cache map[int]*crypto.SecureKey
}

// NewKEKService creates a KEK service over the given repository.
// masterKey must be the 32-byte master key from configuration.
func NewKEKService(repo *keys_repo.KEKRepository, masterKey []byte, logger *logrus.Logger) *KEKService {
	return &KEKService{
		repo:      repo,
		masterKey: masterKey,
		logger:    logger,
		cache:     make(map[int]*crypto.SecureKey),
	}
}

// EnsureSeed creates KEK version 1 if no active KEK exists yet. Safe to
// run concurrently across instances: the insert is a no-op on conflict and
// the winner's row is what everyone reads back.
func (s *KEKService) EnsureSeed(ctx context.Context) error {
	active, err := s.repo.FindActive(ctx)
	if err != nil {
		return err
	}
	if active != nil {
		s.logger.WithField("version", active.Version).Info("Active KEK present")
		return nil
	}

	kek, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	defer kek.Wipe()

	wrapped, nonce, err := crypto.Encrypt(s.masterKey, kek.Bytes())
	if err != nil {
		return err
	}

	if err := s.repo.InsertVersion(ctx, 1, wrapped, nonce); err != nil {
		return err
	}
	s.logger.Info("Seeded KEK version 1")
	return nil
}

// ActiveKEK returns the current KEK version and its plaintext key. The
// returned key is cache-owned; callers must not wipe or retain it.
func (s *KEKService) ActiveKEK(ctx context.Context) (int, *crypto.SecureKey, error) {
	kek, err := s.repo.FindActive(ctx)
	if err != nil {
		return 0, nil, err
	}
	if kek == nil {
		return 0, nil, apperr.New(apperr.Internal, "no active KEK available")
	}

	key, err := s.keyFor(kek.Version, kek.EncryptedKeydata, kek.Nonce)
	if err != nil {
		return 0, nil, err
	}
	return kek.Version, key, nil
}

// KeyByVersion returns the plaintext KEK for a specific version. A missing
// or unwrappable version is an Internal error: a file row referencing it
// means key material has been lost, and decryption must not proceed with a
// guessed key.
func (s *KEKService) KeyByVersion(ctx context.Context, version int) (*crypto.SecureKey, error) {
	s.mu.RLock()
	key, ok := s.cache[version]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	kek, err := s.repo.FindByVersion(ctx, version)
	if err != nil {
		return nil, err
	}
	if kek == nil {
		s.logger.WithField("version", version).Error("KEK version referenced by a file row is missing")
		return nil, apperr.Newf(apperr.Internal, "KEK version %d not found", version)
	}

	return s.keyFor(version, kek.EncryptedKeydata, kek.Nonce)
}

// Evict wipes and drops a cached KEK version.
func (s *KEKService) Evict(version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.cache[version]; ok {
		key.Wipe()
		delete(s.cache, version)
	}
}

func (s *KEKService) keyFor(version int, wrapped, nonce []byte) (*crypto.SecureKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.cache[version]; ok {
		return key, nil
	}

	plain, err := crypto.Decrypt(s.masterKey, wrapped, nonce)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to unwrap KEK", err)
	}
	defer crypto.Wipe(plain)

	key, err := crypto.NewSecureKey(plain)
	if err != nil {
		return nil, err
	}
	s.cache[version] = key
	return key, nil
}
