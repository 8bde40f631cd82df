// Package configstore implements the operator-editable key/value store: a
// mutex-guarded, process-wide read-through cache over Repo, with
// idempotent default registration and targeted invalidation on write.
package configstore

import (
	"context"
	"sync"

	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

// Store is the operator-editable configuration cache.
type Store struct {
	repo repo.Repo

	mu    sync.Mutex
	cache map[string]string
}

// New builds a Store backed by r.
func New(r repo.Repo) *Store {
	return &Store{repo: r, cache: make(map[string]string)}
}

// Get returns the operator value for key, falling back to def when absent.
func (s *Store) Get(ctx context.Context, key, def string) (string, error) {
	s.mu.Lock()
	if v, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, ok, err := s.repo.GetConfig(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}

	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, nil
}

// Set persists value for key then invalidates the cached entry so the next
// Get re-reads from Repo.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.repo.SetConfig(ctx, key, value); err != nil {
		return err
	}
	s.Invalidate(key)
	return nil
}

// Invalidate drops a single cached entry.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}

// RegisterDefaults creates rows only for keys that are currently absent,
// never overwriting an operator-set value, and records their descriptors.
func (s *Store) RegisterDefaults(ctx context.Context, descriptors []models.ConfigDescriptor) error {
	for _, d := range descriptors {
		if err := s.repo.RegisterConfigDefault(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
