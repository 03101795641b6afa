// Package memory provides an in-memory implementation of storage.KeyStore
// for testing and lightweight deployments. Keys are lost when the process
// restarts.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/gatehouse/pkg/storage"
)

// Store is an in-memory KeyStore.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*storage.Key
	byHash map[string]*storage.Key
}

// Ensure Store implements storage.KeyStore at compile time.
var _ storage.KeyStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byID:   make(map[string]*storage.Key),
		byHash: make(map[string]*storage.Key),
	}
}

// SaveKey stores a copy of k.
func (s *Store) SaveKey(_ context.Context, k *storage.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[k.ID]; exists {
		return storage.ErrConflict
	}
	if _, exists := s.byHash[k.Hash]; exists {
		return storage.ErrConflict
	}

	c := clone(k)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.byID[c.ID] = c
	s.byHash[c.Hash] = c
	return nil
}

// GetKeyByHash returns the active key with the given hash. Scoped by site
// when a site is present in the context.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*storage.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byHash[hash]
	if !ok || k.Revoked() || !storage.Visible(ctx, k.SiteID) {
		return nil, storage.ErrNotFound
	}
	return clone(k), nil
}

// RevokeKey marks an active key revoked.
func (s *Store) RevokeKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byID[id]
	if !ok || k.Revoked() || !storage.Visible(ctx, k.SiteID) {
		return storage.ErrNotFound
	}

	now := time.Now()
	k.RevokedAt = &now
	return nil
}

// ListKeys returns matching keys, oldest first.
func (s *Store) ListKeys(ctx context.Context, opts storage.ListOptions) ([]*storage.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site := storage.EffectiveSite(ctx, opts)

	var out []*storage.Key
	for _, k := range s.byID {
		if site != "" && k.SiteID != site {
			continue
		}
		if k.Revoked() && !opts.IncludeRevoked {
			continue
		}
		out = append(out, clone(k))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func clone(k *storage.Key) *storage.Key {
	c := *k
	c.UserInfo = maps.Clone(k.UserInfo)
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
