// Package memshortlink is an in-memory ShortLinkStore reference
// implementation, used in tests and single-process deployments without
// Postgres.
package memshortlink

import (
	"context"
	"sync"
	"time"

	"github.com/wisbric/gatewayd/internal/storage"
)

// Store is a mutex-guarded map-backed ShortLinkStore. The zero value is not
// usable; use New.
type Store struct {
	mu    sync.RWMutex
	links map[string]storage.ShortLink
}

// New creates an empty in-memory ShortLinkStore.
func New() *Store {
	return &Store{links: make(map[string]storage.ShortLink)}
}

func (s *Store) Create(_ context.Context, id, targetURL string) (storage.ShortLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link := storage.ShortLink{ID: id, TargetURL: targetURL, CreatedAt: time.Now().UTC()}
	s.links[id] = link
	return link, nil
}

func (s *Store) Resolve(_ context.Context, id string) (storage.ShortLink, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[id]
	return link, ok, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, id)
	return nil
}
