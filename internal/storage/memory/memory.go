package memory

import (
	"context"
	"sync"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
)

// Store implements an in-memory storage
type Store struct {
	mu  sync.RWMutex
	doc *storage.Document
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{doc: storage.NewDocument()}
}

// NewStoreFrom creates an in-memory store seeded with doc.
func NewStoreFrom(doc *storage.Document) *Store {
	seeded := doc.Clone()
	seeded.Normalize()
	return &Store{doc: seeded}
}

func (s *Store) Close() error                   { return nil }
func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) ReadLinkedPaths(ctx context.Context) ([]domain.LinkedPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LinkedPath{}, s.doc.LinkedPaths...), nil
}

func (s *Store) LinkPath(ctx context.Context, lp domain.LinkedPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LinkPath(lp)
}

func (s *Store) UnlinkPath(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.UnlinkPath(name)
}

func (s *Store) ReadNetworks(ctx context.Context) ([]domain.Network, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone().Networks, nil
}

func (s *Store) GetNetwork(ctx context.Context, name string) (*domain.Network, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Network(name)
}

func (s *Store) CreateNetwork(ctx context.Context, network domain.Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.CreateNetwork(network)
}

func (s *Store) RemoveNetwork(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.RemoveNetwork(name)
}
