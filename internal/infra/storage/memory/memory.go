// Package memory keeps node snapshots in process memory.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/vietddude/nodepool/internal/core/domain"
)

// NodeStore is an in-memory nodes.Store. Useful for tests and for running
// without a database.
type NodeStore struct {
	mu     sync.RWMutex
	nodes  []domain.NodeDTO
	saved  bool
	legacy []domain.LegacyNodeDTO
	saves  int
}

func NewNodeStore() *NodeStore {
	return &NodeStore{}
}

// NewLegacyNodeStore returns a store holding only rows of the old schema.
func NewLegacyNodeStore(legacy []domain.LegacyNodeDTO) *NodeStore {
	return &NodeStore{legacy: slices.Clone(legacy)}
}

func (s *NodeStore) Load(ctx context.Context) ([]domain.NodeDTO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return nil, nil
	}
	out := make([]domain.NodeDTO, len(s.nodes))
	copy(out, s.nodes)
	return out, nil
}

func (s *NodeStore) LoadLegacy(ctx context.Context) ([]domain.LegacyNodeDTO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.legacy), nil
}

func (s *NodeStore) Save(ctx context.Context, nodes []domain.NodeDTO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make([]domain.NodeDTO, len(nodes))
	copy(s.nodes, nodes)
	s.saved = true
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *NodeStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
