package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/nodepool/internal/core/domain"
)

const defaultPrefix = "nodepool"

// NodeStore implements nodes.Store with one JSON document per schema.
type NodeStore struct {
	rdb    *redis.Client
	prefix string
}

// NewNodeStore creates a Redis-backed node store. An empty prefix means
// "nodepool".
func NewNodeStore(client *Client, prefix string) *NodeStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &NodeStore{rdb: client.rdb, prefix: prefix}
}

// Load returns the saved snapshot, or nil if none was saved yet.
func (s *NodeStore) Load(ctx context.Context) ([]domain.NodeDTO, error) {
	data, err := s.rdb.Get(ctx, nodesKey(s.prefix)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get nodes failed: %w", err)
	}

	var nodes []domain.NodeDTO
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	if nodes == nil {
		nodes = []domain.NodeDTO{}
	}
	return nodes, nil
}

// LoadLegacy returns the nodes saved by the previous schema.
func (s *NodeStore) LoadLegacy(ctx context.Context) ([]domain.LegacyNodeDTO, error) {
	data, err := s.rdb.Get(ctx, legacyNodesKey(s.prefix)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get legacy nodes failed: %w", err)
	}

	var nodes []domain.LegacyNodeDTO
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal legacy nodes: %w", err)
	}
	return nodes, nil
}

// Save replaces the snapshot.
func (s *NodeStore) Save(ctx context.Context, nodes []domain.NodeDTO) error {
	if nodes == nil {
		nodes = []domain.NodeDTO{}
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	if err := s.rdb.Set(ctx, nodesKey(s.prefix), data, 0).Err(); err != nil {
		return fmt.Errorf("set nodes failed: %w", err)
	}
	return nil
}
