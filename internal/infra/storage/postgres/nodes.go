package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/nodepool/internal/core/domain"
)

const (
	selectStateQuery = `SELECT saved_at FROM node_store_state WHERE id = 1`

	selectNodesQuery = `SELECT id, group_id, main_scheme, main_host, main_port,
	service_scheme, service_host, service_port, prefer_main, enabled, status,
	height, version, ping_ns, ws_enabled, ws_port
FROM nodes ORDER BY position`

	selectLegacyQuery = `SELECT COALESCE(id, '') AS id, group_id, scheme, host, port, enabled
FROM nodes_legacy ORDER BY position`

	deleteNodesQuery = `DELETE FROM nodes`

	insertNodesQuery = `INSERT INTO nodes (id, group_id, position, main_scheme, main_host, main_port,
	service_scheme, service_host, service_port, prefer_main, enabled, status,
	height, version, ping_ns, ws_enabled, ws_port)
VALUES (:id, :group_id, :position, :main_scheme, :main_host, :main_port,
	:service_scheme, :service_host, :service_port, :prefer_main, :enabled, :status,
	:height, :version, :ping_ns, :ws_enabled, :ws_port)`

	upsertStateQuery = `INSERT INTO node_store_state (id, saved_at) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET saved_at = EXCLUDED.saved_at`
)

// nodeRow adds the list position, which the snapshot order is kept by.
type nodeRow struct {
	domain.NodeDTO
	Position int `db:"position"`
}

// NodeStore implements nodes.Store on the tables of the embedded migrations.
type NodeStore struct {
	db *DB
}

func NewNodeStore(db *DB) *NodeStore {
	return &NodeStore{db: db}
}

// Load returns nil, nil until the first Save.
func (s *NodeStore) Load(ctx context.Context) ([]domain.NodeDTO, error) {
	var savedAt int64
	err := s.db.GetContext(ctx, &savedAt, selectStateQuery)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node store state: %w", err)
	}

	var rows []domain.NodeDTO
	if err := s.db.SelectContext(ctx, &rows, selectNodesQuery); err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	if rows == nil {
		rows = []domain.NodeDTO{}
	}
	return rows, nil
}

func (s *NodeStore) LoadLegacy(ctx context.Context) ([]domain.LegacyNodeDTO, error) {
	var rows []domain.LegacyNodeDTO
	if err := s.db.SelectContext(ctx, &rows, selectLegacyQuery); err != nil {
		return nil, fmt.Errorf("failed to load legacy nodes: %w", err)
	}
	return rows, nil
}

// Save replaces the snapshot in one transaction.
func (s *NodeStore) Save(ctx context.Context, nodes []domain.NodeDTO) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteNodesQuery); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}

	if len(nodes) > 0 {
		rows := make([]nodeRow, len(nodes))
		for i, n := range nodes {
			rows[i] = nodeRow{NodeDTO: n, Position: i}
		}
		if _, err := tx.NamedExecContext(ctx, insertNodesQuery, rows); err != nil {
			return fmt.Errorf("failed to insert nodes: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, upsertStateQuery, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to mark snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit nodes: %w", err)
	}
	return nil
}
