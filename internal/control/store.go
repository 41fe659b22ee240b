package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/nodepool/internal/core/config"
	"github.com/vietddude/nodepool/internal/core/domain"
	redisclient "github.com/vietddude/nodepool/internal/infra/redis"
	"github.com/vietddude/nodepool/internal/infra/storage/memory"
	"github.com/vietddude/nodepool/internal/infra/storage/postgres"
	"github.com/vietddude/nodepool/internal/nodes"
)

// Store is a node store together with the connection backing it.
type Store struct {
	nodes.Store
	db    *postgres.DB
	redis *redisclient.Client
}

// OpenStore connects the storage driver selected in cfg.
func OpenStore(ctx context.Context, cfg *config.AppConfig) (*Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		slog.Info("Using Redis storage")
		return &Store{Store: redisclient.NewNodeStore(client, cfg.Redis.KeyPrefix), redis: client}, nil

	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL storage", "driver", cfg.Database.Driver)
		return &Store{Store: postgres.NewNodeStore(db), db: db}, nil

	default:
		slog.Info("Using Memory storage")
		return &Store{Store: memory.NewNodeStore()}, nil
	}
}

// DB returns the postgres connection, or nil for other drivers.
func (s *Store) DB() *postgres.DB {
	return s.db
}

// Close releases the connection.
func (s *Store) Close() error {
	switch {
	case s.db != nil:
		return s.db.Close()
	case s.redis != nil:
		return s.redis.Close()
	}
	return nil
}

// Defaults returns the node lists merged into the registry on load: the
// compiled-in nodes of every configured group plus its extra nodes.
func Defaults(cfg *config.AppConfig) (map[domain.GroupID][]domain.Node, error) {
	out := make(map[domain.GroupID][]domain.Node, len(cfg.Groups))
	for _, g := range cfg.Groups {
		list := domain.CloneNodes(nodes.Defaults[g.ID])
		for _, nc := range g.Nodes {
			n, err := nc.Node()
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", g.ID, err)
			}
			list = append(list, n)
		}
		out[g.ID] = list
	}
	return out, nil
}

// OpenRegistry opens the store and loads the registry from it. Closing the
// registry writes the final snapshot; close the store afterwards.
func OpenRegistry(ctx context.Context, cfg *config.AppConfig) (*nodes.Registry, *Store, error) {
	defaults, err := Defaults(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	registry := nodes.NewRegistry(store,
		nodes.WithDefaults(defaults),
		nodes.WithSaveTimeout(cfg.Storage.SaveTimeout),
	)
	if err := registry.Load(ctx); err != nil {
		_ = registry.Close()
		_ = store.Close()
		return nil, nil, err
	}
	return registry, store, nil
}
