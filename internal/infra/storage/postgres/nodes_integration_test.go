//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/nodes"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("nodepool_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func TestNodeStore_Integration(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	for _, driver := range []string{"pgx", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			db, err := NewDB(ctx, Config{URL: url, Driver: driver})
			require.NoError(t, err)
			defer db.Close()
			require.NoError(t, db.Migrate(ctx))

			_, err = db.ExecContext(ctx, `DELETE FROM node_store_state`)
			require.NoError(t, err)

			store := NewNodeStore(db)
			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, loaded)

			defaults := map[domain.GroupID][]domain.Node{
				domain.GroupADM: {
					domain.NewNode(domain.Origin{Scheme: "https", Host: "a.example"}, nil),
					domain.NewNode(domain.Origin{Scheme: "https", Host: "b.example"},
						&domain.Origin{Scheme: "https", Host: "gw.example", Port: 8443}),
				},
			}

			reg := nodes.NewRegistry(store, nodes.WithDefaults(defaults))
			require.NoError(t, reg.Load(ctx))
			first := reg.Nodes(domain.GroupADM)
			_, err = reg.UpdateNode(first[0].ID, func(n *domain.Node) {
				n.Status = domain.StatusAllowed
				n.Height = domain.Ptr(4242)
				n.Ping = domain.Ptr(30 * time.Millisecond)
			})
			require.NoError(t, err)
			require.NoError(t, reg.Flush(ctx))
			require.NoError(t, reg.Close())

			again := nodes.NewRegistry(store, nodes.WithDefaults(defaults))
			defer again.Close()
			require.NoError(t, again.Load(ctx))

			got := again.Nodes(domain.GroupADM)
			require.Len(t, got, 2)
			assert.Equal(t, first[0].ID, got[0].ID)
			assert.Equal(t, domain.StatusAllowed, got[0].Status)
			assert.Equal(t, 4242, *got[0].Height)
			require.NotNil(t, got[1].Service)
			assert.Equal(t, 8443, got[1].Service.Port)
		})
	}
}
