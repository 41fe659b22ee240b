package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/nodepool/internal/core/domain"
)

var nodeColumns = []string{
	"id", "group_id", "main_scheme", "main_host", "main_port",
	"service_scheme", "service_host", "service_port", "prefer_main", "enabled", "status",
	"height", "version", "ping_ns", "ws_enabled", "ws_port",
}

func newMockStore(t *testing.T) (*NodeStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewNodeStore(&DB{DB: sqlx.NewDb(db, "postgres")}), mock
}

func TestNodeStore_LoadBeforeFirstSave(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT saved_at FROM node_store_state").
		WillReturnRows(sqlmock.NewRows([]string{"saved_at"}))

	nodes, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, nodes)
}

func TestNodeStore_Load(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT saved_at FROM node_store_state").
		WillReturnRows(sqlmock.NewRows([]string{"saved_at"}).AddRow(int64(1700000000)))
	mock.ExpectQuery("SELECT id, group_id, main_scheme").
		WillReturnRows(sqlmock.NewRows(nodeColumns).
			AddRow("n1", "adm", "https", "a.example", 0, nil, nil, nil, true, true, "allowed", 100, "0.8.1", int64(25000000), true, 36668).
			AddRow("n2", "btc", "https", "b.example", 8332, "https", "gw.example", 443, nil, false, "offline", nil, "", nil, false, nil))

	nodes, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, "n1", nodes[0].ID)
	assert.Equal(t, "adm", nodes[0].Group)
	require.NotNil(t, nodes[0].Height)
	assert.Equal(t, 100, *nodes[0].Height)
	require.NotNil(t, nodes[0].PreferMain)
	assert.True(t, *nodes[0].PreferMain)
	assert.Nil(t, nodes[0].ServiceHost)

	require.NotNil(t, nodes[1].ServiceHost)
	assert.Equal(t, "gw.example", *nodes[1].ServiceHost)
	assert.Nil(t, nodes[1].Height)
	assert.False(t, nodes[1].Enabled)

	pair := domain.FromDTO(nodes[1])
	assert.Equal(t, domain.StatusOffline, pair.Node.Status)
	assert.Equal(t, domain.GroupBTC, pair.Group)
}

func TestNodeStore_LoadLegacy(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "scheme", "host", "port", "enabled"}).
			AddRow("", "eth", "https", "e.example", 0, true))

	legacy, err := store.LoadLegacy(context.Background())
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.Equal(t, "e.example", legacy[0].Host)
	assert.Empty(t, legacy[0].ID)
}

func TestNodeStore_Save(t *testing.T) {
	store, mock := newMockStore(t)

	dto := domain.NodeDTO{
		ID:         "n1",
		Group:      "adm",
		MainScheme: "https",
		MainHost:   "a.example",
		Enabled:    true,
		Status:     "unknown",
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM nodes").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO nodes").
		WithArgs("n1", "adm", 0, "https", "a.example", 0,
			nil, nil, nil, nil, true, "unknown",
			nil, "", nil, false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO node_store_state").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), []domain.NodeDTO{dto}))
}

func TestNodeStore_SaveEmptySkipsInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM nodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO node_store_state").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), nil))
}

func TestNodeStore_SaveRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM nodes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO nodes").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), []domain.NodeDTO{{ID: "n1", Group: "adm", Status: "unknown"}})
	assert.ErrorContains(t, err, "failed to insert nodes")
}
