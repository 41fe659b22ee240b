package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/nodepool/internal/core/domain"
)

func newMockStore(t *testing.T) (*NodeStore, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewNodeStore(Wrap(db), "test"), mock
}

func TestNodeStore_LoadEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectGet("test:nodes:v2").RedisNil()

	nodes, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, nodes)
}

func TestNodeStore_SaveAndLoad(t *testing.T) {
	store, mock := newMockStore(t)

	n := domain.NewNode(domain.Origin{Scheme: "https", Host: "a.example"}, nil)
	n.Status = domain.StatusAllowed
	dtos := []domain.NodeDTO{domain.ToDTO(domain.NodeWithGroup{Group: domain.GroupADM, Node: n})}
	data, err := json.Marshal(dtos)
	require.NoError(t, err)

	mock.ExpectSet("test:nodes:v2", data, 0).SetVal("OK")
	require.NoError(t, store.Save(context.Background(), dtos))

	mock.ExpectGet("test:nodes:v2").SetVal(string(data))
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dtos, got)
}

func TestNodeStore_SavedEmptyListIsNotNil(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectGet("test:nodes:v2").SetVal("[]")

	nodes, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
}

func TestNodeStore_LoadLegacy(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectGet("test:nodes:v1").SetVal(`[{"group":"btc","scheme":"https","host":"b.example","port":0,"enabled":true}]`)

	legacy, err := store.LoadLegacy(context.Background())
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.Equal(t, "b.example", legacy[0].Host)
	assert.Equal(t, "btc", legacy[0].Group)
}

func TestNodeStore_Errors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectGet("test:nodes:v2").SetErr(errors.New("connection reset"))
	_, err := store.Load(context.Background())
	assert.ErrorContains(t, err, "get nodes failed")

	mock.ExpectGet("test:nodes:v2").SetVal("not json")
	_, err = store.Load(context.Background())
	assert.ErrorContains(t, err, "unmarshal")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "nodepool:nodes:v2", nodesKey(defaultPrefix))
	assert.Equal(t, "nodepool:nodes:v1", legacyNodesKey(defaultPrefix))
}
