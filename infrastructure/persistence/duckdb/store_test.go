package duckdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
)

func zapNop() *zap.Logger {
	return zap.NewNop()
}

// newTestStore opens an in-memory store with the full migration set applied
func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := zap.NewNop()
	store, err := Open("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager, err := NewMigrationManager(store, Migrations, logger)
	require.NoError(t, err)
	require.NoError(t, manager.ApplyPending(context.Background()))
	return store
}

func newTestGraphRepo(t *testing.T) *GraphRepository {
	t.Helper()
	return NewGraphRepository(newTestStore(t), 8, zap.NewNop(), nil)
}

// mustNode creates and persists a node, failing the test on any error
func mustNode(t *testing.T, repo *GraphRepository, tenantID graph.TenantID, nodeType graph.NodeType) *graph.Node {
	t.Helper()

	node, err := graph.NewNode(tenantID, nodeType, nil)
	require.NoError(t, err)
	_, err = repo.UpsertNode(context.Background(), tenantID, node)
	require.NoError(t, err)
	return node
}

// mustEdge links two persisted nodes, failing the test on any error
func mustEdge(t *testing.T, repo *GraphRepository, tenantID graph.TenantID, sourceID, targetID string) *graph.Edge {
	t.Helper()

	edge, err := graph.NewEdge(tenantID, sourceID, targetID, graph.EdgeTypeRelatedTo, nil)
	require.NoError(t, err)
	_, err = repo.UpsertEdge(context.Background(), tenantID, edge)
	require.NoError(t, err)
	return edge
}

// requireErrorType asserts err is an AppError of the given type
func requireErrorType(t *testing.T, err error, errType apperrors.ErrorType) *apperrors.AppError {
	t.Helper()

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errType, appErr.Type)
	return appErr
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
}

func TestStore_Stats_CountsLiveRowsOnly(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustNode(t, repo, "acme", graph.NodeTypeConcept)
	require.NoError(t, repo.DeleteNode(ctx, "acme", a.ID))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Nodes)
}
