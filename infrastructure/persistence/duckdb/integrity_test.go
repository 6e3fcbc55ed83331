package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
)

// dropNodeWithoutCascade soft-deletes a node directly, bypassing the cascade.
// This is the crash window the scanner exists for.
func dropNodeWithoutCascade(t *testing.T, store *Store, tenantID graph.TenantID, nodeID string) {
	t.Helper()
	_, err := store.db.ExecContext(context.Background(),
		`UPDATE graph_nodes SET deleted_at = ? WHERE tenant_id = ? AND id = ?`,
		time.Now().UTC(), tenantID.String(), nodeID,
	)
	require.NoError(t, err)
}

func TestIntegrityRepository_ScanOrphans_Clean(t *testing.T) {
	store := newTestStore(t)
	graphRepo := NewGraphRepository(store, 8, zapNop(), nil)
	repo := NewIntegrityRepository(store, zapNop(), nil)
	ctx := context.Background()

	a := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	mustEdge(t, graphRepo, "acme", a.ID, b.ID)

	orphans, err := repo.ScanOrphans(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestIntegrityRepository_ScanOrphans_FindsDanglingRows(t *testing.T) {
	store := newTestStore(t)
	graphRepo := NewGraphRepository(store, 8, zapNop(), nil)
	entityRepo := NewEntityRepository(store, zapNop())
	repo := NewIntegrityRepository(store, zapNop(), nil)
	ctx := context.Background()

	a := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	edge := mustEdge(t, graphRepo, "acme", a.ID, b.ID)

	entity, err := graph.NewEntity("acme", b.ID, "Ada", "person", nil)
	require.NoError(t, err)
	_, err = entityRepo.UpsertEntity(ctx, "acme", entity)
	require.NoError(t, err)

	dropNodeWithoutCascade(t, store, "acme", b.ID)

	orphans, err := repo.ScanOrphans(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, orphans, 2)

	byTable := map[string]string{}
	for _, orphan := range orphans {
		byTable[orphan.Table] = orphan.RowID
		assert.Equal(t, b.ID, orphan.MissingID)
		assert.Equal(t, graph.TenantID("acme"), orphan.TenantID)
	}
	assert.Equal(t, edge.ID, byTable["graph_edges"])
	assert.Equal(t, entity.ID, byTable["entities"])
}

func TestIntegrityRepository_ScanOrphans_TenantScoped(t *testing.T) {
	store := newTestStore(t)
	graphRepo := NewGraphRepository(store, 8, zapNop(), nil)
	repo := NewIntegrityRepository(store, zapNop(), nil)
	ctx := context.Background()

	a := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	mustEdge(t, graphRepo, "acme", a.ID, b.ID)
	dropNodeWithoutCascade(t, store, "acme", b.ID)

	orphans, err := repo.ScanOrphans(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestIntegrityRepository_RepairOrphans(t *testing.T) {
	store := newTestStore(t)
	graphRepo := NewGraphRepository(store, 8, zapNop(), nil)
	repo := NewIntegrityRepository(store, zapNop(), nil)
	ctx := context.Background()

	a := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	mustEdge(t, graphRepo, "acme", a.ID, b.ID)
	dropNodeWithoutCascade(t, store, "acme", b.ID)

	orphans, err := repo.ScanOrphans(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	repaired, err := repo.RepairOrphans(ctx, "acme", orphans)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	// A second scan comes back clean
	orphans, err = repo.ScanOrphans(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestIntegrityRepository_RepairOrphans_AlreadyRepairedIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	graphRepo := NewGraphRepository(store, 8, zapNop(), nil)
	repo := NewIntegrityRepository(store, zapNop(), nil)
	ctx := context.Background()

	a := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, graphRepo, "acme", graph.NodeTypeMemory)
	mustEdge(t, graphRepo, "acme", a.ID, b.ID)
	dropNodeWithoutCascade(t, store, "acme", b.ID)

	orphans, err := repo.ScanOrphans(ctx, "acme")
	require.NoError(t, err)

	_, err = repo.RepairOrphans(ctx, "acme", orphans)
	require.NoError(t, err)

	// Repairing the same set again touches no rows
	repaired, err := repo.RepairOrphans(ctx, "acme", orphans)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
}

func TestIntegrityRepository_RepairOrphans_RejectsUnknownTable(t *testing.T) {
	store := newTestStore(t)
	repo := NewIntegrityRepository(store, zapNop(), nil)

	_, err := repo.RepairOrphans(context.Background(), "acme", []ports.Orphan{
		{Table: "schema_migrations", RowID: "1", TenantID: "acme"},
	})
	requireErrorType(t, err, apperrors.ErrorTypeValidation)
}
