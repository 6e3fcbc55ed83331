package duckdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
)

func TestGraphRepository_UpsertNode_RoundTrip(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	node, err := graph.NewNode("acme", graph.NodeTypeMemory, map[string]interface{}{
		"text":  "standup notes",
		"score": 0.75,
	})
	require.NoError(t, err)

	id, err := repo.UpsertNode(ctx, "acme", node)
	require.NoError(t, err)
	assert.Equal(t, node.ID, id)

	got, err := repo.GetNode(ctx, "acme", node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.ID, got.ID)
	assert.Equal(t, graph.NodeTypeMemory, got.Type)
	assert.Equal(t, "standup notes", got.Attributes["text"])
	assert.Equal(t, 0.75, got.Attributes["score"])
}

func TestGraphRepository_UpsertNode_UpdatesInPlace(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	node := mustNode(t, repo, "acme", graph.NodeTypeMemory)

	node.Type = graph.NodeTypeConcept
	node.Attributes = map[string]interface{}{"revised": true}
	_, err := repo.UpsertNode(ctx, "acme", node)
	require.NoError(t, err)

	got, err := repo.GetNode(ctx, "acme", node.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.NodeTypeConcept, got.Type)
	assert.Equal(t, true, got.Attributes["revised"])
}

func TestGraphRepository_UpsertNode_RevivesSoftDeleted(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	node := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	require.NoError(t, repo.DeleteNode(ctx, "acme", node.ID))

	_, err := repo.GetNode(ctx, "acme", node.ID)
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)

	_, err = repo.UpsertNode(ctx, "acme", node)
	require.NoError(t, err)

	got, err := repo.GetNode(ctx, "acme", node.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted())
}

func TestGraphRepository_UpsertNode_TenantScopeMismatch(t *testing.T) {
	repo := newTestGraphRepo(t)

	node, err := graph.NewNode("acme", graph.NodeTypeMemory, nil)
	require.NoError(t, err)

	_, err = repo.UpsertNode(context.Background(), "globex", node)
	requireErrorType(t, err, apperrors.ErrorTypeValidation)
}

func TestGraphRepository_GetNode_TenantIsolation(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	node := mustNode(t, repo, "acme", graph.NodeTypeMemory)

	// The same ID does not exist in another tenant's namespace
	_, err := repo.GetNode(ctx, "globex", node.ID)
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)
}

func TestGraphRepository_ListNodes(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustNode(t, repo, "acme", graph.NodeTypeConcept)
	mustNode(t, repo, "globex", graph.NodeTypeMemory)

	all, err := repo.ListNodes(ctx, "acme", ports.NodeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	memories, err := repo.ListNodes(ctx, "acme", ports.NodeFilter{Type: graph.NodeTypeMemory})
	require.NoError(t, err)
	assert.Len(t, memories, 2)

	limited, err := repo.ListNodes(ctx, "acme", ports.NodeFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGraphRepository_ListNodes_RejectsUnsafeFragment(t *testing.T) {
	repo := newTestGraphRepo(t)

	_, err := repo.ListNodes(context.Background(), "acme", ports.NodeFilter{
		TypeFragment: "node_type = 'memory' OR tenant_id = 'globex'",
	})
	requireErrorType(t, err, apperrors.ErrorTypeValidation)
}

func TestGraphRepository_ListNodes_FragmentCannotWidenPastTenantFilter(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	mustNode(t, repo, "acme", graph.NodeTypeMemory)
	other := mustNode(t, repo, "globex", graph.NodeTypeMemory)

	_, err := repo.ListNodes(ctx, "acme", ports.NodeFilter{
		TypeFragment: "node_type = 'memory' OR 1=1",
	})
	requireErrorType(t, err, apperrors.ErrorTypeValidation)

	nodes, err := repo.ListNodes(ctx, "acme", ports.NodeFilter{
		TypeFragment: "node_type IN ('memory', 'concept')",
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	for _, node := range nodes {
		assert.NotEqual(t, other.ID, node.ID)
		assert.Equal(t, graph.TenantID("acme"), node.TenantID)
	}
}

func TestGraphRepository_UpsertEdge_RejectsMissingEndpoint(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	source := mustNode(t, repo, "acme", graph.NodeTypeMemory)

	edge, err := graph.NewEdge("acme", source.ID, "no-such-node", graph.EdgeTypeReferences, nil)
	require.NoError(t, err)

	_, err = repo.UpsertEdge(ctx, "acme", edge)
	requireErrorType(t, err, apperrors.ErrorTypeIntegrity)

	// Nothing was written
	edges, err := repo.EdgesBetween(ctx, "acme", source.ID, "no-such-node")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestGraphRepository_UpsertEdge_RejectsDeletedEndpoint(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	source := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	target := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	require.NoError(t, repo.DeleteNode(ctx, "acme", target.ID))

	edge, err := graph.NewEdge("acme", source.ID, target.ID, graph.EdgeTypeReferences, nil)
	require.NoError(t, err)

	_, err = repo.UpsertEdge(ctx, "acme", edge)
	requireErrorType(t, err, apperrors.ErrorTypeIntegrity)
}

func TestGraphRepository_UpsertEdge_RejectsCrossTenantEndpoint(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	source := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	foreign := mustNode(t, repo, "globex", graph.NodeTypeMemory)

	edge, err := graph.NewEdge("acme", source.ID, foreign.ID, graph.EdgeTypeReferences, nil)
	require.NoError(t, err)

	_, err = repo.UpsertEdge(ctx, "acme", edge)
	requireErrorType(t, err, apperrors.ErrorTypeIntegrity)
}

func TestGraphRepository_EdgesBetween(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	edge := mustEdge(t, repo, "acme", a.ID, b.ID)

	edges, err := repo.EdgesBetween(ctx, "acme", a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, edge.ID, edges[0].ID)

	// Directed: the reverse direction is empty
	reverse, err := repo.EdgesBetween(ctx, "acme", b.ID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, reverse)
}

func TestGraphRepository_DeleteNode_CascadesEverything(t *testing.T) {
	store := newTestStore(t)
	repo := NewGraphRepository(store, 8, zapNop(), nil)
	entityRepo := NewEntityRepository(store, zapNop())
	integrityRepo := NewIntegrityRepository(store, zapNop(), nil)
	ctx := context.Background()

	victim := mustNode(t, repo, "acme", graph.NodeTypeDocument)
	neighbor := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustEdge(t, repo, "acme", victim.ID, neighbor.ID)
	mustEdge(t, repo, "acme", neighbor.ID, victim.ID)

	entity, err := graph.NewEntity("acme", victim.ID, "Ada", "person", nil)
	require.NoError(t, err)
	_, err = entityRepo.UpsertEntity(ctx, "acme", entity)
	require.NoError(t, err)

	other, err := graph.NewEntity("acme", neighbor.ID, "Babbage", "person", nil)
	require.NoError(t, err)
	_, err = entityRepo.UpsertEntity(ctx, "acme", other)
	require.NoError(t, err)

	entityEdge, err := graph.NewEntityEdge("acme", entity.ID, other.ID, "knows", nil)
	require.NoError(t, err)
	_, err = entityRepo.UpsertEntityEdge(ctx, "acme", entityEdge)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteNode(ctx, "acme", victim.ID))

	_, err = repo.GetNode(ctx, "acme", victim.ID)
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)

	edges, err := repo.EdgesBetween(ctx, "acme", victim.ID, neighbor.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)

	entities, err := entityRepo.EntitiesForNode(ctx, "acme", victim.ID)
	require.NoError(t, err)
	assert.Empty(t, entities)

	// The cascade left no dangling references behind
	orphans, err := integrityRepo.ScanOrphans(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// The untouched neighbor and its entity survive
	_, err = repo.GetNode(ctx, "acme", neighbor.ID)
	require.NoError(t, err)
	remaining, err := entityRepo.EntitiesForNode(ctx, "acme", neighbor.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestGraphRepository_DeleteNode_NotFound(t *testing.T) {
	repo := newTestGraphRepo(t)

	err := repo.DeleteNode(context.Background(), "acme", "no-such-node")
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)
}

func TestGraphRepository_FindRelated_HopDistances(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	// a -> b -> c -> d, plus a -> c shortcut
	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	c := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	d := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustEdge(t, repo, "acme", a.ID, b.ID)
	mustEdge(t, repo, "acme", b.ID, c.ID)
	mustEdge(t, repo, "acme", c.ID, d.ID)
	mustEdge(t, repo, "acme", a.ID, c.ID)

	neighbors, err := repo.FindRelated(ctx, "acme", a.ID, 3)
	require.NoError(t, err)
	require.Len(t, neighbors, 3)

	hops := map[string]int{}
	for _, n := range neighbors {
		hops[n.Node.ID] = n.Hops
	}
	assert.Equal(t, 1, hops[b.ID])
	assert.Equal(t, 1, hops[c.ID]) // shortcut wins over the two-hop route
	assert.Equal(t, 2, hops[d.ID])

	// Results come back ordered by hop distance
	for i := 1; i < len(neighbors); i++ {
		assert.GreaterOrEqual(t, neighbors[i].Hops, neighbors[i-1].Hops)
	}
}

func TestGraphRepository_FindRelated_TraversesUndirected(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustEdge(t, repo, "acme", b.ID, a.ID) // edge points at a

	neighbors, err := repo.FindRelated(ctx, "acme", a.ID, 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, b.ID, neighbors[0].Node.ID)
}

func TestGraphRepository_FindRelated_RespectsMaxHops(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	c := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustEdge(t, repo, "acme", a.ID, b.ID)
	mustEdge(t, repo, "acme", b.ID, c.ID)

	neighbors, err := repo.FindRelated(ctx, "acme", a.ID, 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, b.ID, neighbors[0].Node.ID)
}

func TestGraphRepository_FindRelated_MissingStart(t *testing.T) {
	repo := newTestGraphRepo(t)

	_, err := repo.FindRelated(context.Background(), "acme", "no-such-node", 2)
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)
}

func TestGraphRepository_FindRelated_SkipsDeletedNodes(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustEdge(t, repo, "acme", a.ID, b.ID)
	require.NoError(t, repo.DeleteNode(ctx, "acme", b.ID))

	neighbors, err := repo.FindRelated(ctx, "acme", a.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}

func TestGraphRepository_ShortestPath(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	c := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	d := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustEdge(t, repo, "acme", a.ID, b.ID)
	mustEdge(t, repo, "acme", b.ID, c.ID)
	mustEdge(t, repo, "acme", c.ID, d.ID)

	path, err := repo.ShortestPath(ctx, "acme", a.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, path.Hops)
	assert.Equal(t, []string{a.ID, b.ID, c.ID, d.ID}, path.NodeIDs)
	require.Len(t, path.Nodes, 4)
	assert.Equal(t, a.ID, path.Nodes[0].ID)
	assert.Equal(t, d.ID, path.Nodes[3].ID)
}

func TestGraphRepository_ShortestPath_PrefersFewerHops(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	c := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	mustEdge(t, repo, "acme", a.ID, b.ID)
	mustEdge(t, repo, "acme", b.ID, c.ID)
	mustEdge(t, repo, "acme", a.ID, c.ID)

	path, err := repo.ShortestPath(ctx, "acme", a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, path.Hops)
	assert.Equal(t, []string{a.ID, c.ID}, path.NodeIDs)
}

func TestGraphRepository_ShortestPath_SameNode(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)

	path, err := repo.ShortestPath(ctx, "acme", a.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, path.Hops)
	assert.Equal(t, []string{a.ID}, path.NodeIDs)
}

func TestGraphRepository_ShortestPath_NoRoute(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)

	_, err := repo.ShortestPath(ctx, "acme", a.ID, b.ID)
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)
}

func TestGraphRepository_ShortestPath_DoesNotCrossTenants(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	// Two tenants share node IDs only by coincidence; edges of one tenant
	// must never connect the other's nodes.
	a := mustNode(t, repo, "acme", graph.NodeTypeMemory)
	b := mustNode(t, repo, "acme", graph.NodeTypeMemory)

	ga := &graph.Node{ID: a.ID, TenantID: "globex", Type: graph.NodeTypeMemory, CreatedAt: a.CreatedAt}
	gb := &graph.Node{ID: b.ID, TenantID: "globex", Type: graph.NodeTypeMemory, CreatedAt: b.CreatedAt}
	_, err := repo.UpsertNode(ctx, "globex", ga)
	require.NoError(t, err)
	_, err = repo.UpsertNode(ctx, "globex", gb)
	require.NoError(t, err)
	mustEdge(t, repo, "globex", ga.ID, gb.ID)

	_, err = repo.ShortestPath(ctx, "acme", a.ID, b.ID)
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)
}

func TestGraphRepository_ApplyBatch_Atomic(t *testing.T) {
	repo := newTestGraphRepo(t)
	ctx := context.Background()

	good, err := graph.NewNode("acme", graph.NodeTypeMemory, nil)
	require.NoError(t, err)
	badEdge, err := graph.NewEdge("acme", good.ID, "no-such-node", graph.EdgeTypeReferences, nil)
	require.NoError(t, err)

	err = repo.ApplyBatch(ctx, "acme", ports.WriteBatch{
		Nodes: []*graph.Node{good},
		Edges: []*graph.Edge{badEdge},
	})
	requireErrorType(t, err, apperrors.ErrorTypeIntegrity)

	// The valid node rolled back with the failing edge
	_, err = repo.GetNode(ctx, "acme", good.ID)
	requireErrorType(t, err, apperrors.ErrorTypeNotFound)
}

func TestGraphRepository_ApplyBatch_FullIngestion(t *testing.T) {
	store := newTestStore(t)
	repo := NewGraphRepository(store, 8, zapNop(), nil)
	entityRepo := NewEntityRepository(store, zapNop())
	ctx := context.Background()

	doc, err := graph.NewNode("acme", graph.NodeTypeDocument, map[string]interface{}{"title": "design doc"})
	require.NoError(t, err)
	memo, err := graph.NewNode("acme", graph.NodeTypeMemory, nil)
	require.NoError(t, err)
	edge, err := graph.NewEdge("acme", memo.ID, doc.ID, graph.EdgeTypeDerivedFrom, nil)
	require.NoError(t, err)
	entity, err := graph.NewEntity("acme", doc.ID, "Meshmind", "product", nil)
	require.NoError(t, err)

	err = repo.ApplyBatch(ctx, "acme", ports.WriteBatch{
		Nodes:    []*graph.Node{doc, memo},
		Edges:    []*graph.Edge{edge},
		Entities: []*graph.Entity{entity},
	})
	require.NoError(t, err)

	edges, err := repo.EdgesBetween(ctx, "acme", memo.ID, doc.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	entities, err := entityRepo.EntitiesForNode(ctx, "acme", doc.ID)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestGraphRepository_ApplyBatch_Empty(t *testing.T) {
	repo := newTestGraphRepo(t)
	require.NoError(t, repo.ApplyBatch(context.Background(), "acme", ports.WriteBatch{}))
}
