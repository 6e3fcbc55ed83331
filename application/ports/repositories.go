package ports

import (
	"context"
	"time"

	"meshmind-backend/domain/graph"
)

// WriteBatch groups the rows of one logical ingestion operation. The store
// applies the whole batch in a single transaction; a reader never observes a
// partially applied batch.
type WriteBatch struct {
	Nodes       []*graph.Node
	Edges       []*graph.Edge
	Entities    []*graph.Entity
	EntityEdges []*graph.EntityEdge
}

// IsEmpty reports whether the batch contains no rows
func (b WriteBatch) IsEmpty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0 && len(b.Entities) == 0 && len(b.EntityEdges) == 0
}

// GraphRepository defines the interface for node and edge persistence.
// This is a port in hexagonal architecture - the domain doesn't know about
// the implementation. Every operation is scoped to a single tenant and the
// implementation must apply the tenant filter as the first predicate of
// every statement.
type GraphRepository interface {
	// UpsertNode creates or updates a node and returns its ID
	UpsertNode(ctx context.Context, tenantID graph.TenantID, node *graph.Node) (string, error)

	// GetNode retrieves a live node by ID
	GetNode(ctx context.Context, tenantID graph.TenantID, nodeID string) (*graph.Node, error)

	// DeleteNode soft-deletes a node and cascades to every edge touching it,
	// every entity derived from it, and every entity edge touching those
	// entities, all inside one transaction
	DeleteNode(ctx context.Context, tenantID graph.TenantID, nodeID string) error

	// UpsertEdge creates or updates an edge and returns its ID. Fails with an
	// integrity error when source or target is missing, soft-deleted, or
	// belongs to a different tenant; nothing is written in that case.
	UpsertEdge(ctx context.Context, tenantID graph.TenantID, edge *graph.Edge) (string, error)

	// EdgesBetween retrieves live edges from sourceID to targetID
	EdgesBetween(ctx context.Context, tenantID graph.TenantID, sourceID, targetID string) ([]*graph.Edge, error)

	// FindRelated traverses up to maxHops from startID and returns reachable
	// live nodes ordered by hop distance
	FindRelated(ctx context.Context, tenantID graph.TenantID, startID string, maxHops int) ([]graph.Neighbor, error)

	// ShortestPath returns the minimum-hop path between two nodes, or a not
	// found error when no path exists within the traversal limit
	ShortestPath(ctx context.Context, tenantID graph.TenantID, fromID, toID string) (*graph.Path, error)

	// ListNodes retrieves live nodes matching the filter, newest first
	ListNodes(ctx context.Context, tenantID graph.TenantID, filter NodeFilter) ([]*graph.Node, error)

	// ApplyBatch applies one logical write batch in a single transaction
	ApplyBatch(ctx context.Context, tenantID graph.TenantID, batch WriteBatch) error
}

// NodeFilter narrows a node listing. TypeFragment is an optional raw filter
// fragment from query tooling; implementations must reject fragments that
// could widen the tenant scope.
type NodeFilter struct {
	Type         graph.NodeType
	TypeFragment string
	Limit        int
}

// EntityRepository defines the interface for extracted entity persistence,
// the finer-grained parallel of GraphRepository with the same isolation and
// integrity rules
type EntityRepository interface {
	// UpsertEntity creates or updates an entity and returns its ID. The
	// origin node must be a live node of the same tenant.
	UpsertEntity(ctx context.Context, tenantID graph.TenantID, entity *graph.Entity) (string, error)

	// UpsertEntityEdge creates or updates an entity edge and returns its ID.
	// Both endpoints must be live entities of the same tenant.
	UpsertEntityEdge(ctx context.Context, tenantID graph.TenantID, edge *graph.EntityEdge) (string, error)

	// EntitiesForNode retrieves the live entities derived from a node
	EntitiesForNode(ctx context.Context, tenantID graph.TenantID, nodeID string) ([]*graph.Entity, error)
}

// Orphan locates a row whose reference does not resolve to a live row. Enough
// detail is carried to find the offending row by hand.
type Orphan struct {
	Table     string
	RowID     string
	TenantID  graph.TenantID
	ColumnRef string
	MissingID string
}

// IntegrityRepository is the reconciliation-scan port used by the integrity
// scanner as a safety net behind the write-path checks
type IntegrityRepository interface {
	// ScanOrphans finds edges, entities, and entity edges whose references
	// are missing, soft-deleted, or tenant-mismatched
	ScanOrphans(ctx context.Context, tenantID graph.TenantID) ([]Orphan, error)

	// RepairOrphans soft-deletes the given orphaned rows and returns how many
	// were repaired
	RepairOrphans(ctx context.Context, tenantID graph.TenantID, orphans []Orphan) (int, error)
}

// TableStats summarises live row counts, used by readiness checks and metrics
type TableStats struct {
	Nodes       int64
	Edges       int64
	Entities    int64
	EntityEdges int64
}

// StoreAdmin exposes operational store concerns that are neither graph reads
// nor graph writes
type StoreAdmin interface {
	// Ping verifies the embedded engine connection is responsive
	Ping(ctx context.Context) error

	// Stats returns live row counts per table
	Stats(ctx context.Context) (TableStats, error)
}

// HydrationState describes how much durable state a store instance has loaded
type HydrationState string

const (
	// HydrationStateCold means no snapshot has been loaded yet
	HydrationStateCold HydrationState = "cold"
	// HydrationStatePartial means core tables are queryable but background
	// partition loads are still running
	HydrationStatePartial HydrationState = "partial"
	// HydrationStateComplete means every partition has been loaded
	HydrationStateComplete HydrationState = "complete"
	// HydrationStateReconcileRequired means local writes may have raced a
	// lapsed lock lease; exports are suppressed until re-hydration
	HydrationStateReconcileRequired HydrationState = "reconcile_required"
)

// HydrationReport is the outcome of a cold-start hydration
type HydrationReport struct {
	Version       string
	State         HydrationState
	LoadedTables  []string
	PendingTables []string
	Duration      time.Duration
}
