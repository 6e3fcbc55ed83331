package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
	"meshmind-backend/pkg/observability"
)

const nodeColumns = "id, tenant_id, node_type, attributes, created_at, deleted_at"
const edgeColumns = "id, tenant_id, source_id, target_id, edge_type, weight, created_at, deleted_at"

// pathSeparator joins node IDs when a traversal path is rendered to a single
// column. Unit separator: not representable in validated identifiers.
const pathSeparator = "\x1f"

// GraphRepository implements node/edge persistence and property-graph
// traversal on the embedded store. Every statement carries the tenant filter
// as its first predicate, and referential integrity is checked in the write
// path because the engine has no native foreign keys.
type GraphRepository struct {
	store          *Store
	traversalLimit int
	logger         *zap.Logger
	metrics        *observability.Collector
}

// NewGraphRepository creates a graph repository over the store.
// traversalLimit bounds every path search; metrics may be nil in tests.
func NewGraphRepository(store *Store, traversalLimit int, logger *zap.Logger, metrics *observability.Collector) *GraphRepository {
	if traversalLimit <= 0 {
		traversalLimit = 8
	}
	return &GraphRepository{
		store:          store,
		traversalLimit: traversalLimit,
		logger:         logger,
		metrics:        metrics,
	}
}

// Ping verifies the embedded engine connection is responsive
func (r *GraphRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Stats returns live row counts per table
func (r *GraphRepository) Stats(ctx context.Context) (ports.TableStats, error) {
	return r.store.Stats(ctx)
}

// UpsertNode creates or updates a node and returns its ID
func (r *GraphRepository) UpsertNode(ctx context.Context, tenantID graph.TenantID, node *graph.Node) (string, error) {
	if err := validateTenantScope(tenantID, node.TenantID); err != nil {
		return "", err
	}
	if err := node.Validate(); err != nil {
		return "", apperrors.NewValidationError(err.Error())
	}

	err := r.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		return upsertNodeTx(ctx, tx, node)
	})
	if err != nil {
		return "", err
	}
	return node.ID, nil
}

// GetNode retrieves a live node by ID
func (r *GraphRepository) GetNode(ctx context.Context, tenantID graph.TenantID, nodeID string) (*graph.Node, error) {
	query, args := newTenantQuery(nodeColumns, tableNodes, tenantID).
		Where("id = ?", nodeID).
		Live().
		Build()

	node, err := scanNode(r.store.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("node").WithDetail("node_id", nodeID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_node", err)
	}
	return node, nil
}

// ListNodes retrieves live nodes matching the filter, newest first
func (r *GraphRepository) ListNodes(ctx context.Context, tenantID graph.TenantID, filter ports.NodeFilter) ([]*graph.Node, error) {
	start := time.Now()

	q := newTenantQuery(nodeColumns, tableNodes, tenantID).Live()
	if filter.Type != "" {
		q.Where("node_type = ?", string(filter.Type))
	}
	if filter.TypeFragment != "" {
		var err error
		q, err = q.WhereFragment(filter.TypeFragment)
		if err != nil {
			return nil, apperrors.NewValidationError(err.Error())
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query, args := q.OrderBy("created_at DESC, id").Limit(limit).Build()

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_nodes", err)
	}
	defer rows.Close()

	var nodes []*graph.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("list_nodes", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_nodes", err)
	}

	r.observe("list_nodes", start, len(nodes))
	return nodes, nil
}

// DeleteNode soft-deletes a node and cascades to its edges, derived entities,
// and their entity edges in one transaction
func (r *GraphRepository) DeleteNode(ctx context.Context, tenantID graph.TenantID, nodeID string) error {
	now := time.Now().UTC()

	return r.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE graph_nodes SET deleted_at = ? WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL`,
			now, tenantID.String(), nodeID,
		)
		if err != nil {
			return apperrors.NewDatabaseError("delete_node", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return apperrors.NewDatabaseError("delete_node", err)
		}
		if affected == 0 {
			return apperrors.NewNotFoundError("node").WithDetail("node_id", nodeID)
		}

		// Edges in either direction
		if _, err := tx.ExecContext(ctx,
			`UPDATE graph_edges SET deleted_at = ?
			 WHERE tenant_id = ? AND deleted_at IS NULL AND (source_id = ? OR target_id = ?)`,
			now, tenantID.String(), nodeID, nodeID,
		); err != nil {
			return apperrors.NewDatabaseError("delete_node_edges", err)
		}

		// Entity edges touching entities derived from the node, before the
		// entities themselves are marked
		if _, err := tx.ExecContext(ctx,
			`UPDATE entity_edges SET deleted_at = ?
			 WHERE tenant_id = ? AND deleted_at IS NULL AND (
			 	source_entity_id IN (SELECT id FROM entities WHERE tenant_id = ? AND node_id = ?)
			 	OR target_entity_id IN (SELECT id FROM entities WHERE tenant_id = ? AND node_id = ?)
			 )`,
			now, tenantID.String(), tenantID.String(), nodeID, tenantID.String(), nodeID,
		); err != nil {
			return apperrors.NewDatabaseError("delete_node_entity_edges", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET deleted_at = ?
			 WHERE tenant_id = ? AND deleted_at IS NULL AND node_id = ?`,
			now, tenantID.String(), nodeID,
		); err != nil {
			return apperrors.NewDatabaseError("delete_node_entities", err)
		}

		r.logger.Debug("Node deleted with cascade",
			zap.String("tenant_id", tenantID.String()),
			zap.String("node_id", nodeID),
		)
		return nil
	})
}

// UpsertEdge creates or updates an edge after verifying both endpoints are
// live nodes of the same tenant. The check and the insert share one
// transaction so the integrity guarantee holds under concurrent deletes.
func (r *GraphRepository) UpsertEdge(ctx context.Context, tenantID graph.TenantID, edge *graph.Edge) (string, error) {
	if err := validateTenantScope(tenantID, edge.TenantID); err != nil {
		return "", err
	}
	if err := edge.Validate(); err != nil {
		return "", apperrors.NewValidationError(err.Error())
	}

	err := r.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		return upsertEdgeTx(ctx, tx, edge)
	})
	if err != nil {
		return "", err
	}
	return edge.ID, nil
}

// EdgesBetween retrieves live edges from sourceID to targetID
func (r *GraphRepository) EdgesBetween(ctx context.Context, tenantID graph.TenantID, sourceID, targetID string) ([]*graph.Edge, error) {
	query, args := newTenantQuery(edgeColumns, tableEdges, tenantID).
		Where("source_id = ?", sourceID).
		Where("target_id = ?", targetID).
		Live().
		OrderBy("created_at, id").
		Build()

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("edges_between", err)
	}
	defer rows.Close()

	var edges []*graph.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("edges_between", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// FindRelated traverses up to maxHops from startID over live edges in either
// direction and returns reachable nodes ordered by hop distance
func (r *GraphRepository) FindRelated(ctx context.Context, tenantID graph.TenantID, startID string, maxHops int) ([]graph.Neighbor, error) {
	start := time.Now()

	if maxHops <= 0 {
		return nil, apperrors.NewValidationError("max_hops must be positive")
	}
	if maxHops > r.traversalLimit {
		maxHops = r.traversalLimit
	}

	// A traversal from a missing or deleted node is a lookup error, not an
	// empty result
	if _, err := r.GetNode(ctx, tenantID, startID); err != nil {
		return nil, err
	}

	query := `
		WITH RECURSIVE reachable(id, hops) AS (
			SELECT CAST(? AS VARCHAR), 0
			UNION ALL
			SELECT CASE WHEN e.source_id = r.id THEN e.target_id ELSE e.source_id END,
			       r.hops + 1
			FROM graph_edges e
			JOIN reachable r ON (e.source_id = r.id OR e.target_id = r.id)
			WHERE e.tenant_id = ? AND e.deleted_at IS NULL AND r.hops < ?
		)
		SELECT n.id, n.tenant_id, n.node_type, n.attributes, n.created_at, n.deleted_at, MIN(r.hops) AS hops
		FROM reachable r
		JOIN graph_nodes n ON n.tenant_id = ? AND n.id = r.id AND n.deleted_at IS NULL
		WHERE r.hops > 0 AND n.id <> ?
		GROUP BY n.id, n.tenant_id, n.node_type, n.attributes, n.created_at, n.deleted_at
		ORDER BY hops, n.id`

	rows, err := r.store.db.QueryContext(ctx, query,
		startID, tenantID.String(), maxHops, tenantID.String(), startID,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find_related", err)
	}
	defer rows.Close()

	var neighbors []graph.Neighbor
	for rows.Next() {
		var hops int
		node, err := scanNodeWith(rows, &hops)
		if err != nil {
			return nil, apperrors.NewDatabaseError("find_related", err)
		}
		neighbors = append(neighbors, graph.Neighbor{Node: node, Hops: hops})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("find_related", err)
	}

	r.observe("find_related", start, len(neighbors))
	if r.metrics != nil {
		r.metrics.TraversalDepth.Observe(float64(maxHops))
	}
	return neighbors, nil
}

// ShortestPath returns the minimum-hop path between two nodes, or a not found
// error when no path exists within the traversal limit
func (r *GraphRepository) ShortestPath(ctx context.Context, tenantID graph.TenantID, fromID, toID string) (*graph.Path, error) {
	start := time.Now()

	if _, err := r.GetNode(ctx, tenantID, fromID); err != nil {
		return nil, err
	}
	if _, err := r.GetNode(ctx, tenantID, toID); err != nil {
		return nil, err
	}

	if fromID == toID {
		node, err := r.GetNode(ctx, tenantID, fromID)
		if err != nil {
			return nil, err
		}
		return &graph.Path{NodeIDs: []string{fromID}, Nodes: []*graph.Node{node}, Hops: 0}, nil
	}

	// Breadth-first path enumeration with cycle suppression; the first row
	// ordered by hop count is a minimum-hop path.
	query := `
		WITH RECURSIVE paths(id, path, hops) AS (
			SELECT CAST(? AS VARCHAR), list_value(CAST(? AS VARCHAR)), 0
			UNION ALL
			SELECT CASE WHEN e.source_id = p.id THEN e.target_id ELSE e.source_id END,
			       list_append(p.path, CASE WHEN e.source_id = p.id THEN e.target_id ELSE e.source_id END),
			       p.hops + 1
			FROM graph_edges e
			JOIN paths p ON (e.source_id = p.id OR e.target_id = p.id)
			WHERE e.tenant_id = ? AND e.deleted_at IS NULL
			  AND p.hops < ?
			  AND NOT list_contains(p.path, CASE WHEN e.source_id = p.id THEN e.target_id ELSE e.source_id END)
		)
		SELECT array_to_string(path, ?), hops
		FROM paths
		WHERE id = ?
		ORDER BY hops
		LIMIT 1`

	var joined string
	var hops int
	err := r.store.db.QueryRowContext(ctx, query,
		fromID, fromID, tenantID.String(), r.traversalLimit, pathSeparator, toID,
	).Scan(&joined, &hops)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("path").
			WithDetail("from_id", fromID).
			WithDetail("to_id", toID).
			WithDetail("traversal_limit", r.traversalLimit)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("shortest_path", err)
	}

	nodeIDs := strings.Split(joined, pathSeparator)
	nodes, err := r.nodesByID(ctx, tenantID, nodeIDs)
	if err != nil {
		return nil, err
	}

	r.observe("shortest_path", start, len(nodeIDs))
	if r.metrics != nil {
		r.metrics.TraversalDepth.Observe(float64(hops))
	}
	return &graph.Path{NodeIDs: nodeIDs, Nodes: nodes, Hops: hops}, nil
}

// ApplyBatch applies one logical write batch in a single transaction. Either
// every row lands or none do; integrity failures roll back the whole batch.
func (r *GraphRepository) ApplyBatch(ctx context.Context, tenantID graph.TenantID, batch ports.WriteBatch) error {
	if batch.IsEmpty() {
		return nil
	}

	return r.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, node := range batch.Nodes {
			if err := validateTenantScope(tenantID, node.TenantID); err != nil {
				return err
			}
			if err := node.Validate(); err != nil {
				return apperrors.NewValidationError(err.Error())
			}
			if err := upsertNodeTx(ctx, tx, node); err != nil {
				return err
			}
		}
		for _, edge := range batch.Edges {
			if err := validateTenantScope(tenantID, edge.TenantID); err != nil {
				return err
			}
			if err := edge.Validate(); err != nil {
				return apperrors.NewValidationError(err.Error())
			}
			if err := upsertEdgeTx(ctx, tx, edge); err != nil {
				return err
			}
		}
		for _, entity := range batch.Entities {
			if err := validateTenantScope(tenantID, entity.TenantID); err != nil {
				return err
			}
			if err := entity.Validate(); err != nil {
				return apperrors.NewValidationError(err.Error())
			}
			if err := upsertEntityTx(ctx, tx, entity); err != nil {
				return err
			}
		}
		for _, entityEdge := range batch.EntityEdges {
			if err := validateTenantScope(tenantID, entityEdge.TenantID); err != nil {
				return err
			}
			if err := entityEdge.Validate(); err != nil {
				return apperrors.NewValidationError(err.Error())
			}
			if err := upsertEntityEdgeTx(ctx, tx, entityEdge); err != nil {
				return err
			}
		}
		return nil
	})
}

// nodesByID fetches live nodes preserving the order of ids
func (r *GraphRepository) nodesByID(ctx context.Context, tenantID graph.TenantID, ids []string) ([]*graph.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	q := newTenantQuery(nodeColumns, tableNodes, tenantID).Live()
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	q.Where(fmt.Sprintf("id IN (%s)", placeholders), args...)
	query, queryArgs := q.Build()

	rows, err := r.store.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("nodes_by_id", err)
	}
	defer rows.Close()

	byID := make(map[string]*graph.Node, len(ids))
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("nodes_by_id", err)
		}
		byID[node.ID] = node
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("nodes_by_id", err)
	}

	ordered := make([]*graph.Node, 0, len(ids))
	for _, id := range ids {
		node, ok := byID[id]
		if !ok {
			return nil, apperrors.NewNotFoundError("node").WithDetail("node_id", id)
		}
		ordered = append(ordered, node)
	}
	return ordered, nil
}

// observe records query metrics when a collector is attached
func (r *GraphRepository) observe(operation string, start time.Time, results int) {
	if r.metrics != nil {
		r.metrics.ObserveQuery(operation, time.Since(start), results)
	}
}

// validateTenantScope rejects rows whose tenant differs from the call scope.
// Tenant IDs are immutable after creation; a scope mismatch is always a
// caller bug and never silently corrected.
func validateTenantScope(scope graph.TenantID, rowTenant graph.TenantID) error {
	if scope.IsEmpty() {
		return apperrors.NewValidationError("tenant id is required")
	}
	if rowTenant != scope {
		return apperrors.NewValidationError(
			fmt.Sprintf("row tenant %q does not match call scope %q", rowTenant, scope))
	}
	return nil
}

// upsertNodeTx writes one node inside an open transaction
func upsertNodeTx(ctx context.Context, tx *sql.Tx, node *graph.Node) error {
	attrs, err := marshalAttributes(node.Attributes)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("node attributes not serializable: %v", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO graph_nodes (id, tenant_id, node_type, attributes, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			node_type  = excluded.node_type,
			attributes = excluded.attributes,
			deleted_at = NULL`,
		node.ID, node.TenantID.String(), string(node.Type), attrs, node.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert_node", err)
	}
	return nil
}

// upsertEdgeTx verifies endpoint integrity and writes one edge inside an
// open transaction
func upsertEdgeTx(ctx context.Context, tx *sql.Tx, edge *graph.Edge) error {
	var liveEndpoints int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_nodes
		 WHERE tenant_id = ? AND id IN (?, ?) AND deleted_at IS NULL`,
		edge.TenantID.String(), edge.SourceID, edge.TargetID,
	).Scan(&liveEndpoints)
	if err != nil {
		return apperrors.NewDatabaseError("edge_integrity_check", err)
	}
	if liveEndpoints != 2 {
		return apperrors.NewIntegrityError(
			fmt.Sprintf("edge %s -> %s references a missing, deleted, or cross-tenant node", edge.SourceID, edge.TargetID)).
			WithDetail("source_id", edge.SourceID).
			WithDetail("target_id", edge.TargetID)
	}

	var weight interface{}
	if edge.Weight != nil {
		weight = *edge.Weight
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO graph_edges (id, tenant_id, source_id, target_id, edge_type, weight, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			edge_type  = excluded.edge_type,
			weight     = excluded.weight,
			deleted_at = NULL`,
		edge.ID, edge.TenantID.String(), edge.SourceID, edge.TargetID, string(edge.Type), weight, edge.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert_edge", err)
	}
	return nil
}

// marshalAttributes renders the opaque attribute payload to JSON text
func marshalAttributes(attributes map[string]interface{}) (interface{}, error) {
	if attributes == nil {
		return nil, nil
	}
	data, err := json.Marshal(attributes)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// unmarshalAttributes parses stored JSON text back into an attribute map
func unmarshalAttributes(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var attributes map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &attributes); err != nil {
		return nil, err
	}
	return attributes, nil
}

// rowScanner matches both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanNode reads one node row in nodeColumns order
func scanNode(row rowScanner) (*graph.Node, error) {
	return scanNodeWith(row)
}

// scanNodeWith reads one node row plus any trailing columns
func scanNodeWith(row rowScanner, extra ...interface{}) (*graph.Node, error) {
	var (
		node      graph.Node
		tenantRaw string
		typeRaw   string
		attrsRaw  sql.NullString
		deletedAt sql.NullTime
	)
	dest := append([]interface{}{
		&node.ID, &tenantRaw, &typeRaw, &attrsRaw, &node.CreatedAt, &deletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	node.TenantID = graph.TenantID(tenantRaw)
	node.Type = graph.NodeType(typeRaw)
	if deletedAt.Valid {
		t := deletedAt.Time
		node.DeletedAt = &t
	}
	attributes, err := unmarshalAttributes(attrsRaw)
	if err != nil {
		return nil, fmt.Errorf("corrupt attributes for node %s: %w", node.ID, err)
	}
	node.Attributes = attributes
	return &node, nil
}

// scanEdge reads one edge row in edgeColumns order
func scanEdge(row rowScanner) (*graph.Edge, error) {
	var (
		edge      graph.Edge
		tenantRaw string
		typeRaw   string
		weight    sql.NullFloat64
		deletedAt sql.NullTime
	)
	if err := row.Scan(
		&edge.ID, &tenantRaw, &edge.SourceID, &edge.TargetID, &typeRaw, &weight, &edge.CreatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}

	edge.TenantID = graph.TenantID(tenantRaw)
	edge.Type = graph.EdgeType(typeRaw)
	if weight.Valid {
		w := weight.Float64
		edge.Weight = &w
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		edge.DeletedAt = &t
	}
	return &edge, nil
}
