package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
)

const entityColumns = "id, tenant_id, node_id, name, entity_type, attributes, created_at, deleted_at"

// EntityRepository persists named entities extracted from graph nodes and
// the typed relations between them
type EntityRepository struct {
	store  *Store
	logger *zap.Logger
}

// NewEntityRepository creates an entity repository over the store
func NewEntityRepository(store *Store, logger *zap.Logger) *EntityRepository {
	return &EntityRepository{store: store, logger: logger}
}

// UpsertEntity creates or updates an entity after verifying its origin node
// is live
func (r *EntityRepository) UpsertEntity(ctx context.Context, tenantID graph.TenantID, entity *graph.Entity) (string, error) {
	if err := validateTenantScope(tenantID, entity.TenantID); err != nil {
		return "", err
	}
	if err := entity.Validate(); err != nil {
		return "", apperrors.NewValidationError(err.Error())
	}

	err := r.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		return upsertEntityTx(ctx, tx, entity)
	})
	if err != nil {
		return "", err
	}
	return entity.ID, nil
}

// UpsertEntityEdge creates or updates a relation between two live entities
func (r *EntityRepository) UpsertEntityEdge(ctx context.Context, tenantID graph.TenantID, edge *graph.EntityEdge) (string, error) {
	if err := validateTenantScope(tenantID, edge.TenantID); err != nil {
		return "", err
	}
	if err := edge.Validate(); err != nil {
		return "", apperrors.NewValidationError(err.Error())
	}

	err := r.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		return upsertEntityEdgeTx(ctx, tx, edge)
	})
	if err != nil {
		return "", err
	}
	return edge.ID, nil
}

// EntitiesForNode retrieves the live entities derived from a node
func (r *EntityRepository) EntitiesForNode(ctx context.Context, tenantID graph.TenantID, nodeID string) ([]*graph.Entity, error) {
	query, args := newTenantQuery(entityColumns, tableEntities, tenantID).
		Where("node_id = ?", nodeID).
		Live().
		OrderBy("created_at, id").
		Build()

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("entities_for_node", err)
	}
	defer rows.Close()

	var entities []*graph.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("entities_for_node", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// upsertEntityTx verifies the origin node is live and writes one entity
// inside an open transaction
func upsertEntityTx(ctx context.Context, tx *sql.Tx, entity *graph.Entity) error {
	var liveOrigin int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_nodes
		 WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL`,
		entity.TenantID.String(), entity.NodeID,
	).Scan(&liveOrigin)
	if err != nil {
		return apperrors.NewDatabaseError("entity_integrity_check", err)
	}
	if liveOrigin != 1 {
		return apperrors.NewIntegrityError(
			fmt.Sprintf("entity %s references missing or deleted node %s", entity.ID, entity.NodeID)).
			WithDetail("node_id", entity.NodeID)
	}

	attrs, err := marshalAttributes(entity.Attributes)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("entity attributes not serializable: %v", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (id, tenant_id, node_id, name, entity_type, attributes, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name        = excluded.name,
			entity_type = excluded.entity_type,
			attributes  = excluded.attributes,
			deleted_at  = NULL`,
		entity.ID, entity.TenantID.String(), entity.NodeID, entity.Name, entity.EntityType, attrs, entity.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert_entity", err)
	}
	return nil
}

// upsertEntityEdgeTx verifies both entities are live and writes one entity
// edge inside an open transaction
func upsertEntityEdgeTx(ctx context.Context, tx *sql.Tx, edge *graph.EntityEdge) error {
	var liveEndpoints int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities
		 WHERE tenant_id = ? AND id IN (?, ?) AND deleted_at IS NULL`,
		edge.TenantID.String(), edge.SourceEntityID, edge.TargetEntityID,
	).Scan(&liveEndpoints)
	if err != nil {
		return apperrors.NewDatabaseError("entity_edge_integrity_check", err)
	}
	expected := 2
	if edge.SourceEntityID == edge.TargetEntityID {
		expected = 1
	}
	if liveEndpoints != expected {
		return apperrors.NewIntegrityError(
			fmt.Sprintf("entity edge %s -> %s references a missing, deleted, or cross-tenant entity",
				edge.SourceEntityID, edge.TargetEntityID)).
			WithDetail("source_entity_id", edge.SourceEntityID).
			WithDetail("target_entity_id", edge.TargetEntityID)
	}

	var confidence interface{}
	if edge.Confidence != nil {
		confidence = *edge.Confidence
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_edges (id, tenant_id, source_entity_id, target_entity_id, relation, confidence, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			relation   = excluded.relation,
			confidence = excluded.confidence,
			deleted_at = NULL`,
		edge.ID, edge.TenantID.String(), edge.SourceEntityID, edge.TargetEntityID, edge.Relation, confidence, edge.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("upsert_entity_edge", err)
	}
	return nil
}

// scanEntity reads one entity row in entityColumns order
func scanEntity(row rowScanner) (*graph.Entity, error) {
	var (
		entity     graph.Entity
		tenantRaw  string
		entityType sql.NullString
		attrsRaw   sql.NullString
		deletedAt  sql.NullTime
	)
	if err := row.Scan(
		&entity.ID, &tenantRaw, &entity.NodeID, &entity.Name, &entityType, &attrsRaw, &entity.CreatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}

	entity.TenantID = graph.TenantID(tenantRaw)
	entity.EntityType = entityType.String
	if deletedAt.Valid {
		t := deletedAt.Time
		entity.DeletedAt = &t
	}
	attributes, err := unmarshalAttributes(attrsRaw)
	if err != nil {
		return nil, fmt.Errorf("corrupt attributes for entity %s: %w", entity.ID, err)
	}
	entity.Attributes = attributes
	return &entity, nil
}
