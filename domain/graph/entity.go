package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity is a finer-grained named entity extracted from a node's content.
// Each entity is tied to the node it was derived from; deleting that node
// cascades to its entities.
type Entity struct {
	ID         string
	TenantID   TenantID
	NodeID     string
	Name       string
	EntityType string
	Attributes map[string]interface{}
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// NewEntity creates an entity with a generated ID derived from the given node
func NewEntity(tenantID TenantID, nodeID, name, entityType string, attributes map[string]interface{}) (*Entity, error) {
	entity := &Entity{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		NodeID:     nodeID,
		Name:       name,
		EntityType: entityType,
		Attributes: attributes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	return entity, nil
}

// Validate checks the entity's invariants
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if e.TenantID.IsEmpty() {
		return fmt.Errorf("entity %s: tenant id cannot be empty", e.ID)
	}
	if e.NodeID == "" {
		return fmt.Errorf("entity %s: origin node id is required", e.ID)
	}
	if e.Name == "" {
		return fmt.Errorf("entity %s: name is required", e.ID)
	}
	return nil
}

// IsDeleted reports whether the entity carries a soft-delete marker
func (e *Entity) IsDeleted() bool {
	return e.DeletedAt != nil
}

// EntityEdge is a typed relationship between two entities of the same tenant.
// The same isolation and integrity rules as node edges apply.
type EntityEdge struct {
	ID             string
	TenantID       TenantID
	SourceEntityID string
	TargetEntityID string
	Relation       string
	Confidence     *float64
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// NewEntityEdge creates an entity edge with a generated ID
func NewEntityEdge(tenantID TenantID, sourceEntityID, targetEntityID, relation string, confidence *float64) (*EntityEdge, error) {
	edge := &EntityEdge{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		SourceEntityID: sourceEntityID,
		TargetEntityID: targetEntityID,
		Relation:       relation,
		Confidence:     confidence,
		CreatedAt:      time.Now().UTC(),
	}
	if err := edge.Validate(); err != nil {
		return nil, err
	}
	return edge, nil
}

// Validate checks the entity edge's invariants
func (e *EntityEdge) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity edge id cannot be empty")
	}
	if e.TenantID.IsEmpty() {
		return fmt.Errorf("entity edge %s: tenant id cannot be empty", e.ID)
	}
	if e.SourceEntityID == "" || e.TargetEntityID == "" {
		return fmt.Errorf("entity edge %s: source and target entity ids are required", e.ID)
	}
	if e.Relation == "" {
		return fmt.Errorf("entity edge %s: relation is required", e.ID)
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return fmt.Errorf("entity edge %s: confidence must be in [0,1]", e.ID)
	}
	return nil
}

// IsDeleted reports whether the entity edge carries a soft-delete marker
func (e *EntityEdge) IsDeleted() bool {
	return e.DeletedAt != nil
}
