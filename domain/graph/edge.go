package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EdgeType classifies the relationship an edge expresses
type EdgeType string

const (
	EdgeTypeCalls       EdgeType = "calls"
	EdgeTypeReferences  EdgeType = "references"
	EdgeTypeImplements  EdgeType = "implements"
	EdgeTypeDerivedFrom EdgeType = "derived_from"
	EdgeTypeRelatedTo   EdgeType = "related_to"
	EdgeTypeMentions    EdgeType = "mentions"
	EdgeTypePartOf      EdgeType = "part_of"
)

var knownEdgeTypes = map[EdgeType]bool{
	EdgeTypeCalls:       true,
	EdgeTypeReferences:  true,
	EdgeTypeImplements:  true,
	EdgeTypeDerivedFrom: true,
	EdgeTypeRelatedTo:   true,
	EdgeTypeMentions:    true,
	EdgeTypePartOf:      true,
}

// IsValid checks whether the edge type is a known value
func (t EdgeType) IsValid() bool {
	return knownEdgeTypes[t]
}

// Edge is a directed relationship between two nodes of the same tenant.
// Source and target must reference live nodes; the store enforces this at
// write time because the underlying engine has no native foreign keys.
type Edge struct {
	ID        string
	TenantID  TenantID
	SourceID  string
	TargetID  string
	Type      EdgeType
	Weight    *float64
	CreatedAt time.Time
	DeletedAt *time.Time
}

// NewEdge creates an edge with a generated ID for the given tenant
func NewEdge(tenantID TenantID, sourceID, targetID string, edgeType EdgeType, weight *float64) (*Edge, error) {
	edge := &Edge{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      edgeType,
		Weight:    weight,
		CreatedAt: time.Now().UTC(),
	}
	if err := edge.Validate(); err != nil {
		return nil, err
	}
	return edge, nil
}

// Validate checks the edge's invariants that are decidable without the store
func (e *Edge) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("edge id cannot be empty")
	}
	if e.TenantID.IsEmpty() {
		return fmt.Errorf("edge %s: tenant id cannot be empty", e.ID)
	}
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("edge %s: source and target ids are required", e.ID)
	}
	if e.SourceID == e.TargetID {
		return fmt.Errorf("edge %s: self-referencing edges are not allowed", e.ID)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("edge %s: unknown edge type %q", e.ID, e.Type)
	}
	if e.Weight != nil && (*e.Weight < 0 || *e.Weight > 1) {
		return fmt.Errorf("edge %s: weight must be in [0,1]", e.ID)
	}
	return nil
}

// IsDeleted reports whether the edge carries a soft-delete marker
func (e *Edge) IsDeleted() bool {
	return e.DeletedAt != nil
}
