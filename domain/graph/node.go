package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeType classifies what a graph node represents
type NodeType string

const (
	NodeTypeMemory        NodeType = "memory"
	NodeTypeEntity        NodeType = "entity"
	NodeTypeCodeArtifact  NodeType = "code_artifact"
	NodeTypeKnowledgeItem NodeType = "knowledge_item"
	NodeTypeDocument      NodeType = "document"
	NodeTypeConcept       NodeType = "concept"
)

// knownNodeTypes is the closed set accepted at the write boundary
var knownNodeTypes = map[NodeType]bool{
	NodeTypeMemory:        true,
	NodeTypeEntity:        true,
	NodeTypeCodeArtifact:  true,
	NodeTypeKnowledgeItem: true,
	NodeTypeDocument:      true,
	NodeTypeConcept:       true,
}

// IsValid checks whether the node type is a known value
func (t NodeType) IsValid() bool {
	return knownNodeTypes[t]
}

// Node is a vertex of the tenant's property graph. Attributes carry the
// opaque structured payload produced by the extraction pipeline; the store
// never inspects it.
type Node struct {
	ID         string
	TenantID   TenantID
	Type       NodeType
	Attributes map[string]interface{}
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// NewNode creates a node with a generated ID for the given tenant
func NewNode(tenantID TenantID, nodeType NodeType, attributes map[string]interface{}) (*Node, error) {
	node := &Node{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Type:       nodeType,
		Attributes: attributes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return node, nil
}

// Validate checks the node's invariants
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id cannot be empty")
	}
	if n.TenantID.IsEmpty() {
		return fmt.Errorf("node %s: tenant id cannot be empty", n.ID)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("node %s: unknown node type %q", n.ID, n.Type)
	}
	return nil
}

// IsDeleted reports whether the node carries a soft-delete marker
func (n *Node) IsDeleted() bool {
	return n.DeletedAt != nil
}
