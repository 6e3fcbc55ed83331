package services

import (
	"context"

	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
)

// GraphService is the application facade over graph persistence. Reads go
// straight to the repositories; every mutation runs under the tenant's
// distributed write lock.
type GraphService struct {
	graphRepo   ports.GraphRepository
	entityRepo  ports.EntityRepository
	coordinator *WriteCoordinator
	logger      *zap.Logger
}

// NewGraphService creates a graph service
func NewGraphService(
	graphRepo ports.GraphRepository,
	entityRepo ports.EntityRepository,
	coordinator *WriteCoordinator,
	logger *zap.Logger,
) *GraphService {
	return &GraphService{
		graphRepo:   graphRepo,
		entityRepo:  entityRepo,
		coordinator: coordinator,
		logger:      logger,
	}
}

// CreateNode creates a node from the given type and attributes
func (s *GraphService) CreateNode(ctx context.Context, tenantID graph.TenantID, nodeType graph.NodeType, attributes map[string]interface{}) (*graph.Node, error) {
	node, err := graph.NewNode(tenantID, nodeType, attributes)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	err = s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		_, err := s.graphRepo.UpsertNode(ctx, tenantID, node)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNode replaces a node's type and attributes, keeping its identity
func (s *GraphService) UpdateNode(ctx context.Context, tenantID graph.TenantID, nodeID string, nodeType graph.NodeType, attributes map[string]interface{}) (*graph.Node, error) {
	var updated *graph.Node
	err := s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		existing, err := s.graphRepo.GetNode(ctx, tenantID, nodeID)
		if err != nil {
			return err
		}
		existing.Type = nodeType
		existing.Attributes = attributes
		if _, err := s.graphRepo.UpsertNode(ctx, tenantID, existing); err != nil {
			return err
		}
		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetNode retrieves a live node
func (s *GraphService) GetNode(ctx context.Context, tenantID graph.TenantID, nodeID string) (*graph.Node, error) {
	return s.graphRepo.GetNode(ctx, tenantID, nodeID)
}

// ListNodes retrieves live nodes matching the filter
func (s *GraphService) ListNodes(ctx context.Context, tenantID graph.TenantID, filter ports.NodeFilter) ([]*graph.Node, error) {
	return s.graphRepo.ListNodes(ctx, tenantID, filter)
}

// DeleteNode soft-deletes a node with full cascade
func (s *GraphService) DeleteNode(ctx context.Context, tenantID graph.TenantID, nodeID string) error {
	return s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		return s.graphRepo.DeleteNode(ctx, tenantID, nodeID)
	})
}

// CreateEdge creates an edge between two live nodes
func (s *GraphService) CreateEdge(ctx context.Context, tenantID graph.TenantID, sourceID, targetID string, edgeType graph.EdgeType, weight *float64) (*graph.Edge, error) {
	edge, err := graph.NewEdge(tenantID, sourceID, targetID, edgeType, weight)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	err = s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		_, err := s.graphRepo.UpsertEdge(ctx, tenantID, edge)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// EdgesBetween retrieves live edges from sourceID to targetID
func (s *GraphService) EdgesBetween(ctx context.Context, tenantID graph.TenantID, sourceID, targetID string) ([]*graph.Edge, error) {
	return s.graphRepo.EdgesBetween(ctx, tenantID, sourceID, targetID)
}

// FindRelated returns nodes reachable from startID within maxHops
func (s *GraphService) FindRelated(ctx context.Context, tenantID graph.TenantID, startID string, maxHops int) ([]graph.Neighbor, error) {
	return s.graphRepo.FindRelated(ctx, tenantID, startID, maxHops)
}

// ShortestPath returns a minimum-hop path between two nodes
func (s *GraphService) ShortestPath(ctx context.Context, tenantID graph.TenantID, fromID, toID string) (*graph.Path, error) {
	return s.graphRepo.ShortestPath(ctx, tenantID, fromID, toID)
}

// CreateEntity records a named entity extracted from a node
func (s *GraphService) CreateEntity(ctx context.Context, tenantID graph.TenantID, nodeID, name, entityType string, attributes map[string]interface{}) (*graph.Entity, error) {
	entity, err := graph.NewEntity(tenantID, nodeID, name, entityType, attributes)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	err = s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		_, err := s.entityRepo.UpsertEntity(ctx, tenantID, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// CreateEntityEdge records a typed relation between two entities
func (s *GraphService) CreateEntityEdge(ctx context.Context, tenantID graph.TenantID, sourceEntityID, targetEntityID, relation string, confidence *float64) (*graph.EntityEdge, error) {
	edge, err := graph.NewEntityEdge(tenantID, sourceEntityID, targetEntityID, relation, confidence)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	err = s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		_, err := s.entityRepo.UpsertEntityEdge(ctx, tenantID, edge)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// EntitiesForNode retrieves the live entities derived from a node
func (s *GraphService) EntitiesForNode(ctx context.Context, tenantID graph.TenantID, nodeID string) ([]*graph.Entity, error) {
	return s.entityRepo.EntitiesForNode(ctx, tenantID, nodeID)
}

// ApplyBatch applies one atomic write batch under the write lock. Agent
// pipelines use this to land a whole extraction result in one write.
func (s *GraphService) ApplyBatch(ctx context.Context, tenantID graph.TenantID, batch ports.WriteBatch) error {
	if batch.IsEmpty() {
		return nil
	}
	err := s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		return s.graphRepo.ApplyBatch(ctx, tenantID, batch)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("Write batch applied",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("nodes", len(batch.Nodes)),
		zap.Int("edges", len(batch.Edges)),
		zap.Int("entities", len(batch.Entities)),
		zap.Int("entity_edges", len(batch.EntityEdges)),
	)
	return nil
}
