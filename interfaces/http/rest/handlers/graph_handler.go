// Package handlers holds the REST handlers for graph persistence: CRUD and
// traversal over nodes, edges, and entities.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/application/services"
	"meshmind-backend/domain/graph"
	"meshmind-backend/pkg/common"
	apperrors "meshmind-backend/pkg/errors"
	"meshmind-backend/pkg/utils"
)

// maxBodyBytes caps request bodies. Attribute payloads are extraction
// results, not documents.
const maxBodyBytes = 1 << 20

// GraphHandler handles node, edge, and traversal requests
type GraphHandler struct {
	service *services.GraphService
	errors  *apperrors.ErrorHandler
	logger  *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(service *services.GraphService, errorHandler *apperrors.ErrorHandler, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{
		service: service,
		errors:  errorHandler,
		logger:  logger,
	}
}

// CreateNodeRequest represents the request body for creating a node
type CreateNodeRequest struct {
	Type       string                 `json:"type" validate:"required,max=64"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// UpdateNodeRequest represents the request body for updating a node
type UpdateNodeRequest struct {
	Type       string                 `json:"type" validate:"required,max=64"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// CreateEdgeRequest represents the request body for creating an edge
type CreateEdgeRequest struct {
	SourceID string   `json:"source_id" validate:"required,max=128"`
	TargetID string   `json:"target_id" validate:"required,max=128"`
	Type     string   `json:"type" validate:"required,max=64"`
	Weight   *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// CreateEntityRequest represents the request body for recording an entity
type CreateEntityRequest struct {
	NodeID     string                 `json:"node_id" validate:"required,max=128"`
	Name       string                 `json:"name" validate:"required,max=256"`
	EntityType string                 `json:"entity_type,omitempty" validate:"omitempty,max=64"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// CreateEntityEdgeRequest represents the request body for relating entities
type CreateEntityEdgeRequest struct {
	SourceEntityID string   `json:"source_entity_id" validate:"required,max=128"`
	TargetEntityID string   `json:"target_entity_id" validate:"required,max=128"`
	Relation       string   `json:"relation" validate:"required,max=64"`
	Confidence     *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// BatchRequest represents one atomic write batch
type BatchRequest struct {
	Nodes []struct {
		ID         string                 `json:"id,omitempty"`
		Type       string                 `json:"type" validate:"required,max=64"`
		Attributes map[string]interface{} `json:"attributes,omitempty"`
	} `json:"nodes,omitempty"`
	Edges []struct {
		ID       string   `json:"id,omitempty"`
		SourceID string   `json:"source_id" validate:"required,max=128"`
		TargetID string   `json:"target_id" validate:"required,max=128"`
		Type     string   `json:"type" validate:"required,max=64"`
		Weight   *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=1"`
	} `json:"edges,omitempty"`
	Entities []struct {
		ID         string                 `json:"id,omitempty"`
		NodeID     string                 `json:"node_id" validate:"required,max=128"`
		Name       string                 `json:"name" validate:"required,max=256"`
		EntityType string                 `json:"entity_type,omitempty" validate:"omitempty,max=64"`
		Attributes map[string]interface{} `json:"attributes,omitempty"`
	} `json:"entities,omitempty"`
	EntityEdges []struct {
		ID             string   `json:"id,omitempty"`
		SourceEntityID string   `json:"source_entity_id" validate:"required,max=128"`
		TargetEntityID string   `json:"target_entity_id" validate:"required,max=128"`
		Relation       string   `json:"relation" validate:"required,max=64"`
		Confidence     *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	} `json:"entity_edges,omitempty"`
}

// NodeResponse is the wire shape of a node
type NodeResponse struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// EdgeResponse is the wire shape of an edge
type EdgeResponse struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      string    `json:"type"`
	Weight    *float64  `json:"weight,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EntityResponse is the wire shape of an entity
type EntityResponse struct {
	ID         string                 `json:"id"`
	NodeID     string                 `json:"node_id"`
	Name       string                 `json:"name"`
	EntityType string                 `json:"entity_type,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NeighborResponse is one traversal result with its hop distance
type NeighborResponse struct {
	Node NodeResponse `json:"node"`
	Hops int          `json:"hops"`
}

// PathResponse is a shortest-path result
type PathResponse struct {
	NodeIDs []string       `json:"node_ids"`
	Nodes   []NodeResponse `json:"nodes"`
	Hops    int            `json:"hops"`
}

// CreateNode handles POST /nodes
func (h *GraphHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req CreateNodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	node, err := h.service.CreateNode(r.Context(), tenantID, graph.NodeType(req.Type), req.Attributes)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, nodeResponse(node))
}

// GetNode handles GET /nodes/{nodeID}
func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	node, err := h.service.GetNode(r.Context(), tenantID, chi.URLParam(r, "nodeID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, nodeResponse(node))
}

// UpdateNode handles PUT /nodes/{nodeID}
func (h *GraphHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req UpdateNodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	node, err := h.service.UpdateNode(r.Context(), tenantID, chi.URLParam(r, "nodeID"), graph.NodeType(req.Type), req.Attributes)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, nodeResponse(node))
}

// DeleteNode handles DELETE /nodes/{nodeID}
func (h *GraphHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteNode(r.Context(), tenantID, chi.URLParam(r, "nodeID")); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListNodes handles GET /nodes
func (h *GraphHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	filter := ports.NodeFilter{
		Type:  graph.NodeType(r.URL.Query().Get("type")),
		Limit: common.ExtractLimit(r, 100, 1000),
	}

	nodes, err := h.service.ListNodes(r.Context(), tenantID, filter)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	responses := make([]NodeResponse, 0, len(nodes))
	for _, node := range nodes {
		responses = append(responses, nodeResponse(node))
	}
	common.RespondJSON(w, http.StatusOK, responses)
}

// CreateEdge handles POST /edges
func (h *GraphHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req CreateEdgeRequest
	if !h.decode(w, r, &req) {
		return
	}

	edge, err := h.service.CreateEdge(r.Context(), tenantID, req.SourceID, req.TargetID, graph.EdgeType(req.Type), req.Weight)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, edgeResponse(edge))
}

// EdgesBetween handles GET /edges?source_id=&target_id=
func (h *GraphHandler) EdgesBetween(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	sourceID := r.URL.Query().Get("source_id")
	targetID := r.URL.Query().Get("target_id")
	if sourceID == "" || targetID == "" {
		h.errors.Handle(w, r, apperrors.NewValidationError("source_id and target_id are required"))
		return
	}

	edges, err := h.service.EdgesBetween(r.Context(), tenantID, sourceID, targetID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	responses := make([]EdgeResponse, 0, len(edges))
	for _, edge := range edges {
		responses = append(responses, edgeResponse(edge))
	}
	common.RespondJSON(w, http.StatusOK, responses)
}

// FindRelated handles GET /nodes/{nodeID}/related?max_hops=
func (h *GraphHandler) FindRelated(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	maxHops := 2
	if raw := r.URL.Query().Get("max_hops"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.errors.Handle(w, r, apperrors.NewValidationError("max_hops must be an integer"))
			return
		}
		maxHops = parsed
	}

	neighbors, err := h.service.FindRelated(r.Context(), tenantID, chi.URLParam(r, "nodeID"), maxHops)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	responses := make([]NeighborResponse, 0, len(neighbors))
	for _, neighbor := range neighbors {
		responses = append(responses, NeighborResponse{
			Node: nodeResponse(neighbor.Node),
			Hops: neighbor.Hops,
		})
	}
	common.RespondJSON(w, http.StatusOK, responses)
}

// ShortestPath handles GET /paths?from=&to=
func (h *GraphHandler) ShortestPath(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	fromID := r.URL.Query().Get("from")
	toID := r.URL.Query().Get("to")
	if fromID == "" || toID == "" {
		h.errors.Handle(w, r, apperrors.NewValidationError("from and to are required"))
		return
	}

	path, err := h.service.ShortestPath(r.Context(), tenantID, fromID, toID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	response := PathResponse{NodeIDs: path.NodeIDs, Hops: path.Hops}
	for _, node := range path.Nodes {
		response.Nodes = append(response.Nodes, nodeResponse(node))
	}
	common.RespondJSON(w, http.StatusOK, response)
}

// CreateEntity handles POST /entities
func (h *GraphHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req CreateEntityRequest
	if !h.decode(w, r, &req) {
		return
	}

	entity, err := h.service.CreateEntity(r.Context(), tenantID, req.NodeID, req.Name, req.EntityType, req.Attributes)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, entityResponse(entity))
}

// CreateEntityEdge handles POST /entity-edges
func (h *GraphHandler) CreateEntityEdge(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req CreateEntityEdgeRequest
	if !h.decode(w, r, &req) {
		return
	}

	edge, err := h.service.CreateEntityEdge(r.Context(), tenantID, req.SourceEntityID, req.TargetEntityID, req.Relation, req.Confidence)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":               edge.ID,
		"source_entity_id": edge.SourceEntityID,
		"target_entity_id": edge.TargetEntityID,
		"relation":         edge.Relation,
		"confidence":       edge.Confidence,
	})
}

// NodeEntities handles GET /nodes/{nodeID}/entities
func (h *GraphHandler) NodeEntities(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	entities, err := h.service.EntitiesForNode(r.Context(), tenantID, chi.URLParam(r, "nodeID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	responses := make([]EntityResponse, 0, len(entities))
	for _, entity := range entities {
		responses = append(responses, entityResponse(entity))
	}
	common.RespondJSON(w, http.StatusOK, responses)
}

// ApplyBatch handles POST /batch
func (h *GraphHandler) ApplyBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch, err := buildBatch(tenantID, req)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	if err := h.service.ApplyBatch(r.Context(), tenantID, batch); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":        len(batch.Nodes),
		"edges":        len(batch.Edges),
		"entities":     len(batch.Entities),
		"entity_edges": len(batch.EntityEdges),
	})
}

// buildBatch materializes domain objects from the wire batch. Rows without
// an ID get a generated one; rows with an ID upsert in place.
func buildBatch(tenantID graph.TenantID, req BatchRequest) (ports.WriteBatch, error) {
	var batch ports.WriteBatch

	for _, n := range req.Nodes {
		node, err := graph.NewNode(tenantID, graph.NodeType(n.Type), n.Attributes)
		if err != nil {
			return batch, apperrors.NewValidationError(err.Error())
		}
		if n.ID != "" {
			node.ID = n.ID
		}
		batch.Nodes = append(batch.Nodes, node)
	}
	for _, e := range req.Edges {
		edge, err := graph.NewEdge(tenantID, e.SourceID, e.TargetID, graph.EdgeType(e.Type), e.Weight)
		if err != nil {
			return batch, apperrors.NewValidationError(err.Error())
		}
		if e.ID != "" {
			edge.ID = e.ID
		}
		batch.Edges = append(batch.Edges, edge)
	}
	for _, en := range req.Entities {
		entity, err := graph.NewEntity(tenantID, en.NodeID, en.Name, en.EntityType, en.Attributes)
		if err != nil {
			return batch, apperrors.NewValidationError(err.Error())
		}
		if en.ID != "" {
			entity.ID = en.ID
		}
		batch.Entities = append(batch.Entities, entity)
	}
	for _, ee := range req.EntityEdges {
		entityEdge, err := graph.NewEntityEdge(tenantID, ee.SourceEntityID, ee.TargetEntityID, ee.Relation, ee.Confidence)
		if err != nil {
			return batch, apperrors.NewValidationError(err.Error())
		}
		if ee.ID != "" {
			entityEdge.ID = ee.ID
		}
		batch.EntityEdges = append(batch.EntityEdges, entityEdge)
	}
	return batch, nil
}

// tenant pulls the resolved tenant out of the request context
func (h *GraphHandler) tenant(w http.ResponseWriter, r *http.Request) (graph.TenantID, bool) {
	tenantID, ok := common.GetTenantID(r.Context())
	if !ok {
		common.RespondError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant not resolved")
		return "", false
	}
	return tenantID, true
}

// decode parses and validates a JSON request body
func (h *GraphHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := common.ParseJSONBody(r, v, maxBodyBytes); err != nil {
		common.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return false
	}
	if err := utils.ValidateStruct(v); err != nil {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return false
	}
	return true
}

func nodeResponse(node *graph.Node) NodeResponse {
	return NodeResponse{
		ID:         node.ID,
		Type:       string(node.Type),
		Attributes: node.Attributes,
		CreatedAt:  node.CreatedAt,
	}
}

func edgeResponse(edge *graph.Edge) EdgeResponse {
	return EdgeResponse{
		ID:        edge.ID,
		SourceID:  edge.SourceID,
		TargetID:  edge.TargetID,
		Type:      string(edge.Type),
		Weight:    edge.Weight,
		CreatedAt: edge.CreatedAt,
	}
}

func entityResponse(entity *graph.Entity) EntityResponse {
	return EntityResponse{
		ID:         entity.ID,
		NodeID:     entity.NodeID,
		Name:       entity.Name,
		EntityType: entity.EntityType,
		Attributes: entity.Attributes,
		CreatedAt:  entity.CreatedAt,
	}
}
