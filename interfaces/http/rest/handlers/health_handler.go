package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/application/services"
	"meshmind-backend/domain/graph"
	"meshmind-backend/pkg/common"
)

// HealthHandler answers liveness and readiness probes. Liveness only says
// the process is up; readiness requires a responsive embedded engine and at
// least partial hydration for every served tenant.
type HealthHandler struct {
	admin     ports.StoreAdmin
	snapshots services.SnapshotStore
	tenants   []graph.TenantID
	logger    *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(admin ports.StoreAdmin, snapshots services.SnapshotStore, tenants []graph.TenantID, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		admin:     admin,
		snapshots: snapshots,
		tenants:   tenants,
		logger:    logger,
	}
}

// Live handles GET /health/live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Ping(r.Context()); err != nil {
		h.logger.Warn("Readiness ping failed", zap.Error(err))
		common.RespondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "embedded store not responsive")
		return
	}

	states := make(map[string]string, len(h.tenants))
	ready := true
	for _, tenantID := range h.tenants {
		state := h.snapshots.State(tenantID)
		states[tenantID.String()] = string(state)
		// Cold means hydration has not produced a queryable store yet.
		// Partial and reconcile-required tenants serve reads.
		if state == ports.HydrationStateCold {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	common.RespondJSON(w, status, map[string]interface{}{
		"status":  map[bool]string{true: "ready", false: "hydrating"}[ready],
		"tenants": states,
	})
}

// Stats handles GET /admin/stats
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		common.RespondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	common.RespondJSON(w, http.StatusOK, stats)
}
