package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"meshmind-backend/application/services"
	"meshmind-backend/domain/graph"
	"meshmind-backend/domain/snapshot"
	"meshmind-backend/pkg/common"
	apperrors "meshmind-backend/pkg/errors"
	"meshmind-backend/pkg/utils"
)

// CacheFlusher drops cached reads after a restore replaces the local image.
type CacheFlusher interface {
	Flush()
}

// AdminHandler handles the operational surface: snapshot export and restore,
// version listing, and on-demand integrity scans
type AdminHandler struct {
	snapshots services.SnapshotStore
	scheduler *services.BackupScheduler
	scanner   *services.IntegrityScanner
	caches    CacheFlusher
	errors    *apperrors.ErrorHandler
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler. caches may be nil when no
// read cache is layered over the store.
func NewAdminHandler(
	snapshots services.SnapshotStore,
	scheduler *services.BackupScheduler,
	scanner *services.IntegrityScanner,
	caches CacheFlusher,
	errorHandler *apperrors.ErrorHandler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		snapshots: snapshots,
		scheduler: scheduler,
		scanner:   scanner,
		caches:    caches,
		errors:    errorHandler,
		logger:    logger,
	}
}

// RestoreRequest selects the restore target: an explicit version, or the
// newest snapshot at or before a timestamp
type RestoreRequest struct {
	Version   string     `json:"version,omitempty" validate:"omitempty,max=64"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ExportSnapshot handles POST /admin/snapshots
func (h *AdminHandler) ExportSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	version, err := h.scheduler.ExportTenant(r.Context(), tenantID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusCreated, map[string]string{"version": version.String()})
}

// ListSnapshots handles GET /admin/snapshots
func (h *AdminHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	versions, err := h.snapshots.ListVersions(r.Context(), tenantID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.String())
	}
	common.RespondJSON(w, http.StatusOK, map[string]interface{}{"versions": out})
}

// Restore handles POST /admin/restore
func (h *AdminHandler) Restore(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req RestoreRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		common.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if (req.Version == "") == (req.Timestamp == nil) {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"exactly one of version or timestamp is required")
		return
	}

	target := time.Now()
	if req.Timestamp != nil {
		target = *req.Timestamp
	} else {
		version, err := h.versionTime(req.Version)
		if err != nil {
			common.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		target = version
	}

	restored, err := h.scheduler.RestoreToTimestamp(r.Context(), tenantID, target)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if h.caches != nil {
		h.caches.Flush()
	}

	h.logger.Info("Restore requested",
		zap.String("tenant_id", tenantID.String()),
		zap.String("version", restored.String()),
	)
	common.RespondJSON(w, http.StatusOK, map[string]string{"version": restored.String()})
}

// ScanIntegrity handles POST /admin/integrity/scan?repair=true
func (h *AdminHandler) ScanIntegrity(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	repair := r.URL.Query().Get("repair") == "true"
	report, err := h.scanner.ScanTenant(r.Context(), tenantID, repair)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"orphans":  report.Orphans,
		"repaired": report.Repaired,
		"duration": report.Duration.String(),
	})
}

func (h *AdminHandler) tenant(w http.ResponseWriter, r *http.Request) (graph.TenantID, bool) {
	tenantID, ok := common.GetTenantID(r.Context())
	if !ok {
		common.RespondError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant not resolved")
		return "", false
	}
	return tenantID, true
}

// versionTime resolves a version string to its timestamp for restore
func (h *AdminHandler) versionTime(raw string) (time.Time, error) {
	return snapshot.Version(raw).Time()
}
