package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	"meshmind-backend/domain/snapshot"
)

// SnapshotStore is the snapshot lifecycle as seen by the application layer
type SnapshotStore interface {
	// Export publishes a snapshot of the tenant's graph
	Export(ctx context.Context, tenantID graph.TenantID) (snapshot.Version, error)

	// Hydrate loads the tenant's latest valid snapshot into the local store
	Hydrate(ctx context.Context, tenantID graph.TenantID) (*ports.HydrationReport, error)

	// ListVersions returns published versions, oldest first
	ListVersions(ctx context.Context, tenantID graph.TenantID) ([]snapshot.Version, error)

	// LatestBefore returns the newest version taken at or before t
	LatestBefore(ctx context.Context, tenantID graph.TenantID, t time.Time) (snapshot.Version, error)

	// RestoreVersion replaces the tenant's local state with one version
	RestoreVersion(ctx context.Context, tenantID graph.TenantID, version snapshot.Version) error

	// Prune deletes versions older than retention, keeping at least keepMin
	Prune(ctx context.Context, tenantID graph.TenantID, retention time.Duration, keepMin int) (int, error)

	// State reports the tenant's hydration state on this instance
	State(tenantID graph.TenantID) ports.HydrationState
}

// minRetainedVersions is the floor Prune never goes below, whatever the
// retention window says. Restore always has something to restore.
const minRetainedVersions = 3

// BackupScheduler periodically exports each served tenant's graph and prunes
// snapshots past retention
type BackupScheduler struct {
	snapshots   SnapshotStore
	coordinator *WriteCoordinator
	tenants     []graph.TenantID
	interval    time.Duration
	retention   time.Duration
	logger      *zap.Logger
}

// NewBackupScheduler creates a scheduler for the given tenants
func NewBackupScheduler(
	snapshots SnapshotStore,
	coordinator *WriteCoordinator,
	tenants []graph.TenantID,
	interval time.Duration,
	retention time.Duration,
	logger *zap.Logger,
) *BackupScheduler {
	return &BackupScheduler{
		snapshots:   snapshots,
		coordinator: coordinator,
		tenants:     tenants,
		interval:    interval,
		retention:   retention,
		logger:      logger,
	}
}

// Run executes backup cycles until ctx is cancelled. The first cycle runs
// after one full interval, not at startup: a fresh instance has nothing newer
// than what it just hydrated from.
func (s *BackupScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Backup scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention),
		zap.Int("tenants", len(s.tenants)),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Backup scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce backs up every tenant. One tenant's failure does not stop the
// others; failures are logged and the next cycle retries.
func (s *BackupScheduler) RunOnce(ctx context.Context) {
	for _, tenantID := range s.tenants {
		if err := s.backupTenant(ctx, tenantID); err != nil {
			s.logger.Error("Tenant backup failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// ExportTenant publishes one snapshot under the tenant's write lock, so the
// image is consistent with no write in flight
func (s *BackupScheduler) ExportTenant(ctx context.Context, tenantID graph.TenantID) (snapshot.Version, error) {
	var version snapshot.Version
	err := s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		exported, err := s.snapshots.Export(ctx, tenantID)
		if err != nil {
			return err
		}
		version = exported
		return nil
	})
	if err != nil {
		return "", err
	}
	return version, nil
}

// backupTenant exports, then prunes outside the lock
func (s *BackupScheduler) backupTenant(ctx context.Context, tenantID graph.TenantID) error {
	version, err := s.ExportTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	s.logger.Info("Backup exported",
		zap.String("tenant_id", tenantID.String()),
		zap.String("version", version.String()),
	)

	if _, err := s.snapshots.Prune(ctx, tenantID, s.retention, minRetainedVersions); err != nil {
		s.logger.Warn("Snapshot prune failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// RestoreToTimestamp replaces the tenant's local state with the newest
// snapshot taken at or before t, holding the write lock for the swap
func (s *BackupScheduler) RestoreToTimestamp(ctx context.Context, tenantID graph.TenantID, t time.Time) (snapshot.Version, error) {
	version, err := s.snapshots.LatestBefore(ctx, tenantID, t)
	if err != nil {
		return "", err
	}

	err = s.coordinator.WithWriteLock(ctx, tenantID, func(ctx context.Context) error {
		return s.snapshots.RestoreVersion(ctx, tenantID, version)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Restored to point in time",
		zap.String("tenant_id", tenantID.String()),
		zap.String("version", version.String()),
		zap.Time("requested", t),
	)
	return version, nil
}
