// Package di wires the application together. The generated initializer in
// wire_gen.go is the only construction path; providers.go holds the
// individual providers.
package di

import (
	"context"

	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/application/services"
	"meshmind-backend/domain/graph"
	"meshmind-backend/infrastructure/config"
	"meshmind-backend/infrastructure/persistence/cache"
	"meshmind-backend/infrastructure/persistence/duckdb"
	"meshmind-backend/infrastructure/persistence/snapshot"
	"meshmind-backend/interfaces/http/rest"
	"meshmind-backend/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config           *config.Config
	Logger           *zap.Logger
	Store            *duckdb.Store
	GraphRepo        ports.GraphRepository
	NodeCache        *cache.CachedGraphRepository
	EntityRepo       ports.EntityRepository
	IntegrityRepo    ports.IntegrityRepository
	StoreAdmin       ports.StoreAdmin
	Locker           ports.DistributedLocker
	ObjectStore      ports.ObjectStore
	SnapshotManager  *snapshot.Manager
	WriteCoordinator *services.WriteCoordinator
	GraphService     *services.GraphService
	BackupScheduler  *services.BackupScheduler
	IntegrityScanner *services.IntegrityScanner
	Tenants          []graph.TenantID
	Router           *rest.Router
	Metrics          *observability.Collector
	Tracing          *observability.TracerProvider
}

// Shutdown releases the container's long-lived resources
func (c *Container) Shutdown(ctx context.Context) {
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			c.Logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
	if c.NodeCache != nil {
		c.NodeCache.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Logger.Warn("Store close failed", zap.Error(err))
		}
	}
	_ = c.Logger.Sync()
}
