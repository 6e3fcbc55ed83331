package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"meshmind-backend/application/ports"
	"meshmind-backend/application/services"
	"meshmind-backend/domain/graph"
	"meshmind-backend/infrastructure/config"
	"meshmind-backend/infrastructure/objectstore"
	"meshmind-backend/infrastructure/persistence/cache"
	"meshmind-backend/infrastructure/persistence/duckdb"
	"meshmind-backend/infrastructure/persistence/dynamodb"
	"meshmind-backend/infrastructure/persistence/snapshot"
	"meshmind-backend/interfaces/http/rest"
	"meshmind-backend/interfaces/http/rest/handlers"
	apperrors "meshmind-backend/pkg/errors"
	"meshmind-backend/pkg/observability"
	"meshmind-backend/pkg/ratelimit"
)

// nodeCacheTTL bounds staleness from writes on other instances
const nodeCacheTTL = 30 * time.Second

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideS3Client creates an S3 client
func ProvideS3Client(awsCfg aws.Config) *awss3.Client {
	return awss3.NewFromConfig(awsCfg)
}

// ProvideStore opens the embedded graph database and applies pending
// migrations
func ProvideStore(cfg *config.Config, logger *zap.Logger) (*duckdb.Store, error) {
	store, err := duckdb.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	manager, err := duckdb.NewMigrationManager(store, duckdb.Migrations, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := manager.ApplyPending(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// ProvideMetrics creates the metrics collector
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("meshmind")
}

// ProvideNodeCache builds the caching layer over the raw graph repository.
// It is exposed on its own so callers can flush it after hydration or
// restore replaces the local image.
func ProvideNodeCache(cfg *config.Config, store *duckdb.Store, logger *zap.Logger, metrics *observability.Collector) *cache.CachedGraphRepository {
	repo := duckdb.NewGraphRepository(store, cfg.TraversalLimit, logger, metrics)
	return cache.NewCachedGraphRepository(repo, nodeCacheTTL)
}

// ProvideGraphRepository layers tracing, when enabled, on top of the cached
// repository
func ProvideGraphRepository(nodeCache *cache.CachedGraphRepository, tracing *observability.TracerProvider) ports.GraphRepository {
	var repo ports.GraphRepository = nodeCache
	if tracing != nil {
		repo = observability.TraceGraphRepository(repo, tracing.Tracer())
	}
	return repo
}

// ProvideEntityRepository creates the entity repository
func ProvideEntityRepository(store *duckdb.Store, logger *zap.Logger) ports.EntityRepository {
	return duckdb.NewEntityRepository(store, logger)
}

// ProvideIntegrityRepository creates the integrity repository
func ProvideIntegrityRepository(store *duckdb.Store, logger *zap.Logger, metrics *observability.Collector) ports.IntegrityRepository {
	return duckdb.NewIntegrityRepository(store, logger, metrics)
}

// ProvideStoreAdmin exposes the store's operational surface
func ProvideStoreAdmin(store *duckdb.Store) ports.StoreAdmin {
	return store
}

// ProvideTracing initializes tracing when enabled; a nil provider disables it
func ProvideTracing(cfg *config.Config) (*observability.TracerProvider, error) {
	if !cfg.EnableTracing {
		return nil, nil
	}
	return observability.InitTracing(observability.TracingConfig{
		ServiceName: "meshmind-backend",
		Environment: cfg.Environment,
		Endpoint:    cfg.TraceEndpoint,
	})
}

// ProvideDistributedLocker creates the fleet-wide write lock
func ProvideDistributedLocker(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.DistributedLocker {
	return dynamodb.NewDistributedLock(client, cfg.LockTable, logger)
}

// ProvideObjectStore creates the snapshot object store
func ProvideObjectStore(client *awss3.Client, cfg *config.Config, logger *zap.Logger) ports.ObjectStore {
	return objectstore.NewS3Store(client, cfg.SnapshotBucket, logger)
}

// ProvideSnapshotManager creates the snapshot lifecycle manager
func ProvideSnapshotManager(store *duckdb.Store, objects ports.ObjectStore, cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) *snapshot.Manager {
	return snapshot.NewManager(store, objects, cfg.ColdStartBudget, logger, metrics)
}

// ProvideSnapshotStore adapts the manager to the application port
func ProvideSnapshotStore(manager *snapshot.Manager) services.SnapshotStore {
	return manager
}

// ProvideWriteCoordinator creates the per-tenant write coordinator. The owner
// ID is unique per process so lock records name their holder.
func ProvideWriteCoordinator(locker ports.DistributedLocker, manager *snapshot.Manager, cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) *services.WriteCoordinator {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	ownerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	return services.NewWriteCoordinator(
		locker,
		manager,
		ownerID,
		cfg.LockLease,
		cfg.LockAcquireTimeout,
		cfg.ContentionWarnWait,
		logger,
		metrics,
	)
}

// ProvideGraphService creates the graph application service
func ProvideGraphService(graphRepo ports.GraphRepository, entityRepo ports.EntityRepository, coordinator *services.WriteCoordinator, logger *zap.Logger) *services.GraphService {
	return services.NewGraphService(graphRepo, entityRepo, coordinator, logger)
}

// ProvideTenants parses the configured tenant list
func ProvideTenants(cfg *config.Config) ([]graph.TenantID, error) {
	tenants := make([]graph.TenantID, 0, len(cfg.Backup.Tenants))
	for _, raw := range cfg.Backup.Tenants {
		tenantID, err := graph.NewTenantID(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant in backup policy: %w", err)
		}
		tenants = append(tenants, tenantID)
	}
	return tenants, nil
}

// ProvideBackupScheduler creates the backup scheduler
func ProvideBackupScheduler(snapshots services.SnapshotStore, coordinator *services.WriteCoordinator, tenants []graph.TenantID, cfg *config.Config, logger *zap.Logger) *services.BackupScheduler {
	return services.NewBackupScheduler(snapshots, coordinator, tenants, cfg.Backup.Interval, cfg.Backup.Retention, logger)
}

// ProvideIntegrityScanner creates the integrity scanner
func ProvideIntegrityScanner(repo ports.IntegrityRepository, coordinator *services.WriteCoordinator, tenants []graph.TenantID, cfg *config.Config, logger *zap.Logger) *services.IntegrityScanner {
	return services.NewIntegrityScanner(repo, coordinator, tenants, cfg.ScanInterval, cfg.ScanRepair, logger)
}

// ProvideErrorHandler creates the HTTP error handler
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *apperrors.ErrorHandler {
	return apperrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideRateLimiter creates the per-tenant request limiter
func ProvideRateLimiter() *ratelimit.TokenBucketLimiter {
	return ratelimit.NewTokenBucketLimiter(200, 50*time.Millisecond)
}

// ProvideGraphHandler creates the graph REST handler
func ProvideGraphHandler(service *services.GraphService, errorHandler *apperrors.ErrorHandler, logger *zap.Logger) *handlers.GraphHandler {
	return handlers.NewGraphHandler(service, errorHandler, logger)
}

// ProvideAdminHandler creates the admin REST handler
func ProvideAdminHandler(snapshots services.SnapshotStore, scheduler *services.BackupScheduler, scanner *services.IntegrityScanner, nodeCache *cache.CachedGraphRepository, errorHandler *apperrors.ErrorHandler, logger *zap.Logger) *handlers.AdminHandler {
	return handlers.NewAdminHandler(snapshots, scheduler, scanner, nodeCache, errorHandler, logger)
}

// ProvideHealthHandler creates the health REST handler
func ProvideHealthHandler(admin ports.StoreAdmin, snapshots services.SnapshotStore, tenants []graph.TenantID, logger *zap.Logger) *handlers.HealthHandler {
	return handlers.NewHealthHandler(admin, snapshots, tenants, logger)
}

// ProvideRouter creates the HTTP router
func ProvideRouter(graphHandler *handlers.GraphHandler, adminHandler *handlers.AdminHandler, healthHandler *handlers.HealthHandler, limiter *ratelimit.TokenBucketLimiter, metrics *observability.Collector, logger *zap.Logger) *rest.Router {
	return rest.NewRouter(graphHandler, adminHandler, healthHandler, limiter, metrics, logger)
}
