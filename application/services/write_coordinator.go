// Package services holds the application-layer orchestration: write
// coordination, scheduled backups, and integrity scanning. Services depend on
// ports, never on concrete infrastructure.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
	"meshmind-backend/pkg/observability"
)

// Reconciler flags a tenant whose local state can no longer be trusted as
// the export source
type Reconciler interface {
	MarkReconcileRequired(tenantID graph.TenantID)
}

// WriteCoordinator serializes writes per tenant across every process in the
// fleet. The embedded engine admits one writer; the coordinator makes that a
// fleet-wide guarantee by wrapping each write in a leased distributed lock.
type WriteCoordinator struct {
	locker           ports.DistributedLocker
	reconciler       Reconciler
	ownerID          string
	lease            time.Duration
	acquireTimeout   time.Duration
	contentionWarnAt time.Duration
	logger           *zap.Logger
	metrics          *observability.Collector
}

// NewWriteCoordinator creates a coordinator identified by ownerID (one ID per
// process instance)
func NewWriteCoordinator(
	locker ports.DistributedLocker,
	reconciler Reconciler,
	ownerID string,
	lease time.Duration,
	acquireTimeout time.Duration,
	contentionWarnAt time.Duration,
	logger *zap.Logger,
	metrics *observability.Collector,
) *WriteCoordinator {
	return &WriteCoordinator{
		locker:           locker,
		reconciler:       reconciler,
		ownerID:          ownerID,
		lease:            lease,
		acquireTimeout:   acquireTimeout,
		contentionWarnAt: contentionWarnAt,
		logger:           logger,
		metrics:          metrics,
	}
}

// lockResource names the per-tenant write lock. Tenant IDs have a validated
// charset, so the name is unambiguous.
func lockResource(tenantID graph.TenantID) string {
	return "tenant-write#" + tenantID.String()
}

// WithWriteLock runs fn while holding the tenant's write lock.
//
// Acquisition retries with exponential backoff up to the acquire timeout;
// exhaustion returns a retryable write-timeout error and the write never
// runs. If the lease lapses while fn is running, fn's effect on the local
// store stands, but the tenant is marked reconcile-required (suppressing
// exports until re-hydration) and a lease-expired error is returned so the
// caller knows durability is deferred.
func (c *WriteCoordinator) WithWriteLock(ctx context.Context, tenantID graph.TenantID, fn func(ctx context.Context) error) error {
	if tenantID.IsEmpty() {
		return apperrors.NewValidationError("tenant id is required")
	}

	if c.metrics != nil {
		c.metrics.WriteLockInflight.Inc()
		defer c.metrics.WriteLockInflight.Dec()
	}

	lock, waited, err := c.acquire(ctx, tenantID)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			c.logger.Warn("Write lock release failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}()

	if c.metrics != nil {
		c.metrics.WriteLockWait.Observe(waited.Seconds())
	}
	if c.contentionWarnAt > 0 && waited > c.contentionWarnAt {
		c.logger.Warn("Write lock contention",
			zap.String("tenant_id", tenantID.String()),
			zap.Duration("waited", waited),
		)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	if lock.IsExpired() {
		// The write committed locally, but another process may have held the
		// lock during part of it. Local state stays serviceable for reads and
		// writes; it just cannot be the source of a published snapshot until
		// re-hydrated.
		if c.reconciler != nil {
			c.reconciler.MarkReconcileRequired(tenantID)
		}
		c.logger.Error("Write lock lease lapsed during write",
			zap.String("tenant_id", tenantID.String()),
			zap.Duration("lease", c.lease),
		)
		return apperrors.NewLockLeaseExpiredError(tenantID.String())
	}
	return nil
}

// acquire retries single acquisitions with exponential backoff until the
// acquire timeout lapses
func (c *WriteCoordinator) acquire(ctx context.Context, tenantID graph.TenantID) (ports.Lock, time.Duration, error) {
	start := time.Now()
	resource := lockResource(tenantID)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 50 * time.Millisecond
	expo.MaxInterval = time.Second

	lock, err := backoff.Retry(ctx, func() (ports.Lock, error) {
		lock, err := c.locker.Acquire(ctx, resource, c.ownerID, c.lease)
		if err != nil {
			if errors.Is(err, ports.ErrLockHeld) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return lock, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxElapsedTime(c.acquireTimeout))

	waited := time.Since(start)
	if err != nil {
		if errors.Is(err, ports.ErrLockHeld) || errors.Is(err, context.DeadlineExceeded) {
			if c.metrics != nil {
				c.metrics.WriteLockTimeouts.Inc()
			}
			c.logger.Warn("Write lock acquisition timed out",
				zap.String("tenant_id", tenantID.String()),
				zap.Duration("waited", waited),
			)
			return nil, waited, apperrors.NewWriteTimeoutError(tenantID.String()).
				WithDetail("waited", waited.String())
		}
		return nil, waited, fmt.Errorf("failed to acquire write lock for %s: %w", tenantID, err)
	}
	return lock, waited, nil
}
