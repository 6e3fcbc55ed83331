package ports

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrLockHeld is returned by a single acquisition attempt when another owner
// holds the lock. Callers retry with backoff up to their timeout.
var ErrLockHeld = errors.New("lock already held")

// Lock is an acquired lease on a coordination resource
type Lock interface {
	// Release releases the lock. Releasing a lock that already lapsed or was
	// taken over is not an error.
	Release(ctx context.Context) error

	// IsExpired checks whether the lease has lapsed
	IsExpired() bool

	// Resource returns the locked resource name
	Resource() string
}

// DistributedLocker is the inter-process mutual-exclusion port compensating
// for the embedded engine's single-writer limitation. Acquisition is an
// atomic acquire-if-absent against a shared coordination service with a lease
// TTL; locks are scoped per tenant so cross-tenant writes proceed in parallel.
type DistributedLocker interface {
	// Acquire attempts a single acquisition of the named resource for the
	// given owner with the given lease duration. Returns ErrLockHeld when the
	// resource is held by a live lease.
	Acquire(ctx context.Context, resource, ownerID string, lease time.Duration) (Lock, error)
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ErrObjectNotFound is returned by Get for missing keys
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the durable snapshot namespace shared by all instances of a
// tenant. The local embedded database is a disposable cache of what lives
// here.
type ObjectStore interface {
	// Put uploads an object
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Get downloads an object; returns ErrObjectNotFound for missing keys
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns the objects under a key prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Copy duplicates an object within the store
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Delete removes an object; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}
