package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	"meshmind-backend/domain/snapshot"
	"meshmind-backend/infrastructure/persistence/memory"
)

// fakeSnapshotStore records snapshot lifecycle calls
type fakeSnapshotStore struct {
	mu        sync.Mutex
	versions  map[graph.TenantID][]snapshot.Version
	exports   int
	prunes    int
	restored  []snapshot.Version
	exportErr error
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{versions: make(map[graph.TenantID][]snapshot.Version)}
}

func (f *fakeSnapshotStore) Export(ctx context.Context, tenantID graph.TenantID) (snapshot.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exportErr != nil {
		return "", f.exportErr
	}
	f.exports++
	version := snapshot.NewVersion(time.Now().Add(time.Duration(f.exports) * time.Second))
	f.versions[tenantID] = append(f.versions[tenantID], version)
	return version, nil
}

func (f *fakeSnapshotStore) Hydrate(ctx context.Context, tenantID graph.TenantID) (*ports.HydrationReport, error) {
	return &ports.HydrationReport{State: ports.HydrationStateComplete}, nil
}

func (f *fakeSnapshotStore) ListVersions(ctx context.Context, tenantID graph.TenantID) ([]snapshot.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]snapshot.Version{}, f.versions[tenantID]...), nil
}

func (f *fakeSnapshotStore) LatestBefore(ctx context.Context, tenantID graph.TenantID, t time.Time) (snapshot.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.versions[tenantID]
	for i := len(versions) - 1; i >= 0; i-- {
		taken, err := versions[i].Time()
		if err != nil {
			continue
		}
		if !taken.After(t) {
			return versions[i], nil
		}
	}
	return "", errors.New("no snapshot before requested time")
}

func (f *fakeSnapshotStore) RestoreVersion(ctx context.Context, tenantID graph.TenantID, version snapshot.Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, version)
	return nil
}

func (f *fakeSnapshotStore) Prune(ctx context.Context, tenantID graph.TenantID, retention time.Duration, keepMin int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes++
	return 0, nil
}

func (f *fakeSnapshotStore) State(tenantID graph.TenantID) ports.HydrationState {
	return ports.HydrationStateComplete
}

func newTestScheduler(snapshots SnapshotStore, tenants ...graph.TenantID) *BackupScheduler {
	coordinator := newTestCoordinator(memory.NewLocker(), nil, 5*time.Second, time.Second)
	return NewBackupScheduler(snapshots, coordinator, tenants, time.Hour, 24*time.Hour, zap.NewNop())
}

func TestBackupScheduler_RunOnce_ExportsAndPrunesEachTenant(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	scheduler := newTestScheduler(snapshots, "acme", "globex")

	scheduler.RunOnce(context.Background())

	assert.Equal(t, 2, snapshots.exports)
	assert.Equal(t, 2, snapshots.prunes)
	assert.Len(t, snapshots.versions["acme"], 1)
	assert.Len(t, snapshots.versions["globex"], 1)
}

func TestBackupScheduler_RunOnce_ExportFailureDoesNotPrune(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	snapshots.exportErr = errors.New("bucket unavailable")
	scheduler := newTestScheduler(snapshots, "acme")

	scheduler.RunOnce(context.Background())

	assert.Equal(t, 0, snapshots.exports)
	assert.Equal(t, 0, snapshots.prunes)
}

func TestBackupScheduler_ExportTenant_HoldsWriteLock(t *testing.T) {
	locker := memory.NewLocker()
	coordinator := newTestCoordinator(locker, nil, 5*time.Second, 100*time.Millisecond)
	snapshots := newFakeSnapshotStore()
	scheduler := NewBackupScheduler(snapshots, coordinator, []graph.TenantID{"acme"}, time.Hour, 24*time.Hour, zap.NewNop())
	ctx := context.Background()

	// A held write lock blocks the export past its acquire timeout
	held, err := locker.Acquire(ctx, lockResource("acme"), "writer", time.Minute)
	require.NoError(t, err)

	_, err = scheduler.ExportTenant(ctx, "acme")
	assert.Error(t, err)
	assert.Equal(t, 0, snapshots.exports)

	require.NoError(t, held.Release(ctx))
	version, err := scheduler.ExportTenant(ctx, "acme")
	require.NoError(t, err)
	assert.NotEmpty(t, version)
}

func TestBackupScheduler_RestoreToTimestamp(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	scheduler := newTestScheduler(snapshots, "acme")
	ctx := context.Background()

	v1, err := scheduler.ExportTenant(ctx, "acme")
	require.NoError(t, err)
	_, err = scheduler.ExportTenant(ctx, "acme")
	require.NoError(t, err)

	v1Time, err := v1.Time()
	require.NoError(t, err)

	restored, err := scheduler.RestoreToTimestamp(ctx, "acme", v1Time)
	require.NoError(t, err)
	assert.Equal(t, v1, restored)
	assert.Equal(t, []snapshot.Version{v1}, snapshots.restored)
}

func TestBackupScheduler_RestoreToTimestamp_NothingBefore(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	scheduler := newTestScheduler(snapshots, "acme")

	_, err := scheduler.RestoreToTimestamp(context.Background(), "acme", time.Now().Add(-time.Hour))
	assert.Error(t, err)
	assert.Empty(t, snapshots.restored)
}
