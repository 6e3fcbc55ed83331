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
	"meshmind-backend/infrastructure/persistence/memory"
)

// fakeIntegrityRepo serves a fixed orphan set per tenant
type fakeIntegrityRepo struct {
	mu       sync.Mutex
	orphans  map[graph.TenantID][]ports.Orphan
	scanErr  error
	repaired int
}

func (f *fakeIntegrityRepo) ScanOrphans(ctx context.Context, tenantID graph.TenantID) ([]ports.Orphan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return append([]ports.Orphan{}, f.orphans[tenantID]...), nil
}

func (f *fakeIntegrityRepo) RepairOrphans(ctx context.Context, tenantID graph.TenantID, orphans []ports.Orphan) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repaired += len(orphans)
	f.orphans[tenantID] = nil
	return len(orphans), nil
}

func newTestScanner(repo ports.IntegrityRepository, repair bool, tenants ...graph.TenantID) *IntegrityScanner {
	coordinator := newTestCoordinator(memory.NewLocker(), nil, 5*time.Second, time.Second)
	return NewIntegrityScanner(repo, coordinator, tenants, time.Hour, repair, zap.NewNop())
}

func TestIntegrityScanner_ScanTenant_ReportOnly(t *testing.T) {
	repo := &fakeIntegrityRepo{orphans: map[graph.TenantID][]ports.Orphan{
		"acme": {{Table: "graph_edges", RowID: "e1", TenantID: "acme", ColumnRef: "target_id", MissingID: "n9"}},
	}}
	scanner := newTestScanner(repo, false, "acme")

	report, err := scanner.ScanTenant(context.Background(), "acme", false)
	require.NoError(t, err)
	assert.Len(t, report.Orphans, 1)
	assert.Equal(t, 0, report.Repaired)
	assert.Equal(t, 0, repo.repaired)
}

func TestIntegrityScanner_ScanTenant_Repairs(t *testing.T) {
	repo := &fakeIntegrityRepo{orphans: map[graph.TenantID][]ports.Orphan{
		"acme": {
			{Table: "graph_edges", RowID: "e1", TenantID: "acme"},
			{Table: "entities", RowID: "x1", TenantID: "acme"},
		},
	}}
	scanner := newTestScanner(repo, true, "acme")

	report, err := scanner.ScanTenant(context.Background(), "acme", true)
	require.NoError(t, err)
	assert.Len(t, report.Orphans, 2)
	assert.Equal(t, 2, report.Repaired)
	assert.Equal(t, 2, repo.repaired)
}

func TestIntegrityScanner_ScanTenant_CleanTenantSkipsLock(t *testing.T) {
	locker := memory.NewLocker()
	coordinator := newTestCoordinator(locker, nil, 5*time.Second, 50*time.Millisecond)
	repo := &fakeIntegrityRepo{orphans: map[graph.TenantID][]ports.Orphan{}}
	scanner := NewIntegrityScanner(repo, coordinator, []graph.TenantID{"acme"}, time.Hour, true, zap.NewNop())
	ctx := context.Background()

	// A held write lock does not block a clean scan: no repair, no lock taken
	held, err := locker.Acquire(ctx, lockResource("acme"), "writer", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	report, err := scanner.ScanTenant(ctx, "acme", true)
	require.NoError(t, err)
	assert.Empty(t, report.Orphans)
}

func TestIntegrityScanner_RunOnce_ContinuesPastFailingTenant(t *testing.T) {
	repo := &fakeIntegrityRepo{
		orphans: map[graph.TenantID][]ports.Orphan{},
		scanErr: errors.New("scan failed"),
	}
	scanner := newTestScanner(repo, false, "acme", "globex")

	reports := scanner.RunOnce(context.Background())
	assert.Empty(t, reports)
}

func TestIntegrityScanner_RunOnce_AllTenants(t *testing.T) {
	repo := &fakeIntegrityRepo{orphans: map[graph.TenantID][]ports.Orphan{
		"acme": {{Table: "graph_edges", RowID: "e1", TenantID: "acme"}},
	}}
	scanner := newTestScanner(repo, false, "acme", "globex")

	reports := scanner.RunOnce(context.Background())
	require.Len(t, reports, 2)
	assert.Len(t, reports[0].Orphans, 1)
	assert.Empty(t, reports[1].Orphans)
}
