// Package snapshot implements the two-phase snapshot lifecycle between the
// embedded store and the object store: checksummed Parquet export with
// staged publication, and verified hydration with fallback to older versions.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	domainsnapshot "meshmind-backend/domain/snapshot"
	"meshmind-backend/infrastructure/persistence/duckdb"
	apperrors "meshmind-backend/pkg/errors"
	"meshmind-backend/pkg/observability"
)

// stagingMaxAge bounds how long an abandoned staging prefix survives before
// Prune sweeps it. Long enough that no live export can still be writing.
const stagingMaxAge = 24 * time.Hour

// uploadMaxAttempts bounds the retries of one object-store put or copy
// during publication
const uploadMaxAttempts = 3

// Manager owns the snapshot lifecycle for every tenant served by this
// process. Publication is two-phase: nothing under a published version prefix
// is addressable until its manifest lands, and the manifest is always written
// last.
type Manager struct {
	store           *duckdb.Store
	objects         ports.ObjectStore
	coldStartBudget time.Duration
	logger          *zap.Logger
	metrics         *observability.Collector

	mu     sync.Mutex
	states map[graph.TenantID]ports.HydrationState
}

// NewManager creates a snapshot manager over the store and object store
func NewManager(store *duckdb.Store, objects ports.ObjectStore, coldStartBudget time.Duration, logger *zap.Logger, metrics *observability.Collector) *Manager {
	return &Manager{
		store:           store,
		objects:         objects,
		coldStartBudget: coldStartBudget,
		logger:          logger,
		metrics:         metrics,
		states:          make(map[graph.TenantID]ports.HydrationState),
	}
}

// State returns the hydration state of a tenant on this instance
func (m *Manager) State(tenantID graph.TenantID) ports.HydrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[tenantID]; ok {
		return state
	}
	return ports.HydrationStateCold
}

func (m *Manager) setState(tenantID graph.TenantID, state ports.HydrationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[tenantID] = state
}

// MarkReconcileRequired flags a tenant whose local writes may have raced a
// lapsed lock lease. Exports are refused until the tenant is re-hydrated
// from the durable store, so a possibly stale image can never be published.
func (m *Manager) MarkReconcileRequired(tenantID graph.TenantID) {
	m.setState(tenantID, ports.HydrationStateReconcileRequired)
	m.logger.Warn("Tenant marked for reconciliation, exports suppressed",
		zap.String("tenant_id", tenantID.String()),
	)
}

// Export publishes a snapshot of the tenant's graph and returns its version.
//
// Phase one writes every table file and the manifest under the tenant's
// staging prefix, where readers never look. Phase two copies the files to the
// published version prefix and copies the manifest last, so a version either
// has a complete verified manifest or does not exist to readers. Staging is
// cleaned up afterwards; leftovers from a crash are swept by Prune.
func (m *Manager) Export(ctx context.Context, tenantID graph.TenantID) (domainsnapshot.Version, error) {
	if m.State(tenantID) == ports.HydrationStateReconcileRequired {
		return "", apperrors.NewExportFailureError("precondition",
			fmt.Errorf("tenant %s requires reconciliation before export", tenantID))
	}

	start := time.Now()
	version := domainsnapshot.NewVersion(start)

	dir, err := os.MkdirTemp("", "graph-export-*")
	if err != nil {
		return "", apperrors.NewExportFailureError("tempdir", err)
	}
	defer os.RemoveAll(dir)

	exports, err := m.store.ExportTables(ctx, tenantID, dir)
	if err != nil {
		return "", err
	}

	manifest := domainsnapshot.Manifest{
		SchemaVersion: len(duckdb.Migrations),
		TenantID:      tenantID.String(),
		Version:       version,
		CreatedAt:     start.UTC(),
	}
	var totalBytes int64
	for _, exp := range exports {
		sum, err := fileSHA256(exp.Path)
		if err != nil {
			return "", apperrors.NewExportFailureError("checksum", err)
		}
		info, err := os.Stat(exp.Path)
		if err != nil {
			return "", apperrors.NewExportFailureError("checksum", err)
		}
		totalBytes += info.Size()
		manifest.Files = append(manifest.Files, domainsnapshot.FileEntry{
			Name:     exp.FileName,
			Table:    exp.Table,
			SHA256:   sum,
			SizeByte: info.Size(),
			RowCount: exp.RowCount,
		})
	}

	// Re-read every file against its manifest digest before anything leaves
	// the machine. A file mutated between digest and upload must not ship.
	if err := verifyLocalFiles(dir, &manifest); err != nil {
		return "", apperrors.NewExportFailureError("verify", err)
	}

	staging := domainsnapshot.StagingVersionPrefix(tenantID, version)
	published := domainsnapshot.VersionPrefix(tenantID, version)

	for _, entry := range manifest.Files {
		if err := m.putFile(ctx, staging+entry.Name, filepath.Join(dir, entry.Name), entry.SizeByte); err != nil {
			m.cleanupStaging(ctx, tenantID, version)
			return "", apperrors.NewExportFailureError("stage_upload", err)
		}
	}

	manifestJSON, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		m.cleanupStaging(ctx, tenantID, version)
		return "", apperrors.NewExportFailureError("manifest_encode", err)
	}
	err = m.retryObject(ctx, func() error {
		return m.objects.Put(ctx, staging+domainsnapshot.ManifestName,
			bytes.NewReader(manifestJSON), int64(len(manifestJSON)))
	})
	if err != nil {
		m.cleanupStaging(ctx, tenantID, version)
		return "", apperrors.NewExportFailureError("stage_upload", err)
	}

	// Publication: data files first, manifest strictly last. A failed publish
	// removes the partially copied version prefix so no orphan data files
	// outlive it; without a manifest the prefix is invisible to Prune.
	for _, entry := range manifest.Files {
		err := m.retryObject(ctx, func() error {
			return m.objects.Copy(ctx, staging+entry.Name, published+entry.Name)
		})
		if err != nil {
			m.cleanupPublished(ctx, tenantID, version)
			m.cleanupStaging(ctx, tenantID, version)
			return "", apperrors.NewExportFailureError("publish", err)
		}
	}
	err = m.retryObject(ctx, func() error {
		return m.objects.Copy(ctx, staging+domainsnapshot.ManifestName, published+domainsnapshot.ManifestName)
	})
	if err != nil {
		m.cleanupPublished(ctx, tenantID, version)
		m.cleanupStaging(ctx, tenantID, version)
		return "", apperrors.NewExportFailureError("publish_manifest", err)
	}

	m.cleanupStaging(ctx, tenantID, version)

	if m.metrics != nil {
		m.metrics.ExportDuration.Observe(time.Since(start).Seconds())
		m.metrics.ExportBytes.Observe(float64(totalBytes))
	}
	m.logger.Info("Snapshot published",
		zap.String("tenant_id", tenantID.String()),
		zap.String("version", version.String()),
		zap.Int64("bytes", totalBytes),
		zap.Duration("duration", time.Since(start)),
	)
	return version, nil
}

// Hydrate loads the tenant's latest valid snapshot into the local store.
// Versions are tried newest first; one that fails manifest validation,
// checksum verification, or import is logged and skipped. A tenant with no
// published snapshots hydrates to an empty, complete store.
//
// The cold-start budget bounds how long the caller waits: the core graph
// tables are always imported before Hydrate returns, and if the remaining
// tables have not landed by the budget deadline the report comes back partial
// while they finish in the background.
func (m *Manager) Hydrate(ctx context.Context, tenantID graph.TenantID) (*ports.HydrationReport, error) {
	start := time.Now()
	m.setState(tenantID, ports.HydrationStateCold)

	var deadline time.Time
	if m.coldStartBudget > 0 {
		deadline = start.Add(m.coldStartBudget)
	}

	versions, err := m.ListVersions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		m.setState(tenantID, ports.HydrationStateComplete)
		m.observeColdStart(tenantID, start)
		return &ports.HydrationReport{
			State:    ports.HydrationStateComplete,
			Duration: time.Since(start),
		}, nil
	}

	var lastErr error
	for i := len(versions) - 1; i >= 0; i-- {
		version := versions[i]
		report, err := m.hydrateVersion(ctx, tenantID, version, deadline)
		if err == nil {
			report.Duration = time.Since(start)
			m.observeColdStart(tenantID, start)
			return report, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		m.logger.Warn("Snapshot rejected, trying previous version",
			zap.String("tenant_id", tenantID.String()),
			zap.String("version", version.String()),
			zap.Error(err),
		)
	}

	return nil, apperrors.NewNoValidSnapshotError(tenantID.String()).
		WithDetail("versions_tried", len(versions)).
		WithDetail("last_error", lastErr.Error())
}

// RestoreVersion loads one specific published snapshot, replacing the
// tenant's local state. Used by point-in-time restore, which has no budget
// pressure and imports every table before returning.
func (m *Manager) RestoreVersion(ctx context.Context, tenantID graph.TenantID, version domainsnapshot.Version) error {
	report, err := m.hydrateVersion(ctx, tenantID, version, time.Time{})
	if err != nil {
		return err
	}
	m.logger.Info("Snapshot restored",
		zap.String("tenant_id", tenantID.String()),
		zap.String("version", report.Version),
	)
	return nil
}

// LatestBefore returns the newest published version taken at or before t
func (m *Manager) LatestBefore(ctx context.Context, tenantID graph.TenantID, t time.Time) (domainsnapshot.Version, error) {
	versions, err := m.ListVersions(ctx, tenantID)
	if err != nil {
		return "", err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		taken, err := versions[i].Time()
		if err != nil {
			continue
		}
		if !taken.After(t) {
			return versions[i], nil
		}
	}
	return "", apperrors.NewNoValidSnapshotError(tenantID.String()).
		WithDetail("before", t.UTC().Format(time.RFC3339))
}

// ListVersions returns the tenant's published snapshot versions, oldest
// first. Only versions with a manifest object count; an interrupted
// publication is invisible here.
func (m *Manager) ListVersions(ctx context.Context, tenantID graph.TenantID) ([]domainsnapshot.Version, error) {
	prefix := domainsnapshot.TenantPrefix(tenantID)
	objects, err := m.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", tenantID, err)
	}

	var versions []domainsnapshot.Version
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, prefix)
		parts := strings.Split(rel, "/")
		if len(parts) != 2 || parts[1] != domainsnapshot.ManifestName {
			continue
		}
		if parts[0] == domainsnapshot.StagingPrefix {
			continue
		}
		versions = append(versions, domainsnapshot.Version(parts[0]))
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// Prune deletes published versions older than retention, always keeping the
// newest keepMin versions, and sweeps abandoned staging prefixes. Returns the
// number of versions deleted.
func (m *Manager) Prune(ctx context.Context, tenantID graph.TenantID, retention time.Duration, keepMin int) (int, error) {
	versions, err := m.ListVersions(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if keepMin < 1 {
		keepMin = 1
	}

	cutoff := time.Now().Add(-retention)
	pruned := 0
	for i, version := range versions {
		if len(versions)-i <= keepMin {
			break
		}
		taken, err := version.Time()
		if err != nil || !taken.Before(cutoff) {
			continue
		}
		if err := m.deletePrefix(ctx, domainsnapshot.VersionPrefix(tenantID, version)); err != nil {
			return pruned, fmt.Errorf("failed to prune version %s: %w", version, err)
		}
		pruned++
	}

	if err := m.sweepStaging(ctx, tenantID); err != nil {
		m.logger.Warn("Staging sweep failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}

	if pruned > 0 {
		m.logger.Info("Pruned old snapshots",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("pruned", pruned),
		)
	}
	return pruned, nil
}

// hydrateVersion downloads, verifies, and imports one snapshot version. Core
// tables are imported first and the tenant becomes queryable (partial) before
// the remaining tables land. A zero deadline means import everything before
// returning; otherwise the remaining tables may finish after the return, and
// the report says partial until they do.
func (m *Manager) hydrateVersion(ctx context.Context, tenantID graph.TenantID, version domainsnapshot.Version, deadline time.Time) (*ports.HydrationReport, error) {
	manifest, err := m.loadManifest(ctx, tenantID, version)
	if err != nil {
		return nil, err
	}
	if manifest.SchemaVersion > len(duckdb.Migrations) {
		return nil, apperrors.NewSnapshotValidationError(version.String(),
			fmt.Sprintf("snapshot schema version %d is newer than store schema %d",
				manifest.SchemaVersion, len(duckdb.Migrations)))
	}

	dir, err := os.MkdirTemp("", "graph-hydrate-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create hydration directory: %w", err)
	}
	removeDir := true
	defer func() {
		if removeDir {
			os.RemoveAll(dir)
		}
	}()

	// Parallel verified downloads
	published := domainsnapshot.VersionPrefix(tenantID, version)
	group, groupCtx := errgroup.WithContext(ctx)
	localPaths := make(map[string]string, len(manifest.Files))
	for _, entry := range manifest.Files {
		localPaths[entry.Table] = filepath.Join(dir, entry.Name)
	}
	for _, entry := range manifest.Files {
		group.Go(func() error {
			body, err := m.objects.Get(groupCtx, published+entry.Name)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", entry.Name, err)
			}
			defer body.Close()
			if _, err := copyVerified(body, localPaths[entry.Table], entry.SHA256); err != nil {
				return apperrors.NewSnapshotValidationError(version.String(), err.Error())
			}
			if m.metrics != nil {
				m.metrics.PartitionMisses.Inc()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	imports := func(tables []string) []duckdb.TableImport {
		var out []duckdb.TableImport
		for _, table := range tables {
			entry, ok := m.entryForTable(manifest, table)
			if !ok {
				continue
			}
			out = append(out, duckdb.TableImport{
				Table:        table,
				Path:         localPaths[table],
				ExpectedRows: entry.RowCount,
			})
		}
		return out
	}

	core := imports(duckdb.CoreTables)
	if err := m.store.ImportTables(ctx, tenantID, core); err != nil {
		return nil, err
	}
	m.setState(tenantID, ports.HydrationStatePartial)

	var rest []string
	for _, table := range duckdb.GraphTables {
		if !contains(duckdb.CoreTables, table) {
			rest = append(rest, table)
		}
	}
	restImports := imports(rest)
	if len(restImports) == 0 {
		m.setState(tenantID, ports.HydrationStateComplete)
		return &ports.HydrationReport{
			Version:      version.String(),
			State:        ports.HydrationStateComplete,
			LoadedTables: append([]string{}, duckdb.CoreTables...),
		}, nil
	}

	if deadline.IsZero() {
		if err := m.store.ImportTables(ctx, tenantID, restImports); err != nil {
			return nil, err
		}
		m.setState(tenantID, ports.HydrationStateComplete)
		return &ports.HydrationReport{
			Version:      version.String(),
			State:        ports.HydrationStateComplete,
			LoadedTables: append(append([]string{}, duckdb.CoreTables...), rest...),
		}, nil
	}

	// The remaining tables import on a context that survives the caller, so
	// an expiring request deadline cannot strand a half-imported tenant.
	restCtx := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	removeDir = false
	go func() {
		defer os.RemoveAll(dir)
		err := m.store.ImportTables(restCtx, tenantID, restImports)
		if err != nil {
			m.logger.Error("Deferred table import failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("version", version.String()),
				zap.Error(err),
			)
			m.setState(tenantID, ports.HydrationStateReconcileRequired)
		} else {
			m.setState(tenantID, ports.HydrationStateComplete)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return &ports.HydrationReport{
			Version:      version.String(),
			State:        ports.HydrationStateComplete,
			LoadedTables: append(append([]string{}, duckdb.CoreTables...), rest...),
		}, nil
	case <-time.After(time.Until(deadline)):
		m.logger.Info("Cold-start budget reached, serving partial data",
			zap.String("tenant_id", tenantID.String()),
			zap.String("version", version.String()),
			zap.Strings("pending_tables", rest),
		)
		return &ports.HydrationReport{
			Version:      version.String(),
			State:        ports.HydrationStatePartial,
			LoadedTables: append([]string{}, duckdb.CoreTables...),
		}, nil
	}
}

// loadManifest fetches and validates one version's manifest
func (m *Manager) loadManifest(ctx context.Context, tenantID graph.TenantID, version domainsnapshot.Version) (*domainsnapshot.Manifest, error) {
	key := domainsnapshot.VersionPrefix(tenantID, version) + domainsnapshot.ManifestName
	body, err := m.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ports.ErrObjectNotFound) {
			return nil, apperrors.NewSnapshotValidationError(version.String(), "manifest missing")
		}
		return nil, fmt.Errorf("failed to fetch manifest %s: %w", key, err)
	}
	defer body.Close()

	var manifest domainsnapshot.Manifest
	if err := json.NewDecoder(body).Decode(&manifest); err != nil {
		return nil, apperrors.NewSnapshotValidationError(version.String(), "manifest unreadable: "+err.Error())
	}
	if err := manifest.Validate(); err != nil {
		return nil, apperrors.NewSnapshotValidationError(version.String(), err.Error())
	}
	if manifest.TenantID != tenantID.String() || manifest.Version != version {
		return nil, apperrors.NewSnapshotValidationError(version.String(), "manifest identity mismatch")
	}
	return &manifest, nil
}

func (m *Manager) entryForTable(manifest *domainsnapshot.Manifest, table string) (domainsnapshot.FileEntry, bool) {
	for _, entry := range manifest.Files {
		if entry.Table == table {
			return entry, true
		}
	}
	return domainsnapshot.FileEntry{}, false
}

// verifyLocalFiles re-reads every export file and compares it against the
// digest recorded in the manifest
func verifyLocalFiles(dir string, manifest *domainsnapshot.Manifest) error {
	for _, entry := range manifest.Files {
		sum, err := fileSHA256(filepath.Join(dir, entry.Name))
		if err != nil {
			return fmt.Errorf("failed to re-read %s: %w", entry.Name, err)
		}
		if sum != entry.SHA256 {
			return fmt.Errorf("file %s changed after checksum: %s != %s", entry.Name, sum, entry.SHA256)
		}
	}
	return nil
}

// retryObject retries one object-store operation with exponential backoff,
// bounded by uploadMaxAttempts
func (m *Manager) retryObject(ctx context.Context, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uploadMaxAttempts))
	return err
}

// putFile uploads one local file, reopening it on each retry since a failed
// attempt may have consumed part of the reader
func (m *Manager) putFile(ctx context.Context, key, localPath string, size int64) error {
	return m.retryObject(ctx, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", localPath, err)
		}
		defer f.Close()
		return m.objects.Put(ctx, key, f, size)
	})
}

// cleanupStaging best-effort deletes one version's staging objects
func (m *Manager) cleanupStaging(ctx context.Context, tenantID graph.TenantID, version domainsnapshot.Version) {
	if err := m.deletePrefix(ctx, domainsnapshot.StagingVersionPrefix(tenantID, version)); err != nil {
		m.logger.Warn("Staging cleanup failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("version", version.String()),
			zap.Error(err),
		)
	}
}

// cleanupPublished best-effort deletes a version prefix whose publication
// failed part-way. The manifest never landed, so nothing could have read it.
func (m *Manager) cleanupPublished(ctx context.Context, tenantID graph.TenantID, version domainsnapshot.Version) {
	if err := m.deletePrefix(ctx, domainsnapshot.VersionPrefix(tenantID, version)); err != nil {
		m.logger.Warn("Published prefix cleanup failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("version", version.String()),
			zap.Error(err),
		)
	}
}

// sweepStaging deletes staging prefixes old enough that no live export can
// still be writing them
func (m *Manager) sweepStaging(ctx context.Context, tenantID graph.TenantID) error {
	prefix := path.Join(tenantID.String(), "graph", domainsnapshot.StagingPrefix) + "/"
	objects, err := m.objects.List(ctx, prefix)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-stagingMaxAge)
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := m.objects.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

// deletePrefix removes every object under prefix
func (m *Manager) deletePrefix(ctx context.Context, prefix string) error {
	objects, err := m.objects.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := m.objects.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// observeColdStart records hydration timing against the cold-start budget
func (m *Manager) observeColdStart(tenantID graph.TenantID, start time.Time) {
	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.ColdStartDuration.Observe(elapsed.Seconds())
	}
	if m.coldStartBudget > 0 && elapsed > m.coldStartBudget {
		m.logger.Warn("Cold start exceeded budget",
			zap.String("tenant_id", tenantID.String()),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", m.coldStartBudget),
		)
	}
}
