// Package snapshot defines the durable snapshot model: immutable, versioned,
// checksummed exports of the graph tables used for cold-start hydration and
// point-in-time recovery.
package snapshot

import (
	"fmt"
	"path"
	"time"

	"meshmind-backend/domain/graph"
)

// ManifestName is the object key (relative to a version prefix) of the
// manifest. It is written last during publication, so its presence marks a
// fully published snapshot.
const ManifestName = "manifest.json"

// StagingPrefix is the per-tenant sub-prefix that holds snapshots while they
// are being written. Nothing under it is ever addressable by readers.
const StagingPrefix = ".staging"

// versionTimeLayout is lexicographically sortable, so object-store listings
// come back in version order.
const versionTimeLayout = "20060102T150405.000000000Z"

// Version identifies one snapshot of one tenant's graph. Versions are derived
// from the export start time and sort lexicographically in time order.
type Version string

// NewVersion creates a version for an export that began at t
func NewVersion(t time.Time) Version {
	return Version(t.UTC().Format(versionTimeLayout))
}

// Time parses the version back into its export start time
func (v Version) Time() (time.Time, error) {
	t, err := time.Parse(versionTimeLayout, string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed snapshot version %q: %w", v, err)
	}
	return t, nil
}

// String returns the string representation
func (v Version) String() string {
	return string(v)
}

// FileEntry describes one constituent file of a snapshot
type FileEntry struct {
	Name     string `json:"name"`
	Table    string `json:"table"`
	SHA256   string `json:"sha256"`
	SizeByte int64  `json:"size_bytes"`
	RowCount int64  `json:"row_count"`
}

// Manifest is the integrity record of a snapshot. A reader must refuse to
// load a snapshot whose manifest is incomplete or whose checksums fail.
type Manifest struct {
	SchemaVersion int         `json:"schema_version"`
	TenantID      string      `json:"tenant_id"`
	Version       Version     `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	Files         []FileEntry `json:"files"`
}

// Validate checks the manifest is internally complete
func (m *Manifest) Validate() error {
	if m.TenantID == "" {
		return fmt.Errorf("manifest missing tenant id")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest lists no files")
	}
	for _, f := range m.Files {
		if f.Name == "" || f.Table == "" || f.SHA256 == "" {
			return fmt.Errorf("manifest entry for table %q is incomplete", f.Table)
		}
	}
	return nil
}

// Entry returns the manifest entry for the named file, if present
func (m *Manifest) Entry(name string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileEntry{}, false
}

// TenantPrefix returns the object-store prefix holding all of a tenant's
// published snapshots: {tenant}/graph/
func TenantPrefix(tenantID graph.TenantID) string {
	return path.Join(tenantID.String(), "graph") + "/"
}

// VersionPrefix returns the published prefix of one snapshot version:
// {tenant}/graph/{version}/
func VersionPrefix(tenantID graph.TenantID, v Version) string {
	return path.Join(tenantID.String(), "graph", v.String()) + "/"
}

// StagingVersionPrefix returns the staging prefix of one in-flight export:
// {tenant}/graph/.staging/{version}/
func StagingVersionPrefix(tenantID graph.TenantID, v Version) string {
	return path.Join(tenantID.String(), "graph", StagingPrefix, v.String()) + "/"
}
