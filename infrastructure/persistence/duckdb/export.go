package duckdb

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
)

// tableColumns fixes the column order for export and import. Snapshot files
// written with one order must reload with the same one even after additive
// schema migrations.
var tableColumns = map[string]string{
	tableNodes:       "id, tenant_id, node_type, attributes, created_at, deleted_at",
	tableEdges:       "id, tenant_id, source_id, target_id, edge_type, weight, created_at, deleted_at",
	tableEntities:    "id, tenant_id, node_id, name, entity_type, attributes, created_at, deleted_at",
	tableEntityEdges: "id, tenant_id, source_entity_id, target_entity_id, relation, confidence, created_at, deleted_at",
}

// TableExport describes one table file produced by ExportTables
type TableExport struct {
	Table    string
	FileName string
	Path     string
	RowCount int64
}

// ExportTables writes every graph table for the tenant to Parquet files in
// dir and returns one entry per table, in snapshot load order. Soft-deleted
// rows are included: a snapshot is a full point-in-time image, tombstones and
// all.
//
// COPY cannot take bound parameters, so the tenant filter and file path are
// inlined. The tenant ID is safe by construction (validated charset) and dir
// is a process-owned temp directory, escaped for completeness.
func (s *Store) ExportTables(ctx context.Context, tenantID graph.TenantID, dir string) ([]TableExport, error) {
	if tenantID.IsEmpty() {
		return nil, apperrors.NewValidationError("tenant id is required")
	}

	exports := make([]TableExport, 0, len(GraphTables))
	for _, table := range GraphTables {
		fileName := table + ".parquet"
		filePath := filepath.Join(dir, fileName)

		copySQL := fmt.Sprintf(
			`COPY (SELECT %s FROM %s WHERE tenant_id = '%s' ORDER BY id) TO '%s' (FORMAT PARQUET)`,
			tableColumns[table], table, tenantID.String(), escapeSQLString(filePath),
		)
		if _, err := s.db.ExecContext(ctx, copySQL); err != nil {
			return nil, apperrors.NewExportFailureError("copy_"+table, err)
		}

		var rowCount int64
		countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM read_parquet('%s')`, escapeSQLString(filePath))
		if err := s.db.QueryRowContext(ctx, countSQL).Scan(&rowCount); err != nil {
			return nil, apperrors.NewExportFailureError("count_"+table, err)
		}

		exports = append(exports, TableExport{
			Table:    table,
			FileName: fileName,
			Path:     filePath,
			RowCount: rowCount,
		})
	}

	s.logger.Debug("Exported graph tables",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("tables", len(exports)),
	)
	return exports, nil
}

// escapeSQLString doubles single quotes for safe string-literal inlining
func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
