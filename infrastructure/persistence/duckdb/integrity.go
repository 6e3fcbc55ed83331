package duckdb

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
	apperrors "meshmind-backend/pkg/errors"
	"meshmind-backend/pkg/observability"
)

// IntegrityRepository detects and repairs referential orphans. Integrity is
// enforced at write time, but crash windows and imported snapshots can still
// leave live rows pointing at dead ones; the scanner closes that gap.
type IntegrityRepository struct {
	store   *Store
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewIntegrityRepository creates an integrity repository over the store
func NewIntegrityRepository(store *Store, logger *zap.Logger, metrics *observability.Collector) *IntegrityRepository {
	return &IntegrityRepository{store: store, logger: logger, metrics: metrics}
}

// orphanScan describes one referential check: live rows in table whose
// column references a row of refTable that is missing or deleted
type orphanScan struct {
	table    string
	column   string
	refTable string
}

var orphanScans = []orphanScan{
	{table: tableEdges, column: "source_id", refTable: tableNodes},
	{table: tableEdges, column: "target_id", refTable: tableNodes},
	{table: tableEntities, column: "node_id", refTable: tableNodes},
	{table: tableEntityEdges, column: "source_entity_id", refTable: tableEntities},
	{table: tableEntityEdges, column: "target_entity_id", refTable: tableEntities},
}

// ScanOrphans reports every live row referencing a missing or deleted row
func (r *IntegrityRepository) ScanOrphans(ctx context.Context, tenantID graph.TenantID) ([]ports.Orphan, error) {
	var orphans []ports.Orphan
	for _, scan := range orphanScans {
		found, err := r.runScan(ctx, tenantID, scan)
		if err != nil {
			return nil, err
		}
		orphans = append(orphans, found...)
	}

	if r.metrics != nil && len(orphans) > 0 {
		r.metrics.OrphansDetected.Add(float64(len(orphans)))
	}
	if len(orphans) > 0 {
		r.logger.Warn("Integrity scan found orphaned rows",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("orphans", len(orphans)),
		)
	}
	return orphans, nil
}

// RepairOrphans soft-deletes the given orphaned rows in one transaction and
// returns the number of rows repaired
func (r *IntegrityRepository) RepairOrphans(ctx context.Context, tenantID graph.TenantID, orphans []ports.Orphan) (int, error) {
	if len(orphans) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	repaired := 0
	err := r.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, orphan := range orphans {
			if !isGraphTable(orphan.Table) {
				return apperrors.NewValidationError("unknown table in orphan repair: " + orphan.Table)
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE `+orphan.Table+` SET deleted_at = ? WHERE tenant_id = ? AND id = ? AND deleted_at IS NULL`,
				now, tenantID.String(), orphan.RowID,
			)
			if err != nil {
				return apperrors.NewDatabaseError("repair_orphans", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return apperrors.NewDatabaseError("repair_orphans", err)
			}
			repaired += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if r.metrics != nil && repaired > 0 {
		r.metrics.OrphansRepaired.Add(float64(repaired))
	}
	r.logger.Info("Orphaned rows repaired",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("repaired", repaired),
	)
	return repaired, nil
}

// runScan executes one referential check
func (r *IntegrityRepository) runScan(ctx context.Context, tenantID graph.TenantID, scan orphanScan) ([]ports.Orphan, error) {
	// Table and column names come from the static scan list, never from
	// callers
	query := `
		SELECT t.id, t.` + scan.column + `
		FROM ` + scan.table + ` t
		WHERE t.tenant_id = ? AND t.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM ` + scan.refTable + ` ref
			WHERE ref.tenant_id = t.tenant_id AND ref.id = t.` + scan.column + ` AND ref.deleted_at IS NULL
		  )
		ORDER BY t.id`

	rows, err := r.store.db.QueryContext(ctx, query, tenantID.String())
	if err != nil {
		return nil, apperrors.NewDatabaseError("scan_orphans", err)
	}
	defer rows.Close()

	var orphans []ports.Orphan
	for rows.Next() {
		var rowID, missingID string
		if err := rows.Scan(&rowID, &missingID); err != nil {
			return nil, apperrors.NewDatabaseError("scan_orphans", err)
		}
		orphans = append(orphans, ports.Orphan{
			Table:     scan.table,
			RowID:     rowID,
			TenantID:  tenantID,
			ColumnRef: scan.column,
			MissingID: missingID,
		})
	}
	return orphans, rows.Err()
}

// isGraphTable reports whether name is one of the persisted graph tables
func isGraphTable(name string) bool {
	for _, t := range GraphTables {
		if t == name {
			return true
		}
	}
	return false
}
