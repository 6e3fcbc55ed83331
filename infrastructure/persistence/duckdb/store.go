// Package duckdb implements the embedded graph store on DuckDB. The engine is
// in-process, columnar, and single-writer: one Store owns the database handle
// for the whole process, writes are serialized on an internal mutex (and
// across processes by the write coordinator), and readers share the same
// handle with snapshot-consistent transactions.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"

	"meshmind-backend/application/ports"
)

// Store owns the embedded database handle. The persistence manager gets
// read-only use of the handle for export; everything else goes through the
// repositories built on top.
type Store struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
	logger  *zap.Logger
}

// Open opens (or creates) the embedded database at path. An empty path opens
// an in-memory database, which is the normal mode for ephemeral compute: the
// durable copy lives in the object store, not on local disk.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("embedded database not responsive: %w", err)
	}

	logger.Info("Opened embedded graph database",
		zap.String("path", path),
		zap.Bool("in_memory", path == ""),
	)

	return &Store{
		db:     db,
		path:   path,
		logger: logger,
	}, nil
}

// DB exposes the handle for read-only use by the persistence manager
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the embedded engine connection is responsive
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("embedded engine ping failed: %w", err)
	}
	return nil
}

// Stats returns live row counts per table
func (s *Store) Stats(ctx context.Context) (ports.TableStats, error) {
	var stats ports.TableStats
	counts := []struct {
		table string
		dest  *int64
	}{
		{tableNodes, &stats.Nodes},
		{tableEdges, &stats.Edges},
		{tableEntities, &stats.Entities},
		{tableEntityEdges, &stats.EntityEdges},
	}
	for _, c := range counts {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE deleted_at IS NULL`, c.table)
		if err := s.db.QueryRowContext(ctx, query).Scan(c.dest); err != nil {
			return ports.TableStats{}, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return stats, nil
}

// withWriteTx runs fn inside a write transaction. The mutex is the in-process
// leg of the single-writer constraint; the inter-process leg is the
// distributed write lock.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
