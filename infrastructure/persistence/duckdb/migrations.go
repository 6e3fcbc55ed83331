package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "meshmind-backend/pkg/errors"
)

// Migration is one versioned, additive schema change. Down migrations are
// deliberately absent: the deployment model is rolling, so every migration
// must be backward-compatible and rollback happens by deploying the previous
// binary, not by rewriting the schema.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// MigrationManager applies pending migrations strictly in order at startup
// and records each applied version in the schema_migrations table
type MigrationManager struct {
	store      *Store
	migrations []Migration
	logger     *zap.Logger
}

// NewMigrationManager creates a migration manager over the registered set
func NewMigrationManager(store *Store, migrations []Migration, logger *zap.Logger) (*MigrationManager, error) {
	for i, m := range migrations {
		if m.Version != i+1 {
			return nil, fmt.Errorf("migration set is not contiguous: position %d has version %d", i, m.Version)
		}
		if len(m.Statements) == 0 {
			return nil, fmt.Errorf("migration %d has no statements", m.Version)
		}
	}
	return &MigrationManager{
		store:      store,
		migrations: migrations,
		logger:     logger,
	}, nil
}

// CurrentVersion reads the highest applied migration version
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, err
	}

	var version sql.NullInt64
	err := m.store.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// ApplyPending applies every migration above the current version, each inside
// its own transaction together with its version row. A failing migration
// leaves the schema at the prior version and the error is fatal to startup.
func (m *MigrationManager) ApplyPending(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return apperrors.NewMigrationFailureError(current, err)
	}

	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if migration.Version != current+1 {
			return apperrors.NewMigrationFailureError(migration.Version,
				fmt.Errorf("missing migration between version %d and %d", current, migration.Version))
		}

		if err := m.apply(ctx, migration); err != nil {
			return apperrors.NewMigrationFailureError(migration.Version, err)
		}

		m.logger.Info("Applied schema migration",
			zap.Int("version", migration.Version),
			zap.String("description", migration.Description),
		)
		current = migration.Version
	}

	return nil
}

// apply runs one migration and its version row in a single transaction
func (m *MigrationManager) apply(ctx context.Context, migration Migration) error {
	return m.store.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range migration.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
			migration.Version, migration.Description, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to record version: %w", err)
		}
		return nil
	})
}

// ensureVersionTable creates the version table on first use
func (m *MigrationManager) ensureVersionTable(ctx context.Context) error {
	_, err := m.store.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at  TIMESTAMP NOT NULL
		)`,
	)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}
