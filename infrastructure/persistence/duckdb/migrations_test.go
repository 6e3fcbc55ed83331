package duckdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrationManager_ApplyPending(t *testing.T) {
	logger := zap.NewNop()
	store, err := Open("", logger)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	manager, err := NewMigrationManager(store, Migrations, logger)
	require.NoError(t, err)

	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	require.NoError(t, manager.ApplyPending(ctx))

	version, err = manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(Migrations), version)
}

func TestMigrationManager_ApplyPending_Idempotent(t *testing.T) {
	logger := zap.NewNop()
	store, err := Open("", logger)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	manager, err := NewMigrationManager(store, Migrations, logger)
	require.NoError(t, err)
	require.NoError(t, manager.ApplyPending(ctx))
	require.NoError(t, manager.ApplyPending(ctx))

	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(Migrations), version)
}

func TestNewMigrationManager_RejectsNonContiguousSet(t *testing.T) {
	logger := zap.NewNop()
	store, err := Open("", logger)
	require.NoError(t, err)
	defer store.Close()

	gapped := []Migration{
		{Version: 1, Description: "first", Statements: []string{`SELECT 1`}},
		{Version: 3, Description: "skipped two", Statements: []string{`SELECT 1`}},
	}
	_, err = NewMigrationManager(store, gapped, logger)
	assert.Error(t, err)
}

func TestNewMigrationManager_RejectsEmptyMigration(t *testing.T) {
	logger := zap.NewNop()
	store, err := Open("", logger)
	require.NoError(t, err)
	defer store.Close()

	_, err = NewMigrationManager(store, []Migration{{Version: 1, Description: "empty"}}, logger)
	assert.Error(t, err)
}

func TestMigrationManager_FailingMigrationLeavesPriorVersion(t *testing.T) {
	logger := zap.NewNop()
	store, err := Open("", logger)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	bad := append(append([]Migration{}, Migrations...), Migration{
		Version:     len(Migrations) + 1,
		Description: "broken",
		Statements:  []string{`CREATE TABLE`},
	})
	manager, err := NewMigrationManager(store, bad, logger)
	require.NoError(t, err)

	err = manager.ApplyPending(ctx)
	require.Error(t, err)

	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(Migrations), version)
}
