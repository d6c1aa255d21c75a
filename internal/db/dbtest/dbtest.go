// Package dbtest opens throwaway SQLite-backed stores for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davexpro/archivist/internal/config"
	"github.com/davexpro/archivist/internal/db"
)

// Open returns a migrated store on a fresh database file inside t.TempDir().
func Open(t testing.TB) *db.Store {
	t.Helper()

	gdb, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "archivist.db"),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := db.NewStore(gdb)
	require.NoError(t, store.Migrate())
	return store
}
