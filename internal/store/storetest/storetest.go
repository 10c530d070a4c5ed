// Package storetest provides migrated in-memory databases for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"presence/internal/store"
)

// NewSQLite returns a migrated in-memory SQLite database closed on cleanup.
func NewSQLite(t testing.TB) *store.DB {
	t.Helper()
	db, err := store.NewDB(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}
