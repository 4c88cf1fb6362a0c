// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gl-yziquel/himalaya/internal/store"
)

// NewTestStore returns an in-memory token state store, closed when the
// test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "opening in-memory state store")
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// StatePath returns a state database location inside a temporary
// directory, for tests that reopen the same database.
func StatePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "himalaya", "state.db")
}

// WriteConfig writes an account document to a temporary config.toml and
// returns its path.
func WriteConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
