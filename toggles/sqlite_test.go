package toggles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toggles.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "user-1", "journal", false))
	require.NoError(t, store.Save(ctx, "user-1", "canvas", true))
	require.NoError(t, store.Save(ctx, "user-2", "journal", true))

	got, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"journal": false, "canvas": true}, got)

	// Upsert flips the existing row.
	require.NoError(t, store.Save(ctx, "user-1", "journal", true))
	got, err = store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got["journal"])
}

func TestSQLiteStateStoreEmptyUser(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "toggles.db"))
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenSQLiteEnablesWAL(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "toggles.db"))
	require.NoError(t, err)
	defer store.Close()

	var mode string
	require.NoError(t, store.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}
