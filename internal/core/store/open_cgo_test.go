//go:build cgo

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/config"
)

func TestOpenLocal(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		st, err := Open(ctx, config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		defer func() { _ = st.Close() }()

		assert.Equal(t, driverLibsql, st.Driver())
		assert.Equal(t, 1, st.DB.Stats().MaxOpenConnections)
		assert.NoError(t, st.CheckHealth(ctx))
	})

	t.Run("file uses wal and busy timeout", func(t *testing.T) {
		st, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/pixelbot.db"})
		require.NoError(t, err)
		defer func() { _ = st.Close() }()

		var mode string
		require.NoError(t, st.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		assert.Contains(t, mode, "wal")

		var timeout int
		require.NoError(t, st.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.GreaterOrEqual(t, timeout, 1000)
	})
}

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Migrate(ctx))

	var count int
	require.NoError(t, st.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info('tasks') WHERE name = 'error_message'").Scan(&count))
	assert.Equal(t, 1, count)
}
