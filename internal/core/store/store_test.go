package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StoreConfig
		want string
	}{
		{
			name: "remote url gets auth token",
			cfg:  config.StoreConfig{URL: "libsql://bot.turso.io", AuthToken: "tok"},
			want: "libsql://bot.turso.io?authToken=tok",
		},
		{
			name: "existing query is preserved",
			cfg:  config.StoreConfig{URL: "libsql://bot.turso.io?foo=bar", AuthToken: "tok"},
			want: "libsql://bot.turso.io?authToken=tok&foo=bar",
		},
		{
			name: "token already in url wins",
			cfg:  config.StoreConfig{URL: "libsql://bot.turso.io?authToken=mine", AuthToken: "tok"},
			want: "libsql://bot.turso.io?authToken=mine",
		},
		{
			name: "url without token is untouched",
			cfg:  config.StoreConfig{URL: "libsql://bot.turso.io"},
			want: "libsql://bot.turso.io",
		},
		{
			name: "memory",
			cfg:  config.StoreConfig{Path: ":memory:"},
			want: ":memory:",
		},
		{
			name: "file prefix kept",
			cfg:  config.StoreConfig{Path: "file:./pixelbot.db"},
			want: "file:./pixelbot.db",
		},
		{
			name: "libsql path kept",
			cfg:  config.StoreConfig{Path: "libsql://replica.local"},
			want: "libsql://replica.local",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := buildLibsqlDSN(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, dsn)
		})
	}
}

func TestBuildLibsqlDSNPlainPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "bot", "pixelbot.db")

	dsn, err := buildLibsqlDSN(config.StoreConfig{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "file:"+filepath.Clean(path), dsn)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestBuildLibsqlDSNMissingLocation(t *testing.T) {
	_, err := buildLibsqlDSN(config.StoreConfig{Path: "   "})
	assert.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongodb", Path: ":memory:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestNilStore(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.Error(t, s.CheckHealth(context.Background()))
	assert.Error(t, s.Migrate(context.Background()))
	assert.Empty(t, s.Driver())
}
