package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvStorePath, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", cfg.Proxy.BaseURL)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "deletedHistory", cfg.Tombstone.Key)
	assert.Equal(t, 50, cfg.History.PageSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvStorePath, "")

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
proxy:
  base_url: https://proxy.internal
  timeout: 5s
store:
  driver: memory
tombstone:
  driver: redis
  redis:
    addr: cache:6379
    db: 2
history:
  page_size: 20
server:
  max_workspaces: 64
  idle_timeout: 10m
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.internal", cfg.Proxy.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Proxy.Timeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "redis", cfg.Tombstone.Driver)
	assert.Equal(t, "cache:6379", cfg.Tombstone.Redis.Addr)
	assert.Equal(t, 2, cfg.Tombstone.Redis.DB)
	assert.Equal(t, 20, cfg.History.PageSize)
	assert.Equal(t, 64, cfg.Server.MaxWorkspaces)
	assert.Equal(t, 10*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, "X-User-Id", cfg.Server.IdentityHeader)
	assert.Equal(t, "deletedHistory", cfg.Tombstone.Key, "unset keys keep their default")
}

func TestLoadRejectsBadFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("proxy: [unclosed"), 0600))
	_, err := Load(bad)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("store:\n  driver: mongo\n"), 0600))
	_, err = Load(unknown)
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default("/data")
	env := map[string]string{
		EnvBaseURL:   " http://proxy:9000 ",
		EnvUser:      "alice",
		EnvStorePath: "/tmp/other.db",
	}
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "http://proxy:9000", cfg.Proxy.BaseURL)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
}

func TestValidate(t *testing.T) {
	cfg := Default("/data")
	require.NoError(t, cfg.Validate())

	cfg.History.PageSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default("/data")
	cfg.Tombstone.Driver = "s3"
	assert.Error(t, cfg.Validate())

	cfg = Default("/data")
	cfg.Server.MaxWorkspaces = 0
	assert.Error(t, cfg.Validate())
}
