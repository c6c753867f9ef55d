package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigurationDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 3*time.Second, cfg.PushConfig.ReconnectDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.ChatConfig.PollInterval)
}

func TestReadConfigurationDirectory(t *testing.T) {
	dir, err := ioutil.TempDir("", "walkingbuddy-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	backend := `log_level = "WARN"
[backend]
url = "https://buddy.example.com"
`
	cache := `[cache]
type = "buntdb"
dsn = "/tmp/buddy.db"
[push]
reconnect_delay = "5s"
[sync]
join_failure_policy = "rollback"
`
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "backend.toml"), []byte(backend), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "cache.toml"), []byte(cache), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("garbage = ="), 0600))

	cfg, err := ReadConfiguration(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "https://buddy.example.com", cfg.BackendConfig.URL)
	assert.Equal(t, "buntdb", cfg.CacheConfig.Type)
	assert.Equal(t, "/tmp/buddy.db", cfg.CacheConfig.DSN)
	assert.Equal(t, 5*time.Second, cfg.PushConfig.ReconnectDelay)
	assert.Equal(t, "rollback", cfg.SyncConfig.JoinFailurePolicy)
	assert.Equal(t, "@every 30s", cfg.SyncConfig.RefreshSchedule)
}

func TestReadConfigurationFlagsOverride(t *testing.T) {
	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--backend-url", "http://flag.example.com", "--cache-type", "sqlite"}))

	cfg, err := ReadConfiguration("", flagSet)
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example.com", cfg.BackendConfig.URL)
	assert.Equal(t, "sqlite", cfg.CacheConfig.Type)
}

func TestReadConfigurationMissingPath(t *testing.T) {
	_, err := ReadConfiguration(filepath.Join(os.TempDir(), "does-not-exist-walkingbuddy.toml"), nil)
	assert.Error(t, err)
}
