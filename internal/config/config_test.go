package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gitmesh/repos", cfg.DataDir)
	assert.Equal(t, "/var/lib/gitmesh/catalog.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:9618", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)

	r := cfg.Replication
	assert.Equal(t, 3, r.MinReplicaCount)
	assert.Equal(t, 10, r.HealBatchSize)
	assert.Equal(t, 10*time.Minute, r.HeartbeatTimeout)
	assert.Equal(t, 10*time.Minute, r.HealthCheckInterval)
	assert.Equal(t, time.Hour, r.StaleNodeWindow)
	assert.Equal(t, 30*time.Second, r.HealStepTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
data_dir: /srv/gitmesh
db_path: /srv/gitmesh/catalog.db
log_level: debug
replication:
  min_replica_count: 5
  heartbeat_timeout: 2m
  health_check_interval: 30s
  stale_node_window: 4h
  heal_batch_size: 25
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/gitmesh", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Replication.MinReplicaCount)
	assert.Equal(t, 2*time.Minute, cfg.Replication.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Replication.HealthCheckInterval)
	assert.Equal(t, 4*time.Hour, cfg.Replication.StaleNodeWindow)
	assert.Equal(t, 25, cfg.Replication.HealBatchSize)
	// Unset durations still get defaults.
	assert.Equal(t, 30*time.Second, cfg.Replication.HealStepTimeout)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	for name, body := range map[string]string{
		"unparseable": "replication:\n  heartbeat_timeout: soon\n",
		"negative":    "replication:\n  health_check_interval: -5m\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadExpandsHomeDir(t *testing.T) {
	cfg, err := Load(writeConfig(t, "data_dir: ~/gitmesh-data\n"))
	require.NoError(t, err)

	home, herr := os.UserHomeDir()
	require.NoError(t, herr)
	assert.Equal(t, filepath.Join(home, "gitmesh-data"), cfg.DataDir)
}
