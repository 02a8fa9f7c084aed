package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushantsondhi/dcoord/common"
)

func TestGenerateAndLoad(t *testing.T) {
	cfg := Generate([]string{"localhost:5000", " localhost:5001", "localhost:5002"}, []string{":8000", ":8001"}, 1500*time.Millisecond)
	require.Len(t, cfg.Cluster, 3)
	assert.Equal(t, common.ServerAddress("localhost:5001"), cfg.Cluster[1].NetAddress)
	assert.Equal(t, ":8001", cfg.Cluster[1].HTTPAddress)
	assert.Empty(t, cfg.Cluster[2].HTTPAddress)
	assert.Equal(t, 1500, cfg.CallTimeout)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	cluster := loaded.ClusterConfig()
	assert.NoError(t, cluster.Validate())
	assert.Equal(t, 1500*time.Millisecond, cluster.CallTimeout)
	assert.Equal(t, common.ProcessID(2), cluster.DefaultCoordinator())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClusterConfigDefaultTimeout(t *testing.T) {
	cfg := Generate([]string{"a:1"}, nil, 0)
	assert.Equal(t, common.DefaultCallTimeout, cfg.ClusterConfig().CallTimeout)
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, me, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, common.ProcessID(0), me)
	require.Len(t, cfg.Cluster, 3)
	assert.Equal(t, common.ServerAddress("localhost:5002"), cfg.Cluster[2].NetAddress)
	assert.Equal(t, ".", cfg.DataDir)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TOTAL_PROCESSES", "4")
	t.Setenv("PROCESS_ID", "3")
	t.Setenv("PEER_1", "http://node-1:5000/")
	t.Setenv("PEER_3", "node-3:5000")
	t.Setenv("HTTP_ADDR", ":8003")
	t.Setenv("DATA_DIR", "/var/lib/dcoord")
	t.Setenv("CALL_TIMEOUT_MS", "250")

	cfg, me, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, common.ProcessID(3), me)
	require.Len(t, cfg.Cluster, 4)
	assert.Equal(t, common.ServerAddress("node-1:5000"), cfg.Cluster[1].NetAddress)
	assert.Equal(t, common.ServerAddress("node-3:5000"), cfg.Cluster[3].NetAddress)
	assert.Equal(t, common.ServerAddress("localhost:5000"), cfg.Cluster[0].NetAddress)
	assert.Equal(t, ":8003", cfg.Cluster[3].HTTPAddress)
	assert.Empty(t, cfg.Cluster[0].HTTPAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.ClusterConfig().CallTimeout)

	pstore, deliveryLog := cfg.StorePaths(me)
	assert.Equal(t, "/var/lib/dcoord/node-3_pstore.db", pstore)
	assert.Equal(t, "/var/lib/dcoord/node-3_delivered.db", deliveryLog)
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad process id", key: "PROCESS_ID", value: "one"},
		{name: "size mismatch", key: "TOTAL_PROCESSES", value: "5"},
		{name: "bad timeout", key: "CALL_TIMEOUT_MS", value: "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Generate([]string{"a:1", "b:2"}, nil, time.Second)
			_, err := cfg.ApplyEnv(0)
			assert.Error(t, err)
		})
	}

	t.Run("http address of unknown process", func(t *testing.T) {
		t.Setenv("PROCESS_ID", "7")
		t.Setenv("HTTP_ADDR", ":8000")
		cfg := Generate([]string{"a:1", "b:2"}, nil, time.Second)
		_, err := cfg.ApplyEnv(0)
		assert.Error(t, err)
	})

	t.Run("invalid process count", func(t *testing.T) {
		t.Setenv("TOTAL_PROCESSES", "0")
		_, _, err := FromEnv()
		assert.Error(t, err)
	})
}

func TestGetenv(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "test_value")
	assert.Equal(t, "test_value", getenv("TEST_ENV_VAR", "default"))
	assert.Equal(t, "default_value", getenv("UNSET_ENV_VAR", "default_value"))
}
