package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "service:\n  node_id: node-a\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "steward", cfg.Service.Name)
	assert.Equal(t, "node-a", cfg.Service.NodeID)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Service.ShutdownTimeout)
	assert.Equal(t, BackendSQLite, cfg.JobGraph.Backend)
	assert.Equal(t, "./data/state.db.writer.lock", cfg.JobGraph.LockPath)
	assert.Equal(t, ElectionStandalone, cfg.Election.Mode)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
	assert.Equal(t, path, cfg.SourcePath)
}

func TestLoadDirectoryLooksForConfigYAML(t *testing.T) {
	path := writeConfig(t, "state:\n  path: /tmp/x.db\n")
	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.State.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestParseInterpolatesEnv(t *testing.T) {
	t.Setenv("STEWARD_TEST_KEY", "s3cret")
	cfg, err := Parse([]byte(`
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    api_key: ${STEWARD_TEST_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.API.Auth.APIKey)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
}

func TestParseFullLeaseConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
service:
  name: steward-prod
  node_id: node-b
  log_level: debug
  log_format: text
  shutdown_timeout: 10s
state:
  path: /var/lib/steward/state.db
jobgraph:
  backend: sqlite
  lock_path: /run/steward/writer.lock
election:
  mode: lease
  lease_name: dispatcher-prod
  lease_duration: 10s
  renew_interval: 3s
  acquire_interval: 1s
api:
  enabled: true
  listen: 0.0.0.0:8443
  auth:
    tokens:
      - token: reader
        scopes: [jobs:ro]
`))
	require.NoError(t, err)
	assert.Equal(t, ElectionLease, cfg.Election.Mode)
	assert.Equal(t, 10*time.Second, cfg.Election.LeaseDuration)
	assert.Equal(t, 3*time.Second, cfg.Election.RenewInterval)
	assert.Equal(t, "/run/steward/writer.lock", cfg.JobGraph.LockPath)
	require.Len(t, cfg.API.Auth.Tokens, 1)
	assert.Equal(t, []string{"jobs:ro"}, cfg.API.Auth.Tokens[0].Scopes)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "service:\n  log_level: loud\n", "service.log_level"},
		{"log format", "service:\n  log_format: xml\n", "service.log_format"},
		{"backend", "jobgraph:\n  backend: etcd\n", "jobgraph.backend"},
		{"election mode", "election:\n  mode: raft\n", "election.mode"},
		{"lease on memory", "jobgraph:\n  backend: memory\nelection:\n  mode: lease\n", "process local"},
		{"renew too slow", "election:\n  mode: lease\n  lease_duration: 2s\n  renew_interval: 5s\n", "renew_interval"},
		{"unset env", "api:\n  enabled: true\n  auth:\n    api_key: ${STEWARD_SURELY_UNSET}\n", "STEWARD_SURELY_UNSET"},
		{"token without scopes", "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n", "scopes"},
		{"api without credentials", "api:\n  enabled: true\n", "api_key"},
		{"bad yaml", "service: [\n", "failed to parse"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLockAndVerify(t *testing.T) {
	path := writeConfig(t, "service:\n  node_id: node-a\n")

	checksumPath, err := Lock(path)
	require.NoError(t, err)
	assert.FileExists(t, checksumPath)

	manifest, err := LoadChecksums(path)
	require.NoError(t, err)
	require.NotNil(t, manifest)
	hash, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Equal(t, hash, manifest.Hashes["config.yaml"])

	_, err = Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("service:\n  node_id: tampered\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestLoadChecksumsAbsentIsNotAnError(t *testing.T) {
	path := writeConfig(t, "{}\n")
	manifest, err := LoadChecksums(path)
	require.NoError(t, err)
	assert.Nil(t, manifest)
}
