package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SYNCCORE_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Executor.Concurrency)
	require.Equal(t, "ask-user", cfg.Conflict.DefaultStrategy)
	require.Equal(t, time.Duration(7*24*time.Hour), time.Duration(cfg.Checkpoint.MaxAge))
}

func TestLoadFromFile_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synccore.yaml")
	content := []byte(`
executor:
  concurrency: 4
  task_timeout: 45s
rate_limit:
  tokens_per_interval: 5
  max_burst: 10
checkpoint:
  interval: 25
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Executor.Concurrency)
	require.Equal(t, time.Duration(45*time.Second), time.Duration(cfg.Executor.TaskTimeout))
	require.Equal(t, 5, cfg.RateLimit.TokensPerInterval)
	require.Equal(t, 25, cfg.Checkpoint.Interval)
}

func TestApplyEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synccore.yaml")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	t.Setenv("SYNCCORE_EXECUTOR_CONCURRENCY", "16")
	t.Setenv("SYNCCORE_RATE_ADAPTIVE", "true")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Executor.Concurrency)
	require.True(t, cfg.RateLimit.Adaptive)
}

func TestValidate_RejectsNonPositiveConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synccore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  concurrency: 0\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestValidate_ArchiveRequiresAccessKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synccore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkpoint:\n  archive:\n    bucket: snapshots\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	var wrapper struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1h30m\n"), &wrapper))
	require.Equal(t, time.Duration(90*time.Minute), time.Duration(wrapper.D))

	out, err := wrapper.D.MarshalYAML()
	require.NoError(t, err)
	require.Equal(t, "1h30m0s", out)
}
