package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 8765, cfg.Streaming.Port)
	require.Equal(t, 1000, cfg.Streaming.Backpressure.MaxQueueSize)
}

func TestValidateRejectsBadSamplingRate(t *testing.T) {
	cfg := Defaults()
	cfg.SamplingRate = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsAuthEnabledWithoutKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Streaming.Auth.Enabled = true
	require.Error(t, cfg.Validate())
}

func TestMergeFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traceback.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage_path: /var/lib/traceback/custom.db
sampling_rate: 0.5
streaming:
  port: 9999
  auth:
    enabled: true
    api_keys: ["k1", "k2"]
`), 0o644))

	cfg := Defaults()
	require.NoError(t, mergeFile(&cfg, path))
	require.Equal(t, "/var/lib/traceback/custom.db", cfg.StoragePath)
	require.Equal(t, 0.5, cfg.SamplingRate)
	require.Equal(t, 9999, cfg.Streaming.Port)
	require.True(t, cfg.Streaming.Auth.Enabled)
	require.Equal(t, []string{"k1", "k2"}, cfg.Streaming.Auth.APIKeys)
	require.NoError(t, cfg.Validate())
}

func TestMergeFileMissingIsNotError(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, mergeFile(&cfg, filepath.Join(t.TempDir(), "missing.yaml")))
	require.Equal(t, Defaults(), cfg)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TRACEBACK_STORAGE_PATH", "/tmp/env.db")
	t.Setenv("TRACEBACK_SAMPLING_RATE", "0.25")
	t.Setenv("TRACEBACK_STREAMING_PORT", "7000")
	t.Setenv("TRACEBACK_AUTH_API_KEYS", "a,b,c")

	cfg := Defaults()
	applyEnv(&cfg)
	require.Equal(t, "/tmp/env.db", cfg.StoragePath)
	require.Equal(t, 0.25, cfg.SamplingRate)
	require.Equal(t, 7000, cfg.Streaming.Port)
	require.True(t, cfg.Streaming.Auth.Enabled)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Streaming.Auth.APIKeys)
}

func TestApplyFlagsHighestPriority(t *testing.T) {
	cfg := Defaults()
	path := "/flag/path.db"
	rate := 0.75
	applyFlags(&cfg, &FlagOverrides{StoragePath: &path, SamplingRate: &rate})
	require.Equal(t, path, cfg.StoragePath)
	require.Equal(t, rate, cfg.SamplingRate)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 2000*1e6, float64(cfg.FlushInterval().Nanoseconds()))
	require.Greater(t, cfg.RetentionDefault().Hours(), 0.0)
}
