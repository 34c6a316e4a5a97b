package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docflow.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NotEmpty(t, path)

	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	d := cfg.Queue.DispatchDefaults()
	assert.Equal(t, api.BackoffExponential, d.Backoff.Type)
	assert.Equal(t, 2*time.Second, d.Backoff.Delay)

	r := cfg.Cleanup.Retention()
	assert.Equal(t, 24*time.Hour, r.Completed)
	assert.Equal(t, 7*24*time.Hour, r.Failed)
	assert.Equal(t, time.Hour, r.StalledActive)
	assert.Equal(t, "@hourly", cfg.Cleanup.Schedule)

	assert.Equal(t, BackendMemory, cfg.Storage.Queue)
	assert.Equal(t, BackendMemory, cfg.Storage.Cache)
	assert.True(t, filepath.IsAbs(cfg.Storage.DataDir))
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[queue]
concurrency = 8
backoff_type = "fixed"
backoff_delay = 500
remove_on_complete = 100

[storage]
backend = "sqlite"

[logging]
level = "DEBUG"
format = "json"
`)
	t.Setenv("DOCFLOW_QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("DOCFLOW_STORAGE_CACHE", "redis")
	t.Setenv("DOCFLOW_REDIS_ADDR", "localhost:6379")

	cfg, _, exists, err := Load(path)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	d := cfg.Queue.DispatchDefaults()
	assert.Equal(t, api.BackoffFixed, d.Backoff.Type)
	assert.Equal(t, 500*time.Millisecond, d.Backoff.Delay)
	assert.Equal(t, 100, d.RemoveOnComplete)

	assert.Equal(t, BackendSQLite, cfg.Storage.Queue)
	assert.Equal(t, BackendRedis, cfg.Storage.Cache)
	assert.Equal(t, filepath.Join(cfg.Storage.DataDir, "docflow.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "[queue]\nworkers = 2\n",
		"bad schedule":    "[cleanup]\nschedule = \"every tuesday\"\n",
		"bad backoff":     "[queue]\nbackoff_type = \"linear\"\n",
		"postgres no dsn": "[storage]\nbackend = \"postgres\"\n",
		"redis no addr":   "[storage]\ncache = \"redis\"\n",
		"bad format":      "[logging]\nformat = \"xml\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Setenv("DOCFLOW_QUEUE_CONCURRENCY", "many")
	_, _, _, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCFLOW_QUEUE_CONCURRENCY")
}

func TestSampleConfigParses(t *testing.T) {
	cfg, _, _, err := Load(writeConfig(t, SampleConfig()))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
}
