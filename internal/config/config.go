package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
)

//go:embed sample_config.toml
var sampleConfig string

// SampleConfig returns a commented example configuration.
func SampleConfig() string { return sampleConfig }

// Queue contains job queue and worker settings.
type Queue struct {
	Concurrency      int    `toml:"concurrency"`
	PollIntervalMS   int    `toml:"poll_interval_ms"`
	MaxAttempts      int    `toml:"max_attempts"`
	BackoffType      string `toml:"backoff_type"`
	BackoffDelayMS   int    `toml:"backoff_delay"`
	RemoveOnComplete int    `toml:"remove_on_complete"`
	RemoveOnFail     int    `toml:"remove_on_fail"`
}

// Cleanup contains the retention policy and its schedule.
type Cleanup struct {
	Enabled                 bool   `toml:"enabled"`
	Schedule                string `toml:"schedule"`
	CompletedRetentionHours int    `toml:"completed_retention_hours"`
	FailedRetentionHours    int    `toml:"failed_retention_hours"`
	StalledAfterMinutes     int    `toml:"stalled_after_minutes"`
}

// Executor contains pipeline execution settings.
type Executor struct {
	MaxConcurrency     int  `toml:"max_concurrency"`
	DisableFingerprint bool `toml:"disable_fingerprint"`
}

// Storage selects the backends for the queue, executions and the node
// output cache.
type Storage struct {
	Backend     string `toml:"backend"`
	Queue       string `toml:"queue"`
	Cache       string `toml:"cache"`
	DataDir     string `toml:"data_dir"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
	RedisAddr   string `toml:"redis_addr"`
	RedisPrefix string `toml:"redis_prefix"`
}

// Server contains HTTP API settings.
type Server struct {
	Bind             string `toml:"bind"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
	ClientBuffer     int    `toml:"client_buffer"`
}

// Logging contains log output settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Definitions points at the YAML pipeline/workflow definitions seeded at
// boot.
type Definitions struct {
	Path string `toml:"path"`
}

// Config is the complete docflow configuration.
type Config struct {
	Queue       Queue       `toml:"queue"`
	Cleanup     Cleanup     `toml:"cleanup"`
	Executor    Executor    `toml:"executor"`
	Storage     Storage     `toml:"storage"`
	Server      Server      `toml:"server"`
	Logging     Logging     `toml:"logging"`
	Definitions Definitions `toml:"definitions"`
}

// Load reads path (optional) and returns the effective configuration along
// with the resolved path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolvePath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		dec := toml.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() (string, error) {
	return expandPath("~/.config/docflow/config.toml")
}

func resolvePath(path string) (string, bool, error) {
	if path == "" {
		if p, err := filepath.Abs("docflow.toml"); err == nil {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, true, nil
			}
		}
		var err error
		if path, err = DefaultPath(); err != nil {
			return "", false, err
		}
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if p == "~" {
			p = home
		} else if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}

// PollInterval returns the queue poll interval.
func (q Queue) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMS) * time.Millisecond
}

// DispatchDefaults converts the queue section into dispatcher defaults.
func (q Queue) DispatchDefaults() dispatch.Defaults {
	return dispatch.Defaults{
		Attempts:         q.MaxAttempts,
		Backoff:          api.Backoff{Type: api.BackoffType(q.BackoffType), Delay: time.Duration(q.BackoffDelayMS) * time.Millisecond},
		RemoveOnComplete: q.RemoveOnComplete,
		RemoveOnFail:     q.RemoveOnFail,
	}
}

// Retention converts the cleanup section into a retention policy.
func (c Cleanup) Retention() dispatch.RetentionPolicy {
	return dispatch.RetentionPolicy{
		Completed:     time.Duration(c.CompletedRetentionHours) * time.Hour,
		Failed:        time.Duration(c.FailedRetentionHours) * time.Hour,
		StalledActive: time.Duration(c.StalledAfterMinutes) * time.Minute,
	}
}

// Heartbeat returns the SSE heartbeat interval.
func (s Server) Heartbeat() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

// LockPath is the daemon lock file inside the data directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.DataDir, "docflow.lock")
}
