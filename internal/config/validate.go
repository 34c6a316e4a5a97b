package config

import (
	"errors"
	"fmt"

	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Server.Bind == "" {
		return errors.New("server.bind must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	q := c.Queue
	if q.Concurrency < 1 {
		return errors.New("queue.concurrency must be at least 1")
	}
	if q.PollIntervalMS < 1 {
		return errors.New("queue.poll_interval_ms must be positive")
	}
	if q.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}
	switch api.BackoffType(q.BackoffType) {
	case api.BackoffFixed, api.BackoffExponential:
	default:
		return fmt.Errorf("queue.backoff_type: unsupported value %q", q.BackoffType)
	}
	if q.BackoffDelayMS < 0 || q.RemoveOnComplete < 0 || q.RemoveOnFail < 0 {
		return errors.New("queue: backoff_delay and retention counts must not be negative")
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if !c.Cleanup.Enabled {
		return nil
	}
	if _, err := dispatch.ParseSchedule(c.Cleanup.Schedule); err != nil {
		return fmt.Errorf("cleanup.schedule: %w", err)
	}
	if c.Cleanup.CompletedRetentionHours < 0 || c.Cleanup.FailedRetentionHours < 0 || c.Cleanup.StalledAfterMinutes < 0 {
		return errors.New("cleanup: retention values must not be negative")
	}
	return nil
}

func (c *Config) validateStorage() error {
	s := c.Storage
	switch s.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if s.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", s.Backend)
	}
	switch s.Queue {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("storage.queue: unsupported value %q", s.Queue)
	}
	switch s.Cache {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if s.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("storage.cache: unsupported value %q", s.Cache)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
