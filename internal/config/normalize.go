package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// envPrefix namespaces environment overrides, e.g. DOCFLOW_QUEUE_CONCURRENCY.
const envPrefix = "DOCFLOW_"

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	for key, dst := range map[string]*int{
		"QUEUE_CONCURRENCY":        &c.Queue.Concurrency,
		"QUEUE_MAX_ATTEMPTS":       &c.Queue.MaxAttempts,
		"QUEUE_BACKOFF_DELAY":      &c.Queue.BackoffDelayMS,
		"QUEUE_REMOVE_ON_COMPLETE": &c.Queue.RemoveOnComplete,
		"QUEUE_REMOVE_ON_FAIL":     &c.Queue.RemoveOnFail,
		"EXECUTOR_MAX_CONCURRENCY": &c.Executor.MaxConcurrency,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("STORAGE_QUEUE", &c.Storage.Queue)
	str("STORAGE_CACHE", &c.Storage.Cache)
	str("STORAGE_DATA_DIR", &c.Storage.DataDir)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("REDIS_ADDR", &c.Storage.RedisAddr)
	str("SERVER_BIND", &c.Server.Bind)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("DEFINITIONS_PATH", &c.Definitions.Path)
	return nil
}

func (c *Config) normalize() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Storage.Queue = strings.ToLower(strings.TrimSpace(c.Storage.Queue))
	c.Storage.Cache = strings.ToLower(strings.TrimSpace(c.Storage.Cache))
	if c.Storage.Queue == "" {
		if c.Storage.Backend == BackendMemory {
			c.Storage.Queue = BackendMemory
		} else {
			c.Storage.Queue = BackendSQLite
		}
	}
	if c.Storage.Cache == "" {
		// The cache follows the main backend unless set; Postgres has no
		// cache table so it falls back to memory.
		switch c.Storage.Backend {
		case BackendSQLite:
			c.Storage.Cache = BackendSQLite
		default:
			c.Storage.Cache = BackendMemory
		}
	}

	var err error
	if c.Storage.DataDir, err = expandPath(c.Storage.DataDir); err != nil {
		return fmt.Errorf("storage.data_dir: %w", err)
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, defaultSQLiteFile)
	} else if c.Storage.SQLitePath != ":memory:" {
		if c.Storage.SQLitePath, err = expandPath(c.Storage.SQLitePath); err != nil {
			return fmt.Errorf("storage.sqlite_path: %w", err)
		}
	}
	if c.Definitions.Path != "" {
		if c.Definitions.Path, err = expandPath(c.Definitions.Path); err != nil {
			return fmt.Errorf("definitions.path: %w", err)
		}
	}

	c.Queue.BackoffType = strings.ToLower(strings.TrimSpace(c.Queue.BackoffType))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Executor.MaxConcurrency < 1 {
		c.Executor.MaxConcurrency = 1
	}
	return nil
}
