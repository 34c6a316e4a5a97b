package config

const (
	defaultConcurrency         = 4
	defaultPollIntervalMS      = 500
	defaultMaxAttempts         = 3
	defaultBackoffType         = "exponential"
	defaultBackoffDelayMS      = 2000
	defaultCleanupSchedule     = "@hourly"
	defaultCompletedHours      = 24
	defaultFailedHours         = 7 * 24
	defaultStalledMinutes      = 60
	defaultStorageBackend      = BackendMemory
	defaultDataDir             = "~/.local/share/docflow"
	defaultSQLiteFile          = "docflow.db"
	defaultRedisPrefix         = "docflow:"
	defaultBind                = "127.0.0.1:8787"
	defaultHeartbeatSeconds    = 15
	defaultClientBuffer        = 64
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultExecutorConcurrency = 1
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Queue: Queue{
			Concurrency:    defaultConcurrency,
			PollIntervalMS: defaultPollIntervalMS,
			MaxAttempts:    defaultMaxAttempts,
			BackoffType:    defaultBackoffType,
			BackoffDelayMS: defaultBackoffDelayMS,
		},
		Cleanup: Cleanup{
			Enabled:                 true,
			Schedule:                defaultCleanupSchedule,
			CompletedRetentionHours: defaultCompletedHours,
			FailedRetentionHours:    defaultFailedHours,
			StalledAfterMinutes:     defaultStalledMinutes,
		},
		Executor: Executor{
			MaxConcurrency: defaultExecutorConcurrency,
		},
		Storage: Storage{
			Backend:     defaultStorageBackend,
			DataDir:     defaultDataDir,
			RedisPrefix: defaultRedisPrefix,
		},
		Server: Server{
			Bind:             defaultBind,
			HeartbeatSeconds: defaultHeartbeatSeconds,
			ClientBuffer:     defaultClientBuffer,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Memory returns a ready-to-use configuration with every backend in process
// memory and scheduled cleanup off, for tests and embedding.
func Memory() *Config {
	c := Default()
	c.Storage.Queue = BackendMemory
	c.Storage.Cache = BackendMemory
	c.Cleanup.Enabled = false
	c.Queue.PollIntervalMS = 10
	return &c
}
