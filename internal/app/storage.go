package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/docflow/internal/config"
	"github.com/petrijr/docflow/internal/persistence"
	"github.com/petrijr/docflow/internal/taskqueue"
)

// storage is everything openStorage created, plus how to release it.
type storage struct {
	persistence persistence.Persistence
	queue       taskqueue.Queue
	closers     []func() error
}

func (s *storage) close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openStorage(ctx context.Context, cfg config.Storage, qopts []taskqueue.Option) (st *storage, err error) {
	st = &storage{}
	defer func() {
		if err != nil {
			_ = st.close()
		}
	}()

	var sqliteDB *sql.DB
	sqlite := func() (*sql.DB, error) {
		if sqliteDB != nil {
			return sqliteDB, nil
		}
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err := persistence.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sqliteDB = db
		st.closers = append(st.closers, db.Close)
		return db, nil
	}

	switch cfg.Backend {
	case config.BackendMemory:
		st.persistence = persistence.NewInMemory()
	case config.BackendSQLite:
		db, err := sqlite()
		if err != nil {
			return nil, err
		}
		if st.persistence, err = persistence.NewSQLite(db); err != nil {
			return nil, err
		}
	case config.BackendPostgres:
		pg, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st.closers = append(st.closers, pg.Close)
		if err := pg.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		execs, err := persistence.NewPostgresExecutionStore(pg)
		if err != nil {
			return nil, err
		}
		events, err := persistence.NewPostgresEventStore(pg)
		if err != nil {
			return nil, err
		}
		// Definitions are seeded from files at every boot, so they stay in
		// memory.
		st.persistence = persistence.Persistence{
			Definitions: persistence.NewInMemoryStore(),
			Executions:  execs,
			Events:      events,
			Outputs:     persistence.NewInMemoryOutputCache(),
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}

	switch cfg.Cache {
	case config.BackendMemory:
		if _, ok := st.persistence.Outputs.(*persistence.InMemoryOutputCache); !ok {
			st.persistence.Outputs = persistence.NewInMemoryOutputCache()
		}
	case config.BackendSQLite:
		db, err := sqlite()
		if err != nil {
			return nil, err
		}
		if st.persistence.Outputs, err = persistence.NewSQLiteOutputCache(db); err != nil {
			return nil, err
		}
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		st.closers = append(st.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		st.persistence.Outputs = persistence.NewRedisOutputCache(client, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache)
	}

	switch cfg.Queue {
	case config.BackendMemory:
		st.queue = taskqueue.NewInMemoryQueue(qopts...)
	case config.BackendSQLite:
		db, err := sqlite()
		if err != nil {
			return nil, err
		}
		if st.queue, err = taskqueue.NewSQLiteQueue(db, qopts...); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Queue)
	}

	return st, nil
}
