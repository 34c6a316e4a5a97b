package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/docflow/pkg/api"
)

// SQLiteDefinitionStore is a DefinitionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"); OpenSQLite returns one.
type SQLiteDefinitionStore struct {
	db *sql.DB
}

var _ DefinitionStore = (*SQLiteDefinitionStore)(nil)

// NewSQLiteDefinitionStore initializes the required schema in the given
// database and returns a new SQLiteDefinitionStore.
func NewSQLiteDefinitionStore(db *sql.DB) (*SQLiteDefinitionStore, error) {
	s := &SQLiteDefinitionStore{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS definitions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			body TEXT NOT NULL
		);`); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDefinitionStore) SaveDefinition(ctx context.Context, def api.Definition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO definitions (id, name, kind, is_active, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, kind = excluded.kind,
			is_active = excluded.is_active, body = excluded.body`,
		def.ID, def.Name, string(def.Kind), def.IsActive, string(body),
	)
	return err
}

func (s *SQLiteDefinitionStore) GetDefinition(ctx context.Context, id string) (api.Definition, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM definitions WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.Definition{}, ErrDefinitionNotFound
		}
		return api.Definition{}, err
	}
	var def api.Definition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return api.Definition{}, fmt.Errorf("decode definition %s: %w", id, err)
	}
	return def, nil
}

func (s *SQLiteDefinitionStore) ListDefinitions(ctx context.Context) ([]api.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Definition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var def api.Definition
		if err := json.Unmarshal([]byte(body), &def); err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// SQLiteExecutionStore is an ExecutionStore backed by SQLite.
type SQLiteExecutionStore struct {
	db *sql.DB
}

var _ ExecutionStore = (*SQLiteExecutionStore)(nil)

// NewSQLiteExecutionStore initializes the required schema in the given
// database and returns a new SQLiteExecutionStore.
func NewSQLiteExecutionStore(db *sql.DB) (*SQLiteExecutionStore, error) {
	s := &SQLiteExecutionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteExecutionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			definition_id TEXT NOT NULL,
			retry_of TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			dataset_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER,
			error TEXT NOT NULL DEFAULT '',
			metrics TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_executions_definition ON executions(definition_id);
	`)
	return err
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func (s *SQLiteExecutionStore) CreateExecution(ctx context.Context, exec *api.Execution) error {
	metrics, err := json.Marshal(exec.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, definition_id, retry_of, document_id, dataset_id, user_id,
			status, created_at, started_at, completed_at, error, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.DefinitionID,
		exec.RetryOf,
		exec.DocumentID,
		exec.DatasetID,
		exec.UserID,
		string(exec.Status),
		exec.CreatedAt.UnixNano(),
		nullTime(exec.StartedAt),
		nullTime(exec.CompletedAt),
		exec.Error,
		string(metrics),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrExecutionExists
	}
	return err
}

func (s *SQLiteExecutionStore) UpdateExecution(ctx context.Context, exec *api.Execution) error {
	metrics, err := json.Marshal(exec.Metrics)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, started_at = ?, completed_at = ?, error = ?, metrics = ?
		WHERE id = ?`,
		string(exec.Status),
		nullTime(exec.StartedAt),
		nullTime(exec.CompletedAt),
		exec.Error,
		string(metrics),
		exec.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

const executionColumns = `id, definition_id, retry_of, document_id, dataset_id, user_id,
	status, created_at, started_at, completed_at, error, metrics`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*api.Execution, error) {
	var (
		exec        api.Execution
		status      string
		createdAt   int64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
		metrics     string
	)
	err := row.Scan(&exec.ID, &exec.DefinitionID, &exec.RetryOf, &exec.DocumentID, &exec.DatasetID,
		&exec.UserID, &status, &createdAt, &startedAt, &completedAt, &exec.Error, &metrics)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	exec.Status = api.ExecutionStatus(status)
	exec.CreatedAt = time.Unix(0, createdAt)
	exec.StartedAt = timePtr(startedAt)
	exec.CompletedAt = timePtr(completedAt)
	if err := json.Unmarshal([]byte(metrics), &exec.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return &exec, nil
}

func (s *SQLiteExecutionStore) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	return scanExecution(s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
}

func (s *SQLiteExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var (
		conds []string
		args  []any
	)
	if filter.DefinitionID != "" {
		conds = append(conds, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}
