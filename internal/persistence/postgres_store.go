package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/petrijr/docflow/pkg/api"
)

// PostgresExecutionStore is an ExecutionStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses the pgx stdlib driver:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := sql.Open("pgx", dsn)
type PostgresExecutionStore struct {
	db *sql.DB
}

// Ensure PostgresExecutionStore implements ExecutionStore.
var _ ExecutionStore = (*PostgresExecutionStore)(nil)

// NewPostgresExecutionStore initializes the required schema in the given
// database and returns a new PostgresExecutionStore.
func NewPostgresExecutionStore(db *sql.DB) (*PostgresExecutionStore, error) {
	s := &PostgresExecutionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresExecutionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			retry_of TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			dataset_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error TEXT NOT NULL DEFAULT '',
			metrics JSONB NOT NULL DEFAULT '{}'::jsonb
		);
	`)
	return err
}

func pgTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresExecutionStore) CreateExecution(ctx context.Context, exec *api.Execution) error {
	metrics, err := json.Marshal(exec.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, definition_id, retry_of, document_id, dataset_id, user_id,
			status, created_at, started_at, completed_at, error, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		exec.ID,
		exec.DefinitionID,
		exec.RetryOf,
		exec.DocumentID,
		exec.DatasetID,
		exec.UserID,
		string(exec.Status),
		exec.CreatedAt,
		pgTime(exec.StartedAt),
		pgTime(exec.CompletedAt),
		exec.Error,
		string(metrics),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExecutionExists
	}
	return err
}

func (s *PostgresExecutionStore) UpdateExecution(ctx context.Context, exec *api.Execution) error {
	metrics, err := json.Marshal(exec.Metrics)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status       = $1,
		    started_at   = $2,
		    completed_at = $3,
		    error        = $4,
		    metrics      = $5
		WHERE id = $6
	`,
		string(exec.Status),
		pgTime(exec.StartedAt),
		pgTime(exec.CompletedAt),
		exec.Error,
		string(metrics),
		exec.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func scanPgExecution(row rowScanner) (*api.Execution, error) {
	var (
		exec        api.Execution
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		metrics     []byte
	)
	if err := row.Scan(&exec.ID, &exec.DefinitionID, &exec.RetryOf, &exec.DocumentID, &exec.DatasetID,
		&exec.UserID, &status, &exec.CreatedAt, &startedAt, &completedAt, &exec.Error, &metrics); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	exec.Status = api.ExecutionStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	if err := json.Unmarshal(metrics, &exec.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return &exec, nil
}

func (s *PostgresExecutionStore) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE id = $1
	`, id)
	return scanPgExecution(row)
}

func (s *PostgresExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions`

	var args []any
	var clauses []string

	if filter.DefinitionID != "" {
		clauses = append(clauses, fmt.Sprintf("definition_id = $%d", len(args)+1))
		args = append(args, filter.DefinitionID)
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.Execution
	for rows.Next() {
		exec, err := scanPgExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// PostgresEventStore stores execution history events in PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

var _ EventStore = (*PostgresEventStore)(nil)

// NewPostgresEventStore initializes the execution_history table.
func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_history (
			seq BIGSERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			event_type TEXT NOT NULL,
			definition_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			node_id TEXT NOT NULL DEFAULT '',
			step_type TEXT NOT NULL DEFAULT '',
			items_in INTEGER NOT NULL DEFAULT 0,
			items_out INTEGER NOT NULL DEFAULT 0,
			cached BOOLEAN NOT NULL DEFAULT FALSE,
			duration_ns BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_execution_history_execution ON execution_history(execution_id, seq)`); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresEventStore) AppendEvent(ctx context.Context, ev api.ExecutionEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_history (
			execution_id, at, event_type, definition_id, document_id,
			node_id, step_type, items_in, items_out, cached,
			duration_ns, status, job_id, error, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		ev.ExecutionID, ev.At, string(ev.Type), ev.DefinitionID, ev.DocumentID,
		ev.NodeID, ev.StepType, ev.ItemsIn, ev.ItemsOut, ev.Cached,
		int64(ev.Duration), string(ev.Status), ev.JobID, ev.Error, ev.Detail,
	)
	return err
}

func (s *PostgresEventStore) ListEvents(ctx context.Context, executionID string) ([]api.ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, at, event_type, definition_id, document_id,
			node_id, step_type, items_in, items_out, cached,
			duration_ns, status, job_id, error, detail
		FROM execution_history
		WHERE execution_id = $1
		ORDER BY seq ASC
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.ExecutionEvent
	for rows.Next() {
		var (
			ev     api.ExecutionEvent
			durN   int64
			typ    string
			status string
		)
		if err := rows.Scan(
			&ev.ExecutionID, &ev.At, &typ, &ev.DefinitionID, &ev.DocumentID,
			&ev.NodeID, &ev.StepType, &ev.ItemsIn, &ev.ItemsOut, &ev.Cached,
			&durN, &status, &ev.JobID, &ev.Error, &ev.Detail,
		); err != nil {
			return nil, err
		}
		ev.Type = api.EventType(typ)
		ev.Duration = time.Duration(durN)
		ev.Status = api.ExecutionStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}
