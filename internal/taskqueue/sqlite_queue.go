package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/docflow/pkg/api"
)

// SQLiteQueue is a persistent Queue backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). Claims run inside a transaction; with a single
// open connection (see persistence.OpenSQLite) they are fully serialized.
type SQLiteQueue struct {
	db   *sql.DB
	opts options
}

// NewSQLiteQueue initializes the jobs table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB, opts ...Option) (*SQLiteQueue, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	q := &SQLiteQueue{db: db, opts: o}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			data TEXT NOT NULL,
			options TEXT NOT NULL,
			state TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			attempts_made INTEGER NOT NULL DEFAULT 0,
			failed_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			run_at INTEGER NOT NULL,
			processed_at INTEGER,
			finished_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(state, run_at);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

const jobColumns = `id, type, data, options, state, attempts_made, failed_reason, created_at, run_at, processed_at, finished_at`

func (q *SQLiteQueue) Enqueue(ctx context.Context, job *api.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := q.opts.clock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.RunAt.IsZero() {
		job.RunAt = job.CreatedAt
	}
	job.State = api.JobWaiting
	if job.RunAt.After(now) {
		job.State = api.JobDelayed
	}

	data, err := encodeData(job.Data)
	if err != nil {
		return fmt.Errorf("encode job data: %w", err)
	}
	opts, err := encodeOptions(job.Options)
	if err != nil {
		return fmt.Errorf("encode job options: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, data, options, state, priority, attempts_made, failed_reason, created_at, run_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', ?, ?)`,
		job.ID,
		job.Type,
		data,
		opts,
		string(job.State),
		job.Options.Priority,
		job.CreatedAt.UnixNano(),
		job.RunAt.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*api.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		job, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		// Nothing available: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.opts.pollInterval):
		}
	}
}

func (q *SQLiteQueue) claim(ctx context.Context) (*api.Job, error) {
	now := q.opts.clock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT seq FROM jobs
		WHERE state IN ('waiting', 'delayed') AND run_at <= ?
		ORDER BY priority DESC, run_at, seq
		LIMIT 1`, now.UnixNano()).Scan(&seq)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'active', attempts_made = attempts_made + 1, processed_at = ?
		WHERE seq = ?`, now.UnixNano(), seq); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE seq = ?`, seq))
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*api.Job, error) {
	var (
		j           api.Job
		state       string
		data        string
		opts        string
		createdAt   int64
		runAt       int64
		processedAt sql.NullInt64
		finishedAt  sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.Type, &data, &opts, &state, &j.AttemptsMade, &j.FailedReason,
		&createdAt, &runAt, &processedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if j.Data, err = decodeData(data); err != nil {
		return nil, fmt.Errorf("decode job data: %w", err)
	}
	if j.Options, err = decodeOptions(opts); err != nil {
		return nil, fmt.Errorf("decode job options: %w", err)
	}
	j.State = api.JobState(state)
	j.CreatedAt = time.Unix(0, createdAt)
	j.RunAt = time.Unix(0, runAt)
	if processedAt.Valid {
		t := time.Unix(0, processedAt.Int64)
		j.ProcessedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64)
		j.FinishedAt = &t
	}
	return &j, nil
}

// finishActive applies an update to a job that must currently be active.
func (q *SQLiteQueue) finishActive(ctx context.Context, id, set string, args ...any) error {
	args = append(args, id)
	res, err := q.db.ExecContext(ctx, `UPDATE jobs SET `+set+` WHERE id = ? AND state = 'active'`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}

func (q *SQLiteQueue) Complete(ctx context.Context, id string) error {
	return q.finishActive(ctx, id, `state = 'completed', finished_at = ?`, q.opts.clock().UnixNano())
}

func (q *SQLiteQueue) Retry(ctx context.Context, id, reason string, runAt time.Time) error {
	return q.finishActive(ctx, id, `state = 'delayed', failed_reason = ?, run_at = ?`, reason, runAt.UnixNano())
}

func (q *SQLiteQueue) Fail(ctx context.Context, id, reason string) error {
	return q.finishActive(ctx, id, `state = 'failed', failed_reason = ?, finished_at = ?`, reason, q.opts.clock().UnixNano())
}

func (q *SQLiteQueue) Get(ctx context.Context, id string) (*api.Job, error) {
	return scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func (q *SQLiteQueue) list(ctx context.Context, query string, args ...any) ([]*api.Job, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (q *SQLiteQueue) ListByState(ctx context.Context, state api.JobState, limit int) ([]*api.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return q.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY seq LIMIT ?`, string(state), limit)
}

func (q *SQLiteQueue) ListByCorrelation(ctx context.Context, field, value string) ([]*api.Job, error) {
	if err := ValidateField(field); err != nil {
		return nil, err
	}
	path := "$." + field
	return q.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE `+correlationMatch+` ORDER BY seq`, path, path, value)
}

func (q *SQLiteQueue) Stats(ctx context.Context) (api.QueueStats, error) {
	var s api.QueueStats
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return s, err
		}
		s.Add(api.JobState(state), n)
	}
	return s, rows.Err()
}

func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (q *SQLiteQueue) RemoveByCorrelation(ctx context.Context, field, value string, states ...api.JobState) (int, error) {
	if err := ValidateField(field); err != nil {
		return 0, err
	}
	path := "$." + field
	query := `DELETE FROM jobs WHERE ` + correlationMatch
	args := []any{path, path, value}
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, st := range states {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND state IN (` + strings.Join(marks, ", ") + `)`
	}
	return q.exec(ctx, query, args...)
}

func (q *SQLiteQueue) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// correlationMatch mirrors api.Job.Correlation: only text and integer values
// correlate. It binds the JSON path twice, then the value.
const correlationMatch = `json_type(data, ?) IN ('text', 'integer') AND CAST(json_extract(data, ?) AS TEXT) = ?`

// stateTimeExpr mirrors stateTime for SQL.
const stateTimeExpr = `CASE
	WHEN state IN ('completed', 'failed') THEN COALESCE(finished_at, created_at)
	WHEN state = 'active' THEN COALESCE(processed_at, created_at)
	ELSE created_at END`

func (q *SQLiteQueue) Clean(ctx context.Context, state api.JobState, olderThan time.Time) (int, error) {
	if olderThan.IsZero() {
		return q.exec(ctx, `DELETE FROM jobs WHERE state = ?`, string(state))
	}
	return q.exec(ctx, `DELETE FROM jobs WHERE state = ? AND `+stateTimeExpr+` < ?`, string(state), olderThan.UnixNano())
}

func (q *SQLiteQueue) Trim(ctx context.Context, state api.JobState, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	return q.exec(ctx, `
		DELETE FROM jobs WHERE state = ? AND seq NOT IN (
			SELECT seq FROM jobs WHERE state = ?
			ORDER BY `+stateTimeExpr+` DESC, seq DESC
			LIMIT ?
		)`, string(state), string(state), keep)
}

func (q *SQLiteQueue) Requeue(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'waiting', attempts_made = 0, failed_reason = '',
			processed_at = NULL, finished_at = NULL, run_at = ?
		WHERE id = ? AND state = 'failed'`, q.opts.clock().UnixNano(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE state IN ('waiting', 'delayed')`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
