package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/docflow/pkg/api"
)

// SQLiteEventStore keeps execution history rows in SQLite, one row per
// lifecycle or step event, ordered by insertion.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			at_ns INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			definition_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			node_id TEXT NOT NULL DEFAULT '',
			step_type TEXT NOT NULL DEFAULT '',
			items_in INTEGER NOT NULL DEFAULT 0,
			items_out INTEGER NOT NULL DEFAULT 0,
			cached INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_execution_history_execution ON execution_history(execution_id, seq);
	`); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.ExecutionEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_history (
			execution_id, at_ns, event_type, definition_id, document_id,
			node_id, step_type, items_in, items_out, cached,
			duration_ns, status, job_id, error, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ExecutionID, ev.At.UnixNano(), string(ev.Type), ev.DefinitionID, ev.DocumentID,
		ev.NodeID, ev.StepType, ev.ItemsIn, ev.ItemsOut, ev.Cached,
		int64(ev.Duration), string(ev.Status), ev.JobID, ev.Error, ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, executionID string) ([]api.ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, at_ns, event_type, definition_id, document_id,
			node_id, step_type, items_in, items_out, cached,
			duration_ns, status, job_id, error, detail
		FROM execution_history
		WHERE execution_id = ?
		ORDER BY seq ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.ExecutionEvent
	for rows.Next() {
		var (
			ev     api.ExecutionEvent
			atN    int64
			durN   int64
			typ    string
			status string
			cached bool
		)
		if err := rows.Scan(
			&ev.ExecutionID, &atN, &typ, &ev.DefinitionID, &ev.DocumentID,
			&ev.NodeID, &ev.StepType, &ev.ItemsIn, &ev.ItemsOut, &cached,
			&durN, &status, &ev.JobID, &ev.Error, &ev.Detail,
		); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, atN)
		ev.Type = api.EventType(typ)
		ev.Cached = cached
		ev.Duration = time.Duration(durN)
		ev.Status = api.ExecutionStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}
