package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/petrijr/docflow/pkg/api"
)

// SQLiteOutputCache is an OutputCache backed by SQLite. Payloads are
// gob-encoded NodeOutput values.
type SQLiteOutputCache struct {
	db *sql.DB
}

var _ OutputCache = (*SQLiteOutputCache)(nil)

// NewSQLiteOutputCache initializes the node_outputs table.
func NewSQLiteOutputCache(db *sql.DB) (*SQLiteOutputCache, error) {
	c := &SQLiteOutputCache{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS node_outputs (
			execution_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			payload BLOB NOT NULL,
			computed_at INTEGER NOT NULL,
			PRIMARY KEY (execution_id, node_id, fingerprint)
		);`); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SQLiteOutputCache) Get(ctx context.Context, key api.NodeOutputKey) (*api.NodeOutput, bool, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT payload FROM node_outputs
		WHERE execution_id = ? AND node_id = ? AND fingerprint = ?`,
		key.ExecutionID, key.NodeID, key.Fingerprint).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out, err := DecodeValue[api.NodeOutput](payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode node output: %w", err)
	}
	return &out, true, nil
}

func (c *SQLiteOutputCache) Put(ctx context.Context, out api.NodeOutput) error {
	payload, err := EncodeValue(out)
	if err != nil {
		return fmt.Errorf("encode node output: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO node_outputs (execution_id, node_id, fingerprint, payload, computed_at)
		VALUES (?, ?, ?, ?, ?)`,
		out.ExecutionID, out.NodeID, out.Fingerprint, payload, out.ComputedAt.UnixNano())
	return err
}

func (c *SQLiteOutputCache) Invalidate(ctx context.Context, executionID string) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM node_outputs WHERE execution_id = ?`, executionID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
