package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/docflow/internal/testutil"
	"github.com/petrijr/docflow/pkg/api"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	db     *sql.DB
	execs  *PostgresExecutionStore
	events *PostgresEventStore
	ctx    context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	execs, err := NewPostgresExecutionStore(db)
	if err != nil {
		t.Fatalf("NewPostgresExecutionStore failed: %v", err)
	}
	events, err := NewPostgresEventStore(db)
	if err != nil {
		t.Fatalf("NewPostgresEventStore failed: %v", err)
	}

	suite.Run(t, &PostgresStoreTestSuite{db: db, execs: execs, events: events, ctx: context.Background()})
}

func (p *PostgresStoreTestSuite) SetupTest() {
	_, err := p.db.Exec(`TRUNCATE executions, execution_history`)
	p.Require().NoError(err)
}

func (p *PostgresStoreTestSuite) TestExecutionLifecycle() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	exec := &api.Execution{ID: "pg-1", DefinitionID: "ingest", UserID: "u1", Status: api.ExecutionPending, CreatedAt: now}

	p.Require().NoError(p.execs.CreateExecution(p.ctx, exec))
	err := p.execs.CreateExecution(p.ctx, exec)
	p.True(errors.Is(err, ErrExecutionExists), "duplicate create: %v", err)

	p.Require().NoError(exec.Transition(api.ExecutionRunning, now))
	p.Require().NoError(exec.Transition(api.ExecutionFailed, now.Add(time.Second)))
	exec.Error = "embed failed"
	exec.Metrics.NodesProcessed = 2
	p.Require().NoError(p.execs.UpdateExecution(p.ctx, exec))

	got, err := p.execs.GetExecution(p.ctx, "pg-1")
	p.Require().NoError(err)
	p.Equal(api.ExecutionFailed, got.Status)
	p.Equal("embed failed", got.Error)
	p.Equal(2, got.Metrics.NodesProcessed)
	p.Require().NotNil(got.CompletedAt)
	p.True(got.CompletedAt.Equal(now.Add(time.Second)))

	list, err := p.execs.ListExecutions(p.ctx, ExecutionFilter{Status: api.ExecutionFailed})
	p.Require().NoError(err)
	p.Len(list, 1)

	_, err = p.execs.GetExecution(p.ctx, "missing")
	p.True(errors.Is(err, ErrExecutionNotFound))
}

func (p *PostgresStoreTestSuite) TestEventsInOrder() {
	for _, typ := range []api.EventType{api.EventExecutionStarted, api.EventStepFailed, api.EventExecutionFailed} {
		p.Require().NoError(p.events.AppendEvent(p.ctx, api.ExecutionEvent{ExecutionID: "pg-1", At: time.Now(), Type: typ}))
	}
	evs, err := p.events.ListEvents(p.ctx, "pg-1")
	p.Require().NoError(err)
	p.Require().Len(evs, 3)
	p.Equal(api.EventStepFailed, evs[1].Type)

	step := api.ExecutionEvent{
		ExecutionID: "pg-2", At: time.Now(), Type: api.EventStepCompleted,
		NodeID: "dedup-1", StepType: "dedup", ItemsIn: 10, ItemsOut: 8, Cached: true,
		Duration: 3 * time.Millisecond, DocumentID: "doc-1",
	}
	p.Require().NoError(p.events.AppendEvent(p.ctx, step))
	evs, err = p.events.ListEvents(p.ctx, "pg-2")
	p.Require().NoError(err)
	p.Require().Len(evs, 1)
	p.Equal(8, evs[0].ItemsOut)
	p.True(evs[0].Cached)
	p.Equal(3*time.Millisecond, evs[0].Duration)
	p.Equal("doc-1", evs[0].DocumentID)
}
