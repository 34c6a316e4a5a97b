// Package docflow is an embeddable document processing substrate: a job
// queue with retries and correlation-based cancellation, a registry of job
// handlers, and an executor that runs pipelines and DAG workflows of steps
// over item batches, caching every node's output per execution.
//
// # Core Concepts
//
//  1. Step
//  2. Definition (pipeline or workflow)
//  3. Executor
//  4. Job and Dispatcher
//  5. LocalRunner
//
// # Steps
//
// A Step transforms a batch of Items. Built-in steps cover deduplication,
// rule filtering, summarisation, embedding and entity graph extraction.
// Custom steps are plain functions:
//
//	upper := docflow.MapStep("upper", func(it docflow.Item) (docflow.Item, bool) {
//	    it.Content = strings.ToUpper(it.Content)
//	    return it, true
//	})
//
// # Definitions
//
// A pipeline is an ordered chain of nodes. A workflow is a DAG whose nodes
// name their dependencies; independent nodes may run concurrently.
//
//	def := docflow.Pipeline("ingest").
//	    Step("dedup", nil).
//	    Step("rule-filter", map[string]any{"min_tokens": 3}).
//	    Step("embed", nil).
//	    Definition()
//
// # Jobs
//
// Work normally arrives as jobs. A document-ingest job segments a document
// and dispatches a pipeline-execution job, which runs a definition through
// the executor. Failed attempts are retried with fixed or exponential
// backoff; jobs can be cancelled by a correlation field such as documentId.
//
// # LocalRunner
//
// LocalRunner wires the whole stack in one process, in memory by default:
//
//	runner, err := docflow.NewLocalRunner(ctx, docflow.WithDefinitions(def))
//	if err != nil { ... }
//	defer runner.Close(ctx)
//
//	job, err := runner.Dispatch(ctx, docflow.JobTypeDocumentIngest, map[string]any{
//	    "documentId":   "doc-1",
//	    "definitionId": "ingest",
//	    "content":      text,
//	})
//
// Lifecycle notifications are published to an event bus and fanned out to
// subscribers; runner.Notifications exposes them for waiting in tests and
// tools.
package docflow
