// Package api contains the shared data model of docflow: jobs and their
// retry options, pipeline and workflow definitions, executions and their
// status machine, the Step capability, node outputs, bus events and
// notification messages.
//
// Most users interact with the higher-level docflow package, which re-exports
// selected types from this package. The api package is intended for custom
// steps, job handlers and integrations that need the raw types.
//
// # Executions
//
// An Execution moves pending -> running -> {completed | failed | cancelled}
// and never regresses. Execution.Transition enforces this and returns
// ErrIllegalTransition for anything else.
//
// # Steps
//
// A Step receives a batch of Items and returns the next batch together with
// free-form metrics. Steps should be idempotent for a given input, because
// the executor memoizes their output and may skip them on retry. Rejecting
// an individual item is done by leaving it out of the result, not by
// returning an error.
//
// # Observability
//
// The Observer interface is used by the executor to report lifecycle
// callbacks. LoggingObserver, BasicMetrics and CompositeObserver are ready
// to use.
package api
