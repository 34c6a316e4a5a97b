package docflow

import (
	"github.com/petrijr/docflow/internal/jobs"
	"github.com/petrijr/docflow/internal/steps"
	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Item                 = api.Item
	Step                 = api.Step
	StepFunc             = api.StepFunc
	StepContext          = api.StepContext
	StepResult           = api.StepResult
	Definition           = api.Definition
	NodeDefinition       = api.NodeDefinition
	DefinitionKind       = api.DefinitionKind
	Execution            = api.Execution
	ExecutionStatus      = api.ExecutionStatus
	ExecutionMetrics     = api.ExecutionMetrics
	Job                  = api.Job
	JobState             = api.JobState
	QueueStats           = api.QueueStats
	Event                = api.Event
	EventType            = api.EventType
	Notification         = api.NotificationMessage
	Observer             = api.Observer
	NoopObserver         = api.NoopObserver
	CompositeObserver    = api.CompositeObserver
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	DispatchOption       = dispatch.Option
)

// Re-export common helpers.

var (
	NamedStep            = api.NamedStep
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Per-job dispatch options. See also Retry.

var (
	DelayFor     = dispatch.WithDelay
	AtPriority   = dispatch.WithPriority
	WithJobID    = dispatch.WithJobID
	TimeoutAfter = dispatch.WithTimeout
	KeepJobs     = dispatch.WithRetention
)

const (
	KindPipeline = api.KindPipeline
	KindWorkflow = api.KindWorkflow

	ExecutionPending   = api.ExecutionPending
	ExecutionRunning   = api.ExecutionRunning
	ExecutionCompleted = api.ExecutionCompleted
	ExecutionFailed    = api.ExecutionFailed
	ExecutionCancelled = api.ExecutionCancelled

	JobWaiting   = api.JobWaiting
	JobDelayed   = api.JobDelayed
	JobActive    = api.JobActive
	JobCompleted = api.JobCompleted
	JobFailed    = api.JobFailed

	JobTypePipelineExecution = jobs.TypePipelineExecution
	JobTypeDocumentIngest    = jobs.TypeDocumentIngest

	StepDedup        = steps.TypeDedup
	StepRuleFilter   = steps.TypeRuleFilter
	StepSummarize    = steps.TypeSummarize
	StepEmbed        = steps.TypeEmbed
	StepGraphExtract = steps.TypeGraphExtract
)

// BuiltinSteps returns fresh instances of the built-in steps.
func BuiltinSteps() []Step {
	return steps.Defaults()
}
