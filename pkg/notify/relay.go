package notify

import (
	"context"
	"log/slog"

	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/eventbus"
)

// Sink receives converted notifications. *Hub and *Collector implement it.
type Sink interface {
	Broadcast(msg api.NotificationMessage) int
}

// relayed lists the bus events that become notifications.
var relayed = map[api.EventType]string{
	api.EventExecutionStarted:   api.NotifyPipelineStarted,
	api.EventStepCompleted:      api.NotifyStepCompleted,
	api.EventStepFailed:         api.NotifyStepFailed,
	api.EventExecutionCompleted: api.NotifyPipelineCompleted,
	api.EventExecutionFailed:    api.NotifyPipelineFailed,
	api.EventExecutionCancelled: api.NotifyPipelineCancelled,
	api.EventJobFailed:          api.NotifyJobFailed,
}

// Relay turns bus events into notifications. Delivery never fails the
// publisher: problems are logged and swallowed.
type Relay struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRelay creates a relay writing to sinks.
func NewRelay(logger *slog.Logger, sinks ...Sink) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{sinks: sinks, logger: logger}
}

// Attach subscribes the relay to every relayed event type on bus.
func (r *Relay) Attach(bus *eventbus.Bus) []eventbus.SubscriptionID {
	types := []api.EventType{
		api.EventExecutionStarted,
		api.EventStepCompleted,
		api.EventStepFailed,
		api.EventExecutionCompleted,
		api.EventExecutionFailed,
		api.EventExecutionCancelled,
		api.EventJobFailed,
	}
	ids := make([]eventbus.SubscriptionID, 0, len(types))
	for _, t := range types {
		ids = append(ids, bus.Subscribe(t, r.Handle))
	}
	return ids
}

// Handle converts evt and broadcasts it to every sink.
func (r *Relay) Handle(ctx context.Context, evt api.Event) error {
	msg, ok := ToNotification(evt)
	if !ok {
		return nil
	}
	for _, s := range r.sinks {
		r.deliver(ctx, s, msg)
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, s Sink, msg api.NotificationMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "notification sink panicked",
				slog.String("type", msg.Type),
				slog.Any("panic", p),
			)
		}
	}()
	s.Broadcast(msg)
}

// ToNotification converts a bus event into a client message. Only the
// event types listed in the relay table convert.
func ToNotification(evt api.Event) (api.NotificationMessage, bool) {
	typ, ok := relayed[evt.Type]
	if !ok {
		return api.NotificationMessage{}, false
	}

	data := make(map[string]any)
	switch p := evt.Payload.(type) {
	case api.ExecutionEventPayload:
		for k, v := range p.Metadata {
			data[k] = v
		}
		data[api.FieldExecutionID] = p.ExecutionID
		data["definitionId"] = p.DefinitionID
		data["status"] = string(p.Status)
		putIf(data, api.FieldDocumentID, p.DocumentID)
		putIf(data, "datasetId", p.DatasetID)
		putIf(data, "userId", p.UserID)
		putIf(data, "error", p.Error)
		if p.Metrics != nil {
			data["metrics"] = map[string]any{
				"nodesProcessed": p.Metrics.NodesProcessed,
				"itemsProcessed": p.Metrics.ItemsProcessed,
				"totalDuration":  p.Metrics.TotalDuration.Milliseconds(),
			}
		}
	case api.StepEventPayload:
		for k, v := range p.Metadata {
			data[k] = v
		}
		data[api.FieldExecutionID] = p.ExecutionID
		data["definitionId"] = p.DefinitionID
		data["nodeId"] = p.NodeID
		data["stepType"] = p.StepType
		data["itemsIn"] = p.ItemsIn
		data["itemsOut"] = p.ItemsOut
		data["cached"] = p.Cached
		putIf(data, api.FieldDocumentID, p.DocumentID)
		putIf(data, "error", p.Error)
	case api.JobEventPayload:
		for k, v := range p.Data {
			data[k] = v
		}
		data["jobId"] = p.JobID
		data["jobType"] = p.JobType
		data["attemptsMade"] = p.AttemptsMade
		putIf(data, "error", p.Error)
	default:
		return api.NotificationMessage{}, false
	}

	return api.NotificationMessage{Type: typ, Data: data, Timestamp: evt.Timestamp}, true
}

func putIf(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}
