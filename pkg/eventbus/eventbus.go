// Package eventbus is a synchronous in-process publish/subscribe bus for
// lifecycle events.
//
// Publish invokes subscribers one after another, in subscription order,
// inside the publishing call. The policy is fail-fast: the first subscriber
// that returns an error (or panics) stops delivery of that event, later
// subscribers are skipped, and the error is returned to the publisher
// wrapped in a *SubscriberError. Publishers that must not be affected by
// listener failures log the error and move on.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/docflow/pkg/api"
)

// Handler receives a published event.
type Handler func(ctx context.Context, evt api.Event) error

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

// SubscriberError reports the subscriber that aborted a Publish.
type SubscriberError struct {
	Type api.EventType
	ID   SubscriptionID
	Err  error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("eventbus: subscriber %d failed on %s: %v", e.ID, e.Type, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus is safe for concurrent use, but the subscriber table is expected to be
// built during startup and left alone afterwards.
type Bus struct {
	mu       sync.RWMutex
	nextID   SubscriptionID
	byType   map[api.EventType][]subscription
	wildcard []subscription
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New returns an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		byType: make(map[api.EventType][]subscription),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t api.EventType, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscription{id: id, handler: h})
	return id
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, subscription{id: id, handler: h})
	return id
}

// Unsubscribe removes one subscription. An empty t targets wildcard
// subscriptions. It reports whether anything was removed.
func (b *Bus) Unsubscribe(t api.EventType, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t == "" {
		var removed bool
		b.wildcard, removed = without(b.wildcard, id)
		return removed
	}
	subs, removed := without(b.byType[t], id)
	if len(subs) == 0 {
		delete(b.byType, t)
	} else {
		b.byType[t] = subs
	}
	return removed
}

// UnsubscribeAll drops every typed subscription for t.
func (b *Bus) UnsubscribeAll(t api.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byType, t)
}

// Subscribers returns how many handlers would receive an event of type t.
func (b *Bus) Subscribers(t api.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byType[t]) + len(b.wildcard)
}

// Publish delivers evt synchronously. See the package doc for the
// fail-fast policy.
func (b *Bus) Publish(ctx context.Context, evt api.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.byType[evt.Type])+len(b.wildcard))
	subs = append(subs, b.byType[evt.Type]...)
	subs = append(subs, b.wildcard...)
	b.mu.RUnlock()

	// Typed and wildcard subscribers interleave in registration order.
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, s := range subs {
		if err := invoke(ctx, s.handler, evt); err != nil {
			b.logger.DebugContext(ctx, "eventbus publish aborted",
				slog.String("event_type", string(evt.Type)),
				slog.Uint64("subscription_id", uint64(s.id)),
				slog.Any("error", err),
			)
			return &SubscriberError{Type: evt.Type, ID: s.id, Err: err}
		}
	}
	return nil
}

func invoke(ctx context.Context, h Handler, evt api.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

func without(subs []subscription, id SubscriptionID) ([]subscription, bool) {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			out = append(out, subs[i+1:]...)
			return out, true
		}
	}
	return subs, false
}
