package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := New()
	var order []string

	bus.Subscribe(api.EventExecutionStarted, func(ctx context.Context, evt api.Event) error {
		order = append(order, "first")
		return nil
	})
	bus.SubscribeAll(func(ctx context.Context, evt api.Event) error {
		order = append(order, "wildcard")
		return nil
	})
	bus.Subscribe(api.EventExecutionStarted, func(ctx context.Context, evt api.Event) error {
		order = append(order, "third")
		return nil
	})
	bus.Subscribe(api.EventExecutionFailed, func(ctx context.Context, evt api.Event) error {
		order = append(order, "other-type")
		return nil
	})

	err := bus.Publish(context.Background(), api.NewEvent(api.EventExecutionStarted, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "wildcard", "third"}, order)
}

func TestBus_FailFastSkipsLaterSubscribers(t *testing.T) {
	bus := New()
	boom := errors.New("boom")
	var calls []int

	bus.Subscribe(api.EventJobFailed, func(ctx context.Context, evt api.Event) error {
		calls = append(calls, 1)
		return nil
	})
	failingID := bus.Subscribe(api.EventJobFailed, func(ctx context.Context, evt api.Event) error {
		calls = append(calls, 2)
		return boom
	})
	bus.Subscribe(api.EventJobFailed, func(ctx context.Context, evt api.Event) error {
		calls = append(calls, 3)
		return nil
	})

	err := bus.Publish(context.Background(), api.NewEvent(api.EventJobFailed, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	var subErr *SubscriberError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, failingID, subErr.ID)
	assert.Equal(t, api.EventJobFailed, subErr.Type)
	assert.Equal(t, []int{1, 2}, calls)
}

func TestBus_PanicIsReportedAsError(t *testing.T) {
	bus := New()
	bus.Subscribe(api.EventStepFailed, func(ctx context.Context, evt api.Event) error {
		panic("bad subscriber")
	})

	err := bus.Publish(context.Background(), api.NewEvent(api.EventStepFailed, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad subscriber")
}

func TestBus_UnsubscribeAndUnsubscribeAll(t *testing.T) {
	bus := New()
	var hits int
	h := func(ctx context.Context, evt api.Event) error {
		hits++
		return nil
	}

	id1 := bus.Subscribe(api.EventStepCompleted, h)
	bus.Subscribe(api.EventStepCompleted, h)
	wid := bus.SubscribeAll(h)
	assert.Equal(t, 3, bus.Subscribers(api.EventStepCompleted))

	assert.True(t, bus.Unsubscribe(api.EventStepCompleted, id1))
	assert.False(t, bus.Unsubscribe(api.EventStepCompleted, id1))
	assert.True(t, bus.Unsubscribe("", wid))
	assert.Equal(t, 1, bus.Subscribers(api.EventStepCompleted))

	bus.UnsubscribeAll(api.EventStepCompleted)
	assert.Equal(t, 0, bus.Subscribers(api.EventStepCompleted))

	require.NoError(t, bus.Publish(context.Background(), api.NewEvent(api.EventStepCompleted, nil)))
	assert.Zero(t, hits)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := New()
	assert.NoError(t, bus.Publish(context.Background(), api.Event{Type: api.EventJobCompleted}))
}
