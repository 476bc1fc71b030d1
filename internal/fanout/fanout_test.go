package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	d := NewDispatcher[string]("alerts")
	var got []string
	unsub := d.Subscribe(func(_ context.Context, v string) { got = append(got, v) })

	d.Publish(context.Background(), "A")
	unsub()
	d.Publish(context.Background(), "B")

	assert.Equal(t, []string{"A"}, got)
}

func TestUnsubscribe_RemovesOnlyItsOwnRegistration(t *testing.T) {
	d := NewDispatcher[int]("alerts")
	var first, second int
	same := func(_ context.Context, v int) { first += v }
	unsubA := d.Subscribe(same)
	d.Subscribe(same)
	d.Subscribe(func(_ context.Context, v int) { second += v })

	unsubA()
	unsubA()
	assert.Equal(t, 2, d.Len())

	d.Publish(context.Background(), 1)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestPublish_RegistrationOrder(t *testing.T) {
	d := NewDispatcher[int]("alerts")
	var order []string
	d.Subscribe(func(context.Context, int) { order = append(order, "toast") })
	d.Subscribe(func(context.Context, int) { order = append(order, "history") })
	d.Subscribe(func(context.Context, int) { order = append(order, "notify") })

	d.Publish(context.Background(), 0)
	assert.Equal(t, []string{"toast", "history", "notify"}, order)
}

func TestPublish_ListenerAddedDuringDispatchMissesEvent(t *testing.T) {
	d := NewDispatcher[string]("alerts")
	var late []string
	d.Subscribe(func(context.Context, string) {
		d.Subscribe(func(_ context.Context, v string) { late = append(late, v) })
	})

	d.Publish(context.Background(), "first")
	assert.Empty(t, late)

	d.Publish(context.Background(), "second")
	assert.Equal(t, []string{"second"}, late)
}

func TestPublish_UnsubscribeDuringDispatch(t *testing.T) {
	d := NewDispatcher[string]("alerts")
	var calls []string
	var unsubSecond func()
	d.Subscribe(func(context.Context, string) {
		calls = append(calls, "first")
		unsubSecond()
	})
	unsubSecond = d.Subscribe(func(context.Context, string) { calls = append(calls, "second") })

	d.Publish(context.Background(), "x")
	d.Publish(context.Background(), "y")
	assert.Equal(t, []string{"first", "second", "first"}, calls)
}

func TestPublish_PanickingListenerIsIsolated(t *testing.T) {
	d := NewDispatcher[string]("alerts")
	var after []string
	d.Subscribe(func(context.Context, string) { panic("boom") })
	d.Subscribe(func(_ context.Context, v string) { after = append(after, v) })

	assert.NotPanics(t, func() { d.Publish(context.Background(), "A") })
	assert.Equal(t, []string{"A"}, after)
}
