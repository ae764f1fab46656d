package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/tikrec/internal/domain"
)

func TestEventBus_FanOut(t *testing.T) {
	bus := NewEventBus(4)
	first := bus.Subscribe()
	second := bus.Subscribe()
	defer first.Close()
	defer second.Close()

	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(domain.Event{JobID: "j1", Kind: domain.EventQueued})
	bus.Publish(domain.Event{JobID: "j1", Kind: domain.EventRecording})

	for _, sub := range []*Subscription{first, second} {
		ev := <-sub.C
		assert.Equal(t, domain.EventQueued, ev.Kind)
		ev = <-sub.C
		assert.Equal(t, domain.EventRecording, ev.Kind)
	}
}

func TestEventBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus(2)
	slow := bus.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(domain.Event{JobID: "j1", Kind: domain.EventProgress, Progress: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, uint64(8), slow.Dropped())
	ev := <-slow.C
	assert.Equal(t, float64(0), ev.Progress)
}

func TestEventBus_CloseUnsubscribes(t *testing.T) {
	bus := NewEventBus(0)
	sub := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-sub.C
	assert.False(t, open)

	bus.Publish(domain.Event{Kind: domain.EventQuota})
}

func TestEventBus_LateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewEventBus(4)
	bus.Publish(domain.Event{JobID: "early", Kind: domain.EventQueued})

	sub := bus.Subscribe()
	defer sub.Close()
	bus.Publish(domain.Event{JobID: "late", Kind: domain.EventQueued})

	ev := <-sub.C
	assert.Equal(t, "late", ev.JobID)
}

func TestEventBus_CloseAll(t *testing.T) {
	bus := NewEventBus(4)
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.CloseAll()

	assert.Equal(t, 0, bus.SubscriberCount())
	for _, sub := range []*Subscription{a, b} {
		_, open := <-sub.C
		assert.False(t, open)
		assert.NotPanics(t, sub.Close)
	}
}
