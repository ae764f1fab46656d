package service

import (
	"sync"

	"github.com/bnema/tikrec/internal/domain"
)

const defaultEventBuffer = 64

// Subscription receives every event published after it was created.
type Subscription struct {
	C <-chan domain.Event

	ch      chan domain.Event
	bus     *EventBus
	dropped uint64
	once    sync.Once
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.dropped
}

type EventBus struct {
	subscribers map[*Subscription]struct{}
	buffer      int
	mu          sync.RWMutex
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &EventBus{
		subscribers: make(map[*Subscription]struct{}),
		buffer:      buffer,
	}
}

func (eb *EventBus) Subscribe() *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan domain.Event, eb.buffer)
	sub := &Subscription{C: ch, ch: ch, bus: eb}
	eb.subscribers[sub] = struct{}{}
	return sub
}

func (eb *EventBus) unsubscribe(sub *Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, ok := eb.subscribers[sub]; ok {
		delete(eb.subscribers, sub)
		close(sub.ch)
	}
}

// Publish never blocks. Subscribers whose buffer is full miss the event.
func (eb *EventBus) Publish(event domain.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for sub := range eb.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
		}
	}
}

// CloseAll ends every subscription. Later Close calls are no-ops.
func (eb *EventBus) CloseAll() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for sub := range eb.subscribers {
		delete(eb.subscribers, sub)
		close(sub.ch)
	}
}

func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}
