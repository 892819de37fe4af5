package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event is one pipeline event delivered to subscribers.
type Event struct {
	Name      string      `json:"name"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Subscriber receives dispatched events. Called from the dispatch
// goroutine only, never from internal pipeline call sites.
type Subscriber func(Event)

// Dispatcher fans pipeline events out to subscribers through a bounded
// channel and a single dispatch goroutine. Publish never blocks; when
// the buffer is full the event is dropped and counted.
type Dispatcher struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]Subscriber

	events  chan Event
	dropped int64
	log     *zap.Logger
}

const dispatcherBuffer = 256

// NewDispatcher creates a dispatcher. Run must be started for events to
// flow.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int]Subscriber),
		events:      make(chan Event, dispatcherBuffer),
		log:         log,
	}
}

// Subscribe registers a callback and returns its id for Unsubscribe.
func (d *Dispatcher) Subscribe(fn Subscriber) int {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subscribers[id] = fn
	d.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered callback.
func (d *Dispatcher) Unsubscribe(id int) {
	d.mu.Lock()
	delete(d.subscribers, id)
	d.mu.Unlock()
}

// Publish enqueues an event without blocking the caller.
func (d *Dispatcher) Publish(evt Event) {
	select {
	case d.events <- evt:
	default:
		d.mu.Lock()
		d.dropped++
		dropped := d.dropped
		d.mu.Unlock()
		if d.log != nil && dropped%100 == 1 {
			d.log.Warn("event buffer full, dropping events", zap.Int64("dropped", dropped))
		}
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run consumes the event channel and invokes subscribers until the
// context is cancelled. Exactly one Run loop should be active.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.events:
			d.mu.RLock()
			subs := make([]Subscriber, 0, len(d.subscribers))
			for _, fn := range d.subscribers {
				subs = append(subs, fn)
			}
			d.mu.RUnlock()
			for _, fn := range subs {
				fn(evt)
			}
		}
	}
}
