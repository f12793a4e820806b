package events

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/marcusd/internal/persistence"
)

// spikeWindow and spikeThreshold define the error-spike signal: when one
// event type's handlers fail more than the threshold within the window, a
// critical log entry is emitted
const (
	spikeWindow    = 5 * time.Minute
	spikeThreshold = 10
)

// Handler processes one delivered event. A handler returning an error (or
// panicking) is isolated: it is logged and counted, and delivery continues.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	eventType Type
	handler   Handler
}

// Bus is the in-process publish-subscribe fan-out. Delivery to a single
// subscriber is FIFO in publication order; there is no ordering guarantee
// across concurrent publishers.
type Bus struct {
	mu       sync.Mutex
	subs     []*subscription
	history  []Event
	capacity int

	store   persistence.Store // optional durable record
	persist bool

	errorCounts map[Type]int
	spikeMarks  map[Type][]time.Time
	onSpike     func(eventType Type, failures int)

	waiters []*waiter

	// deliverMu serializes deliveries so per-subscriber FIFO holds even
	// when publishers race
	deliverMu sync.Mutex
}

type waiter struct {
	predicate func(Event) bool
	ch        chan Event
	once      sync.Once
}

// NewBus creates a bus with the given ring-buffer capacity. A nil store
// (or persist=false) keeps events in memory only.
func NewBus(capacity int, store persistence.Store, persist bool) *Bus {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Bus{
		capacity:    capacity,
		store:       store,
		persist:     persist && store != nil,
		errorCounts: make(map[Type]int),
		spikeMarks:  make(map[Type][]time.Time),
	}
}

// Subscribe registers a handler for one event type, or all events when
// eventType is TypeAll
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, &subscription{eventType: eventType, handler: handler})
}

// Publish stamps the event if needed, records it, and delivers it to every
// matching subscriber in registration order. Handler failures are isolated.
func (b *Bus) Publish(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event = New(event.Type, event.Source, event.Data)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.record(ctx, event)

	// Snapshot subscribers so subscribe/unsubscribe during delivery is safe
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	for _, sub := range subs {
		if sub.eventType != TypeAll && sub.eventType != event.Type {
			continue
		}
		b.deliver(ctx, sub, event)
	}
	return event
}

// PublishNowait schedules delivery and returns immediately
func (b *Bus) PublishNowait(event Event) Event {
	if event.ID == "" {
		event = New(event.Type, event.Source, event.Data)
	}
	go b.Publish(context.Background(), event)
	return event
}

// deliver invokes one handler with panic isolation
func (b *Bus) deliver(ctx context.Context, sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.countError(event.Type, fmt.Errorf("handler panic: %v", r))
		}
	}()
	if err := sub.handler(ctx, event); err != nil {
		b.countError(event.Type, err)
	}
}

// record appends to the ring buffer, persists when enabled, and wakes
// matching waiters
func (b *Bus) record(ctx context.Context, event Event) {
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.capacity {
		// Lossy by design; persistence is the durable record
		b.history = b.history[len(b.history)-b.capacity:]
	}
	waiters := make([]*waiter, len(b.waiters))
	copy(waiters, b.waiters)
	b.mu.Unlock()

	if b.persist {
		if err := b.store.Store(ctx, persistence.ColEvents, event.ID, event); err != nil {
			log.Printf("[EVENTS] ERROR: failed to persist event %s (%s): %v", event.ID, event.Type, err)
		}
	}

	for _, w := range waiters {
		if w.predicate(event) {
			w.once.Do(func() { w.ch <- event })
		}
	}
}

// countError logs an isolated handler failure and raises the critical
// error-spike signal when one type fails too often within the window
func (b *Bus) countError(eventType Type, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCounts[eventType]++
	log.Printf("[EVENTS] handler error for %s (total %d): %v", eventType, b.errorCounts[eventType], err)

	now := time.Now()
	marks := b.spikeMarks[eventType]
	kept := marks[:0]
	for _, m := range marks {
		if now.Sub(m) < spikeWindow {
			kept = append(kept, m)
		}
	}
	kept = append(kept, now)
	b.spikeMarks[eventType] = kept

	if len(kept) > spikeThreshold {
		log.Printf("[EVENTS] CRITICAL: error spike for %s: %d handler failures in %s",
			eventType, len(kept), spikeWindow)
		b.spikeMarks[eventType] = nil
		if b.onSpike != nil {
			go b.onSpike(eventType, len(kept))
		}
	}
}

// SetSpikeHandler installs a callback for the critical error-spike signal
func (b *Bus) SetSpikeHandler(fn func(eventType Type, failures int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSpike = fn
}

// ErrorCount returns the monotonic handler-failure counter for a type
func (b *Bus) ErrorCount(eventType Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorCounts[eventType]
}

// History returns a copy of the buffered events, oldest first
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// WaitFor blocks until an event matching the predicate is published or the
// timeout elapses. Intended for coordination in tests.
func (b *Bus) WaitFor(predicate func(Event) bool, timeout time.Duration) (Event, error) {
	// Check history first so a caller arriving late still sees the event
	b.mu.Lock()
	for _, e := range b.history {
		if predicate(e) {
			b.mu.Unlock()
			return e, nil
		}
	}
	w := &waiter{predicate: predicate, ch: make(chan Event, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		for i, x := range b.waiters {
			if x == w {
				b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}()

	select {
	case e := <-w.ch:
		return e, nil
	case <-time.After(timeout):
		return Event{}, fmt.Errorf("timed out waiting for event after %s", timeout)
	}
}

// Drain waits for any in-flight delivery to finish. Best effort: used
// during context close.
func (b *Bus) Drain() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
}
