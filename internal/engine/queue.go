package engine

import (
	"sync"

	"github.com/roach88/attend/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeSignal carries a platform signal.
	EventTypeSignal EventType = iota + 1
	// EventTypeInjection carries a debounced injection that became due.
	EventTypeInjection
	// EventTypeDisconnected reports that the consumer channel was lost.
	EventTypeDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventTypeSignal:
		return "signal"
	case EventTypeInjection:
		return "injection"
	case EventTypeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the engine loop.
type Event struct {
	Type      EventType
	Signal    *ir.Signal
	Injection *Injection
	Reason    string
}

// SignalEvent wraps a platform signal.
func SignalEvent(sig ir.Signal) Event {
	return Event{Type: EventTypeSignal, Signal: &sig}
}

// eventQueue is a thread-safe, unbounded FIFO of events.
//
// Platform readers, debounce timers and the transport all enqueue from
// their own goroutines; only the engine loop dequeues. Being unbounded, a
// producer never blocks on a busy loop.
//
// Waiting goes through a signal channel so the loop can select on it
// together with its context.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue. It returns false once the
// queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Buffer of one coalesces wakeups.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Clear the slot so the backing array does not pin the payload.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further events and wakes waiters. Events already queued
// can still be dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
