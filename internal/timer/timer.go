// Package timer implements the isolated interval context that drives the
// periodic flush of accumulated active durations.
//
// The context runs in its own goroutine and shares no memory with its owner.
// It understands exactly two inbound messages (Start, Stop) and produces one
// outbound message (Timeout). Flush timing therefore cannot be starved by
// the owner's event-processing load: ticks are produced on schedule and wait
// in a bounded mailbox until the owner is ready.
//
// The first Timeout after Start is aligned to the wall clock (see
// AlignmentDelay). Later ticks repeat at the fixed interval without
// re-alignment; drift over a long session is accepted.
package timer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// MessageType is the type of a control or result message.
type MessageType string

const (
	// Start (re)arms the interval: aligned first tick, then periodic ticks.
	Start MessageType = "Start"
	// Stop cancels any pending tick. Stopping a stopped context is a no-op.
	Stop MessageType = "Stop"
	// Timeout is emitted once per elapsed interval.
	Timeout MessageType = "Timeout"
)

// Message is the only value that crosses the context boundary.
type Message struct {
	Type MessageType `json:"type"`
}

// DefaultInterval is the flush interval used when none is configured.
const DefaultInterval = 120 * time.Second

// Context is the isolated interval scheduler. Create it with New, run it
// with Run, and talk to it only through Post and Timeouts.
type Context struct {
	clock    clockwork.Clock
	interval time.Duration
	in       chan Message
	out      chan Message
	logger   *slog.Logger
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		c.logger = l
	}
}

// New creates a stopped Context. The interval must be at least two
// nanoseconds, since alignment works on half-interval boundaries.
func New(clock clockwork.Clock, interval time.Duration, opts ...Option) *Context {
	if interval <= 1 {
		interval = DefaultInterval
	}
	c := &Context{
		clock:    clock,
		interval: interval,
		in:       make(chan Message, 2),
		out:      make(chan Message, 1),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval returns the configured tick period.
func (c *Context) Interval() time.Duration {
	return c.interval
}

// Post delivers a control message. It blocks only while the inbound mailbox
// is full, and returns ctx.Err() if ctx ends first.
func (c *Context) Post(ctx context.Context, msg Message) error {
	select {
	case c.in <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timeouts returns the outbound mailbox. It holds at most one pending
// Timeout; a tick produced while one is still pending is coalesced into it.
func (c *Context) Timeouts() <-chan Message {
	return c.out
}

// Run processes control messages and produces ticks until ctx is cancelled.
// Must be called from exactly one goroutine.
func (c *Context) Run(ctx context.Context) error {
	var (
		align  clockwork.Timer
		ticker clockwork.Ticker
		alignC <-chan time.Time
		tickC  <-chan time.Time
	)
	cancel := func() {
		if align != nil {
			align.Stop()
			align, alignC = nil, nil
		}
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-c.in:
			switch msg.Type {
			case Start:
				cancel()
				delay := AlignmentDelay(c.clock.Now(), c.interval)
				c.logger.Debug("interval timer armed", "delay", delay, "interval", c.interval)
				align = c.clock.NewTimer(delay)
				alignC = align.Chan()
			case Stop:
				cancel()
				c.logger.Debug("interval timer stopped")
			default:
				c.logger.Warn("ignoring unknown timer message", "type", msg.Type)
			}

		case <-alignC:
			align, alignC = nil, nil
			ticker = c.clock.NewTicker(c.interval)
			tickC = ticker.Chan()
			c.emit()

		case <-tickC:
			c.emit()
		}
	}
}

func (c *Context) emit() {
	select {
	case c.out <- Message{Type: Timeout}:
	default:
		c.logger.Debug("interval tick coalesced: previous timeout not consumed yet")
	}
}

// AlignmentDelay returns how long to wait before the first tick so that it
// lands on a wall-clock boundary.
//
// Boundaries are multiples of half the interval (one minute for the default
// two-minute interval). The first tick goes to the next boundary, or to the
// one after it when the next boundary has odd parity, so that with the
// default interval flushes happen on even minutes. Exactly on a boundary the
// wait is a full half-interval, never zero.
func AlignmentDelay(now time.Time, interval time.Duration) time.Duration {
	base := int64(interval / 2)
	if base <= 0 {
		return 0
	}
	n := now.UnixNano()
	rem := n % base
	if rem < 0 {
		rem += base
	}
	next := n - rem + base
	delay := time.Duration(next - n)
	if (next/base)%2 != 0 {
		delay += time.Duration(base)
	}
	return delay
}
