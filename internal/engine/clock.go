package engine

import "sync/atomic"

// Clock is the logical sequence counter that orders journal records.
//
// Every message the dispatcher attempts to send is stamped with the next
// value, so the journal of a session can be read back in dispatch order
// regardless of wall-clock resolution.
//
// Thread-safety: safe for concurrent use. In practice only the engine loop
// calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that continues after start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
