package engine

import "time"

// Accumulator sums active durations per resource key over the open
// interval. It is owned by the engine loop and not safe for concurrent use;
// Drain therefore cannot interleave with a Commit.
type Accumulator struct {
	totals map[string]time.Duration
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{totals: make(map[string]time.Duration)}
}

// Commit adds d to key. Repeated commits for a key within an interval sum.
// A negative d, which only a clock stepping backwards can produce, counts
// as zero.
func (a *Accumulator) Commit(key string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	a.totals[key] += d
}

// Drain returns the accumulated totals and starts a new, empty interval.
func (a *Accumulator) Drain() map[string]time.Duration {
	out := a.totals
	a.totals = make(map[string]time.Duration)
	return out
}

// Len returns the number of keys in the open interval.
func (a *Accumulator) Len() int {
	return len(a.totals)
}

// Total returns the sum over all keys of the open interval.
func (a *Accumulator) Total() time.Duration {
	var sum time.Duration
	for _, d := range a.totals {
		sum += d
	}
	return sum
}
