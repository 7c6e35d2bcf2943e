package testutil

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the wall-clock start of every deterministic run. It sits
// exactly on an even minute, so the first aligned flush of a two-minute
// interval is two minutes later.
var Epoch = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

// NewFakeClock returns a clockwork fake clock set to Epoch.
func NewFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

// Sequence is a resettable logical clock that stamps journal records in
// tests. It satisfies dispatch.Sequencer.
//
// Unlike engine.Clock, Sequence can be reset so a scenario run twice yields
// identical seq values.
type Sequence struct {
	mu  sync.Mutex
	seq int64
}

// NewSequence creates a sequence whose first Next returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next increments and returns the next sequence number.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Current returns the last number handed out, or 0.
func (s *Sequence) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset starts the sequence over.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
}

// WaitFor polls cond in real time until it holds or timeout elapses, and
// reports whether it held. Fake clock callbacks run on their own
// goroutines, so their effects land shortly after Advance returns.
func WaitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
