package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Injection is a due injection request produced by the Debouncer. It
// carries the identity of the schedule that produced it, so a fire that
// raced with a reschedule can be told apart from the live one.
type Injection struct {
	TabID int
	token *pendingInjection
}

type pendingInjection struct {
	timer    clockwork.Timer
	deadline time.Time
}

// Debouncer keeps at most one pending injection per tab. Scheduling again
// replaces the pending one, so a burst of updates collapses into a single
// injection once the tab is quiet.
//
// Schedule, Cancel, CancelAll and Complete must be called from the engine
// loop. fire runs on a timer goroutine and must only hand the Injection
// back to the loop.
type Debouncer struct {
	clock   clockwork.Clock
	fire    func(Injection)
	pending map[int]*pendingInjection
}

// NewDebouncer creates a Debouncer that calls fire when a delay elapses.
func NewDebouncer(clock clockwork.Clock, fire func(Injection)) *Debouncer {
	return &Debouncer{
		clock:   clock,
		fire:    fire,
		pending: make(map[int]*pendingInjection),
	}
}

// Schedule cancels any pending injection for tabID and schedules a new one
// after delay.
func (d *Debouncer) Schedule(tabID int, delay time.Duration) {
	d.Cancel(tabID)
	p := &pendingInjection{deadline: d.clock.Now().Add(delay)}
	p.timer = d.clock.AfterFunc(delay, func() {
		d.fire(Injection{TabID: tabID, token: p})
	})
	d.pending[tabID] = p
}

// Cancel drops the pending injection for tabID. Safe to call when none is
// pending.
func (d *Debouncer) Cancel(tabID int) {
	if p, ok := d.pending[tabID]; ok {
		p.timer.Stop()
		delete(d.pending, tabID)
	}
}

// CancelAll drops every pending injection.
func (d *Debouncer) CancelAll() {
	for id := range d.pending {
		d.Cancel(id)
	}
}

// Complete clears the table entry for a fired injection. It returns false
// for a stale fire whose schedule was cancelled or replaced meanwhile; the
// caller must then not inject.
func (d *Debouncer) Complete(inj Injection) bool {
	p, ok := d.pending[inj.TabID]
	if !ok || p != inj.token {
		return false
	}
	delete(d.pending, inj.TabID)
	return true
}

// Pending returns the number of scheduled injections.
func (d *Debouncer) Pending() int {
	return len(d.pending)
}

// Due returns how many scheduled injections have reached their deadline
// at now.
func (d *Debouncer) Due(now time.Time) int {
	n := 0
	for _, p := range d.pending {
		if !p.deadline.After(now) {
			n++
		}
	}
	return n
}
