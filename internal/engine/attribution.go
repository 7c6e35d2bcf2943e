package engine

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/attend/internal/ir"
)

// Attribution decides which tab holds the user's attention and charges
// elapsed time to it.
//
// Invariant: since is the time of the most recent transition into the
// current resource. Every change of resource first commits the dwell time
// of the previous one, so consecutive spans tile the timeline without gaps
// or overlap.
//
// Owned by the engine loop; not safe for concurrent use.
type Attribution struct {
	clock   clockwork.Clock
	acc     *Accumulator
	current *ir.Tab
	since   time.Time
}

// NewAttribution creates a state machine with no current resource.
func NewAttribution(clock clockwork.Clock, acc *Accumulator) *Attribution {
	return &Attribution{clock: clock, acc: acc, since: clock.Now()}
}

// Current returns the tab currently holding attention.
func (a *Attribution) Current() (ir.Tab, bool) {
	if a.current == nil {
		return ir.Tab{}, false
	}
	return *a.current, true
}

// Since returns when attention moved to the current resource.
func (a *Attribution) Since() time.Time {
	return a.since
}

// TransitionTo moves attention to next, or to nobody when next is nil. It
// reports whether attention actually changed.
//
// Moving to the resource that already holds attention is a no-op: nothing
// is committed and the start time is kept, so duplicate notifications never
// truncate a dwell. The stored tab is refreshed so that its placement stays
// current.
func (a *Attribution) TransitionTo(next *ir.Tab) bool {
	if sameResource(a.current, next) {
		if next != nil {
			t := *next
			a.current = &t
		}
		return false
	}

	now := a.clock.Now()
	a.commit(now)
	if next == nil {
		a.current = nil
	} else {
		t := *next
		a.current = &t
	}
	a.since = now
	return true
}

// CloseOut commits the current resource's dwell up to now and restarts its
// span, without changing who holds attention. It is the step before a drain
// so a still-active resource is not under-counted.
func (a *Attribution) CloseOut() {
	now := a.clock.Now()
	a.commit(now)
	a.since = now
}

// commit charges the open span to the current resource. Empty spans are
// not recorded, so a flush right after another one stays empty.
func (a *Attribution) commit(now time.Time) {
	if a.current == nil {
		return
	}
	if d := now.Sub(a.since); d != 0 {
		a.acc.Commit(a.current.Key(), d)
	}
}

func sameResource(cur, next *ir.Tab) bool {
	if cur == nil || next == nil {
		return cur == nil && next == nil
	}
	return cur.Key() == next.Key()
}
