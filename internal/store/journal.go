package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/attend/internal/ir"
)

// SessionJournal binds a Store to one session. It serves as the
// dispatcher's message journal and the engine's flush journal.
type SessionJournal struct {
	store     *Store
	sessionID string
	clock     clockwork.Clock

	mu       sync.Mutex
	flushSeq int64
}

// NewSessionJournal returns a journal writing under sessionID. Wall-clock
// columns are stamped from clock.
func NewSessionJournal(s *Store, sessionID string, clock clockwork.Clock) *SessionJournal {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionJournal{store: s, sessionID: sessionID, clock: clock}
}

// SessionID returns the bound session id.
func (j *SessionJournal) SessionID() string {
	return j.sessionID
}

// RecordMessage implements dispatch.Journal.
func (j *SessionJournal) RecordMessage(ctx context.Context, seq int64, msg ir.Message, delivered bool) error {
	return j.store.RecordMessage(ctx, j.sessionID, seq, msg, delivered, j.clock.Now())
}

// RecordFlush implements engine.FlushJournal. Flushes are numbered from 1
// in call order.
func (j *SessionJournal) RecordFlush(ctx context.Context, totals map[string]time.Duration) error {
	j.mu.Lock()
	j.flushSeq++
	seq := j.flushSeq
	j.mu.Unlock()
	return j.store.RecordFlush(ctx, j.sessionID, seq, totals, j.clock.Now())
}
