package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/attend/internal/ir"
)

// ErrPortClosed is returned by RecordingPort.Post after Close. It wraps
// io.ErrClosedPipe so the dispatcher treats it as a lost channel.
var ErrPortClosed = fmt.Errorf("recording port closed: %w", io.ErrClosedPipe)

// RecordingPort is an in-memory consumer channel. It records every posted
// message and can be told to fail.
type RecordingPort struct {
	mu       sync.Mutex
	messages []ir.Message
	failWith error
	closed   bool
}

// NewRecordingPort creates an open port.
func NewRecordingPort() *RecordingPort {
	return &RecordingPort{}
}

// Post records msg, or returns the configured failure.
func (p *RecordingPort) Post(msg ir.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	if p.failWith != nil {
		return p.failWith
	}
	p.messages = append(p.messages, msg)
	return nil
}

// Close marks the port closed.
func (p *RecordingPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Fail makes subsequent posts return err. A nil err heals the port.
func (p *RecordingPort) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Messages returns a copy of the delivered messages.
func (p *RecordingPort) Messages() []ir.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ir.Message(nil), p.messages...)
}

// Closed reports whether Close was called.
func (p *RecordingPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// InjectCall is one recorded injection.
type InjectCall struct {
	TabID int
	At    time.Time
}

// RecordingInjector records injections with the clock time they happened.
type RecordingInjector struct {
	clock clockwork.Clock

	mu    sync.Mutex
	calls []InjectCall
	fail  map[int]error
}

// NewRecordingInjector creates an injector stamping calls from clock.
func NewRecordingInjector(clock clockwork.Clock) *RecordingInjector {
	return &RecordingInjector{clock: clock, fail: make(map[int]error)}
}

// Inject records the call, or returns the failure configured for tabID.
func (r *RecordingInjector) Inject(ctx context.Context, tabID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[tabID]; ok {
		return err
	}
	r.calls = append(r.calls, InjectCall{TabID: tabID, At: r.clock.Now()})
	return nil
}

// FailOn makes injections into tabID return err.
func (r *RecordingInjector) FailOn(tabID int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[tabID] = err
}

// Calls returns a copy of the recorded injections.
func (r *RecordingInjector) Calls() []InjectCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InjectCall(nil), r.calls...)
}
