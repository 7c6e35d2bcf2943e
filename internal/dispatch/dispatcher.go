package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/attend/internal/ir"
)

var (
	// ErrDisconnected is returned by Send once the channel has been lost.
	ErrDisconnected = errors.New("channel disconnected")
	// ErrNotConnected is returned by Send before a channel was established.
	ErrNotConnected = errors.New("channel not connected")
)

// State is the lifecycle state of the consumer channel.
type State string

const (
	StateIdle         State = "idle"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Journal records every message the dispatcher attempted to send.
type Journal interface {
	RecordMessage(ctx context.Context, seq int64, msg ir.Message, delivered bool) error
}

// Sequencer stamps journal records with increasing sequence numbers.
type Sequencer interface {
	Next() int64
}

// Dispatcher serializes messages onto the consumer channel and tracks its
// liveness.
//
// Thread-safety: Send is called from the engine loop; OnDisconnect may be
// called from the transport's reader goroutine.
type Dispatcher struct {
	mu     sync.Mutex
	state  State
	reason string
	port   Port

	journal      Journal
	seq          Sequencer
	logger       *slog.Logger
	onDisconnect func(reason string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithJournal records each send attempt in j. seq orders the records.
func WithJournal(j Journal, seq Sequencer) Option {
	return func(d *Dispatcher) {
		d.journal = j
		d.seq = seq
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithDisconnectHandler registers fn to be told about a lost channel, after
// the dispatcher has recorded it.
func WithDisconnectHandler(fn func(reason string)) Option {
	return func(d *Dispatcher) {
		d.onDisconnect = fn
	}
}

// New creates an idle Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		state:  StateIdle,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect opens the channel to the named consumer through c.
func (d *Dispatcher) Connect(ctx context.Context, c Connector, name string) error {
	port, err := c.Connect(ctx, name, Handlers{
		OnMessage:    d.receive,
		OnDisconnect: d.OnDisconnect,
	})
	if err != nil {
		return fmt.Errorf("connect consumer: %w", err)
	}
	d.Attach(port)
	d.logger.Info("consumer connected", "name", name)
	return nil
}

// Attach installs an already open port and marks the channel connected.
func (d *Dispatcher) Attach(p Port) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.port = p
	d.state = StateConnected
	d.reason = ""
}

// Send transmits msg. It fails with ErrNotConnected before Connect and with
// ErrDisconnected once the channel was lost; such failures are final for
// msg, which is neither queued nor retried. A message the port rejects
// without touching the transport, such as one over MaxMessageSize, fails
// alone and the channel stays connected.
func (d *Dispatcher) Send(ctx context.Context, msg ir.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	d.mu.Lock()
	state, port := d.state, d.port
	d.mu.Unlock()

	var err error
	switch state {
	case StateIdle:
		err = ErrNotConnected
	case StateDisconnected:
		err = ErrDisconnected
	default:
		if postErr := port.Post(msg); postErr != nil {
			err = d.postFailed(msg, postErr)
		}
	}

	d.record(ctx, msg, err == nil)
	if err != nil {
		return err
	}
	d.logger.Debug("message sent", "type", msg.Type)
	return nil
}

// postFailed classifies a Post error. Only a connection error ends the
// channel.
func (d *Dispatcher) postFailed(msg ir.Message, postErr error) error {
	if !IsConnectionError(postErr) {
		d.logger.Warn("message rejected by transport", "type", msg.Type, "error", postErr)
		return fmt.Errorf("send %s: %w", msg.Type, postErr)
	}
	d.OnDisconnect(ReasonCommunication)
	if errors.Is(postErr, ErrDisconnected) {
		return postErr
	}
	return fmt.Errorf("%w: %v", ErrDisconnected, postErr)
}

func (d *Dispatcher) record(ctx context.Context, msg ir.Message, delivered bool) {
	if d.journal == nil {
		return
	}
	var seq int64
	if d.seq != nil {
		seq = d.seq.Next()
	}
	if err := d.journal.RecordMessage(ctx, seq, msg, delivered); err != nil {
		d.logger.Warn("journal write failed", "type", msg.Type, "seq", seq, "error", err)
	}
}

// OnDisconnect marks the channel lost and records reason. Only the first
// call after a connect has any effect.
func (d *Dispatcher) OnDisconnect(reason string) {
	d.mu.Lock()
	if d.state == StateDisconnected {
		d.mu.Unlock()
		return
	}
	d.state = StateDisconnected
	d.reason = reason
	d.mu.Unlock()

	d.logger.Warn("consumer channel disconnected", "reason", reason)
	if d.onDisconnect != nil {
		d.onDisconnect(reason)
	}
}

func (d *Dispatcher) receive(payload json.RawMessage) {
	d.logger.Debug("message from consumer", "payload", string(payload))
}

// State returns the channel state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Connected reports whether sends can currently succeed.
func (d *Dispatcher) Connected() bool {
	return d.State() == StateConnected
}

// Reason returns the recorded disconnect reason, if any.
func (d *Dispatcher) Reason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// Close closes the port, if one is attached, and leaves the channel
// disconnected. The disconnect handler is not called.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	port := d.port
	d.port = nil
	if d.state == StateConnected {
		d.state = StateDisconnected
		d.reason = "closed"
	}
	d.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
