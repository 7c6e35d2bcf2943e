package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/roach88/attend/internal/ir"
)

// Disconnect reasons reported by the stream transports.
const (
	ReasonHostExited    = "Native host has exited."
	ReasonCommunication = "Error when communicating with the native messaging host."
)

// Port is an open channel to the consumer.
type Port interface {
	// Post sends one message. It must not be called concurrently.
	Post(msg ir.Message) error
	// Close shuts the channel down without reporting a disconnect.
	Close() error
}

// Handlers receive channel notifications. Both are called from the
// transport's reader goroutine.
type Handlers struct {
	// OnMessage receives each frame sent by the consumer.
	OnMessage func(payload json.RawMessage)
	// OnDisconnect is called at most once, when the transport fails.
	OnDisconnect func(reason string)
}

// Connector opens a Port to the named consumer.
type Connector interface {
	Connect(ctx context.Context, name string, h Handlers) (Port, error)
}

// IsConnectionError reports whether err means the consumer is unreachable
// or went away.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnected) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// streamPort frames messages over a byte stream and watches the read side
// for the peer going away.
type streamPort struct {
	mu         sync.Mutex
	w          io.Writer
	closeFn    func() error
	maxPayload int

	closeOnce sync.Once
	closeErr  error
	closing   chan struct{}

	lostOnce sync.Once
	handlers Handlers
}

// newStreamPort starts reading frames from r. exitFn, when non-nil, runs on
// the reader goroutine after the stream ended and the loss was reported; it
// receives the read error.
func newStreamPort(r io.Reader, w io.Writer, closeFn func() error, exitFn func(readErr error), h Handlers) *streamPort {
	p := &streamPort{
		w:          w,
		closeFn:    closeFn,
		maxPayload: MaxMessageSize,
		closing:    make(chan struct{}),
		handlers:   h,
	}
	go p.readLoop(r, exitFn)
	return p
}

func (p *streamPort) readLoop(r io.Reader, exitFn func(readErr error)) {
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.lost(ReasonHostExited)
			} else {
				p.lost(ReasonCommunication)
			}
			if exitFn != nil {
				exitFn(err)
			}
			return
		}
		if p.handlers.OnMessage != nil {
			p.handlers.OnMessage(payload)
		}
	}
}

// lost reports a disconnect once, unless the port was closed locally.
func (p *streamPort) lost(reason string) {
	select {
	case <-p.closing:
		return
	default:
	}
	p.lostOnce.Do(func() {
		if p.handlers.OnDisconnect != nil {
			p.handlers.OnDisconnect(reason)
		}
	})
}

// Post writes msg as one frame. A message that cannot be encoded or is
// larger than the outbound cap is rejected before anything is written and
// leaves the channel usable. A failed write means the channel is gone.
func (p *streamPort) Post(msg ir.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	if len(payload) > p.maxPayload {
		return fmt.Errorf("%s message of %d bytes: %w", msg.Type, len(payload), ErrFrameTooLarge)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := WriteFrame(p.w, payload); err != nil {
		p.lost(ReasonCommunication)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (p *streamPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.closeErr = p.closeFn()
	})
	return p.closeErr
}
