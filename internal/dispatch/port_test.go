package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attend/internal/ir"
)

// syncBuffer is a bytes.Buffer safe to read while the port writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) frames(t *testing.T) []ir.Message {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	r := bytes.NewReader(b.buf.Bytes())
	var msgs []ir.Message
	for {
		payload, err := ReadFrame(r)
		if err == io.EOF {
			return msgs
		}
		require.NoError(t, err)
		var msg ir.Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		msgs = append(msgs, msg)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func openPort(t *testing.T, w io.Writer, c *collect) *streamPort {
	t.Helper()
	r, rw := io.Pipe()
	p := newStreamPort(r, w, func() error { return rw.Close() }, nil, c.handlers())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestStreamPort_OversizedMessageIsRejected(t *testing.T) {
	out := &syncBuffer{}
	c := newCollect()
	p := openPort(t, out, c)
	p.maxPayload = 256

	big := ir.NewAccess(ir.Document{ID: 1, URL: "data:text/plain," + strings.Repeat("x", 512)})
	err := p.Post(big)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.False(t, IsConnectionError(err))

	require.NoError(t, p.Post(ir.NewAccess(ir.Document{ID: 2, URL: "https://a.example/"})))
	msgs := out.frames(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].DocumentInfo.ID)
	assert.Empty(t, c.disconnects)
}

func TestStreamPort_DefaultCapAllowsLargeMessages(t *testing.T) {
	out := &syncBuffer{}
	p := openPort(t, out, newCollect())

	url := "data:text/plain," + strings.Repeat("x", 2*MaxFrameSize)
	require.NoError(t, p.Post(ir.NewAccess(ir.Document{ID: 1, URL: url})))
	msgs := out.frames(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, url, msgs[0].DocumentInfo.URL)
}

func TestStreamPort_WriteFailureIsDisconnect(t *testing.T) {
	c := newCollect()
	p := openPort(t, failingWriter{}, c)

	err := p.Post(ir.NewAccess(ir.Document{ID: 1, URL: "https://a.example/"}))
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, ReasonCommunication, <-c.disconnects)
}

func TestDispatcher_OversizedSendOverStream(t *testing.T) {
	out := &syncBuffer{}
	p := openPort(t, out, newCollect())
	p.maxPayload = 256

	d := New()
	d.Attach(p)

	big := ir.NewActiveTabs(map[string]time.Duration{"https://a.example/" + strings.Repeat("p", 512): time.Second})
	assert.ErrorIs(t, d.Send(context.Background(), big), ErrFrameTooLarge)
	assert.Equal(t, StateConnected, d.State())

	require.NoError(t, d.Send(context.Background(), ir.NewAccess(ir.Document{ID: 3, URL: "https://a.example/"})))
	msgs := out.frames(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, ir.MessageAccess, msgs[0].Type)
}
