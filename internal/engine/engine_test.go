package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attend/internal/dispatch"
	"github.com/roach88/attend/internal/ir"
	"github.com/roach88/attend/internal/platform"
)

type recordingSender struct {
	mu           sync.Mutex
	msgs         []ir.Message
	disconnected bool
}

func (s *recordingSender) Send(_ context.Context, msg ir.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return dispatch.ErrDisconnected
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disconnected
}

func (s *recordingSender) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
}

func (s *recordingSender) messages() []ir.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.Message(nil), s.msgs...)
}

func (s *recordingSender) ofType(typ ir.MessageType) []ir.Message {
	var out []ir.Message
	for _, m := range s.messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type recordingInjector struct {
	mu   sync.Mutex
	tabs []int
	err  error
}

func (i *recordingInjector) Inject(_ context.Context, tabID int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tabs = append(i.tabs, tabID)
	return i.err
}

func (i *recordingInjector) injected() []int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]int(nil), i.tabs...)
}

type flushRecorder struct {
	flushes []map[string]time.Duration
}

func (r *flushRecorder) RecordFlush(_ context.Context, totals map[string]time.Duration) error {
	r.flushes = append(r.flushes, totals)
	return nil
}

type fixture struct {
	engine   *Engine
	browser  *platform.Browser
	clock    *clockwork.FakeClock
	sender   *recordingSender
	injector *recordingInjector
	journal  *flushRecorder
}

const (
	urlA = "https://a.example"
	urlB = "https://b.example"
	urlC = "https://c.example"
)

// twoWindows: window 1 (focused) has tabs 10 (a, active) and 11 (b);
// window 2 has tab 20 (c, active) and a chrome:// tab.
func twoWindows() []ir.Window {
	return []ir.Window{
		{ID: 1, Focused: true, Tabs: []ir.Tab{
			{ID: 10, Index: 0, URL: urlA, Active: true},
			{ID: 11, Index: 1, URL: urlB},
		}},
		{ID: 2, Tabs: []ir.Tab{
			{ID: 20, Index: 0, URL: urlC, Active: true},
			{ID: 21, Index: 1, URL: "chrome://settings"},
		}},
	}
}

func newFixture(t *testing.T, start time.Time, windows []ir.Window) *fixture {
	t.Helper()
	f := &fixture{
		browser:  platform.NewBrowser(),
		clock:    clockwork.NewFakeClockAt(start),
		sender:   &recordingSender{},
		injector: &recordingInjector{},
		journal:  &flushRecorder{},
	}
	require.NoError(t, f.browser.Apply(ir.Signal{Type: ir.SignalWindows, Windows: windows}))
	f.engine = New(f.browser, f.injector, f.sender,
		WithClock(f.clock),
		WithFlushJournal(f.journal),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return f
}

// signal applies sig to the browser and has the engine process it.
func (f *fixture) signal(t *testing.T, sig ir.Signal) error {
	t.Helper()
	require.NoError(t, f.browser.Apply(sig))
	return f.engine.Process(context.Background(), SignalEvent(sig))
}

func (f *fixture) flush(t *testing.T) map[string]float64 {
	t.Helper()
	before := len(f.sender.ofType(ir.MessageActiveTabs))
	require.NoError(t, f.engine.Flush(context.Background()))
	after := f.sender.ofType(ir.MessageActiveTabs)
	if len(after) == before {
		return nil
	}
	return after[len(after)-1].Info
}

func TestEngine_BootstrapAdoptsActiveTabAndInjects(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())

	cur, ok := f.engine.Current()
	require.True(t, ok)
	assert.Equal(t, 10, cur.ID)
	assert.ElementsMatch(t, []int{10, 11, 20}, f.injector.injected(), "chrome:// tabs are not injected")

	// Adoption charges nobody.
	assert.Nil(t, f.flush(t))
}

func TestEngine_TabActivationInFocusedWindow(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())

	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabActivated, TabID: 11, WindowID: 1}))
	f.clock.Advance(4 * time.Second)

	assert.Equal(t, map[string]float64{urlA: 10, urlB: 4}, f.flush(t))
}

func TestEngine_ActivationInBackgroundWindowIgnored(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.browser.Apply(ir.Signal{
		Type: ir.SignalTabCreated,
		Tab:  &ir.Tab{ID: 22, WindowID: 2, Index: 2, URL: urlB},
	}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabActivated, TabID: 22, WindowID: 2}))
	f.clock.Advance(5 * time.Second)

	cur, ok := f.engine.Current()
	require.True(t, ok)
	assert.Equal(t, 10, cur.ID)
	assert.Equal(t, map[string]float64{urlA: 10}, f.flush(t))
}

func TestEngine_ActivationOfUnknownTabAttributesNone(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())
	f.clock.Advance(3 * time.Second)

	err := f.engine.Process(context.Background(), SignalEvent(ir.Signal{Type: ir.SignalTabActivated, TabID: 404}))
	assert.True(t, IsResolutionError(err))

	_, ok := f.engine.Current()
	assert.False(t, ok)
	f.clock.Advance(time.Minute)
	assert.Equal(t, map[string]float64{urlA: 3}, f.flush(t))
}

func TestEngine_WindowFocusChanges(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())

	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalWindowFocusChanged, WindowID: 2}))
	cur, _ := f.engine.Current()
	assert.Equal(t, 20, cur.ID)

	f.clock.Advance(3 * time.Second)
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalWindowFocusChanged, WindowID: ir.WindowIDNone}))
	_, ok := f.engine.Current()
	assert.False(t, ok)

	f.clock.Advance(time.Minute)
	assert.Equal(t, map[string]float64{urlA: 2, urlC: 3}, f.flush(t))
}

func TestEngine_FocusPollDropsAttention(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())

	f.clock.Advance(time.Second)
	f.engine.PollFocus(context.Background())
	_, ok := f.engine.Current()
	assert.True(t, ok, "focused browser keeps attention")

	// Focus leaves the browser without a focus-change being processed.
	require.NoError(t, f.browser.Apply(ir.Signal{Type: ir.SignalWindowFocusChanged, WindowID: ir.WindowIDNone}))
	f.clock.Advance(500 * time.Millisecond)
	f.engine.PollFocus(context.Background())
	_, ok = f.engine.Current()
	assert.False(t, ok)

	f.clock.Advance(time.Minute)
	assert.Equal(t, map[string]float64{urlA: 1.5}, f.flush(t))
}

func TestEngine_URLChangeReattributesCurrentTab(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())

	f.clock.Advance(6 * time.Second)
	require.NoError(t, f.signal(t, ir.Signal{
		Type:       ir.SignalTabUpdated,
		TabID:      10,
		ChangeInfo: &ir.ChangeInfo{URL: urlC},
		Tab:        &ir.Tab{ID: 10, WindowID: 1, URL: urlC, Active: true},
	}))
	// A background tab navigating does not steal attention.
	require.NoError(t, f.signal(t, ir.Signal{
		Type:       ir.SignalTabUpdated,
		TabID:      11,
		ChangeInfo: &ir.ChangeInfo{URL: "https://d.example"},
		Tab:        &ir.Tab{ID: 11, WindowID: 1, Index: 1, URL: "https://d.example"},
	}))
	f.clock.Advance(4 * time.Second)

	assert.Equal(t, map[string]float64{urlA: 6, urlC: 4}, f.flush(t))
	assert.Equal(t, 2, f.engine.PendingInjections())
}

func TestEngine_IgnoredAndStatusOnlyUpdates(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())

	require.NoError(t, f.signal(t, ir.Signal{
		Type:       ir.SignalTabUpdated,
		TabID:      10,
		ChangeInfo: &ir.ChangeInfo{Status: "complete"},
		Tab:        &ir.Tab{ID: 10, WindowID: 1, URL: urlA, Active: true},
	}))
	require.NoError(t, f.signal(t, ir.Signal{
		Type:       ir.SignalTabUpdated,
		TabID:      11,
		ChangeInfo: &ir.ChangeInfo{URL: "chrome://newtab/"},
		Tab:        &ir.Tab{ID: 11, WindowID: 1, Index: 1, URL: "chrome://newtab/"},
	}))
	assert.Equal(t, 0, f.engine.PendingInjections())
}

func TestEngine_DebouncedInjectionThroughQueue(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	update := ir.Signal{
		Type:       ir.SignalTabUpdated,
		TabID:      11,
		ChangeInfo: &ir.ChangeInfo{URL: "https://d.example"},
		Tab:        &ir.Tab{ID: 11, WindowID: 1, Index: 1, URL: "https://d.example"},
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.signal(t, update))
		f.clock.Advance(time.Second)
	}
	assert.Empty(t, f.injector.injected())

	f.clock.Advance(DefaultDebounce)
	assert.Eventually(t, func() bool { return f.engine.QueueLen() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.engine.ProcessPending(context.Background()))

	assert.Equal(t, []int{11}, f.injector.injected())
	assert.Equal(t, 0, f.engine.PendingInjections())
}

func TestEngine_TabCreatedInjectsImmediately(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())

	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabCreated, Tab: &ir.Tab{ID: 30, WindowID: 1, URL: urlB}}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabCreated, Tab: &ir.Tab{ID: 31, WindowID: 1, URL: "chrome://newtab/"}}))

	assert.Equal(t, []int{30}, f.injector.injected())
}

func TestEngine_InjectionFailureIsReported(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.injector.err = errors.New("no permission")

	err := f.signal(t, ir.Signal{Type: ir.SignalTabCreated, Tab: &ir.Tab{ID: 30, WindowID: 1, URL: urlB}})
	assert.True(t, IsInjectionError(err))
}

func TestEngine_DocumentAccessAndLeave(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	doc := ir.Document{URL: urlA, Title: "A"}

	// The renderer process is not known yet: access waits.
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDocument, TabID: 10, Document: &doc}))
	assert.Empty(t, f.sender.messages())

	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalProcess, TabID: 10, PID: 300}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalProcess, TabID: 10, PID: 300}))
	access := f.sender.ofType(ir.MessageAccess)
	require.Len(t, access, 1, "duplicate access is suppressed")
	assert.Equal(t, 300, access[0].DocumentInfo.PID)
	assert.Equal(t, 1, access[0].DocumentInfo.WindowID)

	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabRemoved, TabID: 10}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabRemoved, TabID: 10}))
	leaves := f.sender.ofType(ir.MessageLeave)
	require.Len(t, leaves, 1)
	assert.Equal(t, 10, *leaves[0].TabID)
}

func TestEngine_NavigationLeavesPreviousDocument(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	require.NoError(t, f.browser.Apply(ir.Signal{Type: ir.SignalProcess, TabID: 11, PID: 500}))

	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDocument, TabID: 11, Document: &ir.Document{URL: urlB}}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDocument, TabID: 11, Document: &ir.Document{URL: urlC}}))

	var types []ir.MessageType
	for _, m := range f.sender.messages() {
		types = append(types, m.Type)
	}
	assert.Equal(t, []ir.MessageType{ir.MessageAccess, ir.MessageLeave, ir.MessageAccess}, types)
	assert.Equal(t, urlB, f.sender.messages()[1].DocumentInfo.URL)
	assert.Equal(t, urlC, f.sender.messages()[2].DocumentInfo.URL)
}

func TestEngine_NavigationWaitsForNewProcess(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalProcess, TabID: 11, PID: 500}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDocument, TabID: 11, Document: &ir.Document{URL: urlB}}))

	require.NoError(t, f.signal(t, ir.Signal{
		Type:       ir.SignalTabUpdated,
		TabID:      11,
		ChangeInfo: &ir.ChangeInfo{URL: urlC},
		Tab:        &ir.Tab{ID: 11, WindowID: 1, URL: urlC},
	}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDocument, TabID: 11, Document: &ir.Document{URL: urlC}}))

	// The old document is left; the new one waits for its renderer.
	var types []ir.MessageType
	for _, m := range f.sender.messages() {
		types = append(types, m.Type)
	}
	assert.Equal(t, []ir.MessageType{ir.MessageAccess, ir.MessageLeave}, types)

	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalProcess, TabID: 11, PID: 501}))
	access := f.sender.ofType(ir.MessageAccess)
	require.Len(t, access, 2)
	assert.Equal(t, urlC, access[1].DocumentInfo.URL)
	assert.Equal(t, 501, access[1].DocumentInfo.PID)
}

func TestEngine_LeaveWithoutAccessSendsNothing(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDocument, TabID: 20, Document: &ir.Document{URL: urlC}}))
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabRemoved, TabID: 20}))

	assert.Empty(t, f.sender.messages())
}

func TestEngine_DownloadCompleted(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	item := ir.DownloadItem{ID: 5, URL: "https://a.example/report.pdf", Filename: "/tmp/report.pdf", State: "in_progress"}
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDownload, Item: &item}))

	progress := &ir.DownloadDelta{ID: 5, State: &ir.StringDelta{Previous: "in_progress", Current: "interrupted"}}
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDownloadChanged, Delta: progress}))
	assert.Empty(t, f.sender.messages())

	done := &ir.DownloadDelta{ID: 5, State: &ir.StringDelta{Previous: "in_progress", Current: ir.DownloadStateComplete}}
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDownloadChanged, Delta: done}))

	downloads := f.sender.ofType(ir.MessageDownload)
	require.Len(t, downloads, 1)
	assert.Equal(t, "/tmp/report.pdf", downloads[0].Item.Filename)
	assert.Equal(t, ir.DownloadStateComplete, downloads[0].Item.State)

	missing := &ir.DownloadDelta{ID: 6, State: &ir.StringDelta{Current: ir.DownloadStateComplete}}
	err := f.signal(t, ir.Signal{Type: ir.SignalDownloadChanged, Delta: missing})
	assert.True(t, IsResolutionError(err))
}

func TestEngine_FlushJournalsTotals(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())
	f.clock.Advance(90 * time.Second)

	assert.Equal(t, map[string]float64{urlA: 90}, f.flush(t))
	require.Len(t, f.journal.flushes, 1)
	assert.Equal(t, 90*time.Second, f.journal.flushes[0][urlA])

	// Nothing happened since: nothing is sent or journaled.
	assert.Nil(t, f.flush(t))
	assert.Len(t, f.journal.flushes, 1)
}

func TestEngine_DisconnectDoesNotDisturbBookkeeping(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())
	f.engine.Bootstrap(context.Background())
	f.sender.disconnect()
	require.NoError(t, f.engine.Process(context.Background(), Event{Type: EventTypeDisconnected, Reason: dispatch.ReasonHostExited}))

	f.clock.Advance(10 * time.Second)
	err := f.engine.Flush(context.Background())
	assert.True(t, IsChannelError(err))
	assert.ErrorIs(t, err, dispatch.ErrDisconnected)

	// Attribution keeps working and the dropped interval is not carried over.
	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalTabActivated, TabID: 11, WindowID: 1}))
	cur, _ := f.engine.Current()
	assert.Equal(t, 11, cur.ID)
	require.Len(t, f.journal.flushes, 1)
	assert.Equal(t, 10*time.Second, f.journal.flushes[0][urlA])

	require.NoError(t, f.signal(t, ir.Signal{Type: ir.SignalDocument, TabID: 11, Document: &ir.Document{URL: urlB}}))
	require.NoError(t, f.browser.Apply(ir.Signal{Type: ir.SignalProcess, TabID: 11, PID: 9}))
	err = f.engine.Process(context.Background(), SignalEvent(ir.Signal{Type: ir.SignalProcess, TabID: 11, PID: 9}))
	assert.True(t, IsChannelError(err))
	doc, ok := f.engine.Document(11)
	require.True(t, ok)
	assert.True(t, doc.SentAccess, "the access attempt is not retried")
}

func TestEngine_UnknownEvent(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())

	err := f.engine.Process(context.Background(), Event{Type: EventType(99)})
	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeUnknownEvent, re.Code)

	err = f.engine.Process(context.Background(), Event{Type: EventTypeSignal})
	assert.Error(t, err)

	err = f.engine.Process(context.Background(), SignalEvent(ir.Signal{Type: "bogus"}))
	assert.Error(t, err)
}

func TestEngine_RunFlushesOnAlignedInterval(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 37, 0, time.UTC)
	f := newFixture(t, start, twoWindows())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	// The aligned first tick and the focus poll ticker.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 2))

	f.clock.Advance(83 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.sender.ofType(ir.MessageActiveTabs)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]float64{urlA: 83}, f.sender.ofType(ir.MessageActiveTabs)[0].Info)

	f.clock.Advance(120 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.sender.ofType(ir.MessageActiveTabs)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]float64{urlA: 120}, f.sender.ofType(ir.MessageActiveTabs)[1].Info)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Len(t, f.sender.ofType(ir.MessageActiveTabs), 2, "nothing left to flush on shutdown")
	assert.ElementsMatch(t, []int{10, 11, 20}, f.injector.injected())
}

func TestEngine_StopFlushesOpenInterval(t *testing.T) {
	f := newFixture(t, epoch, twoWindows())

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 2))

	f.clock.Advance(30 * time.Second)
	f.engine.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	tabs := f.sender.ofType(ir.MessageActiveTabs)
	require.Len(t, tabs, 1)
	assert.Equal(t, map[string]float64{urlA: 30}, tabs[0].Info)
	assert.False(t, f.engine.Deliver(ir.Signal{Type: ir.SignalTabRemoved, TabID: 10}))
}
