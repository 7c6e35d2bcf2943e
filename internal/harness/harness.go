package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/attend/internal/dispatch"
	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/ir"
	"github.com/roach88/attend/internal/platform"
	"github.com/roach88/attend/internal/store"
	"github.com/roach88/attend/internal/testutil"
	"github.com/roach88/attend/internal/timer"
)

// settleTimeout bounds the real time spent waiting for fake timer callbacks
// to reach the engine queue.
const settleTimeout = 2 * time.Second

// Harness drives one engine synchronously against a virtual clock.
//
// Production wiring is kept intact: signals go through platform.Browser,
// messages through a dispatch.Dispatcher into a journal. Only the edges are
// replaced: the consumer is a testutil.RecordingPort, the browser-side
// injector a testutil.RecordingInjector, and the journal an in-memory
// store.
type Harness struct {
	clock    *clockwork.FakeClock
	browser  *platform.Browser
	injector *testutil.RecordingInjector
	disp     *dispatch.Dispatcher
	engine   *engine.Engine
	store    *store.Store
	session  string
	debounce time.Duration
	logger   *slog.Logger

	injected int // injector calls already attributed to a step
}

// Run executes a scenario and returns the result.
//
// Each run uses a fresh in-memory journal, a fake clock starting at
// testutil.Epoch and a fixed session id, so identical scenarios produce
// identical results.
//
// Execution flow:
//  1. Load the initial window layout into the browser model
//  2. Bootstrap the engine (startup attribution and injections)
//  3. Execute the steps, settling due injections after each one
//  4. Read the journal back and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, scenario, st)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	result.Session = h.session

	h.engine.Bootstrap(ctx)
	if err := h.settle(ctx); err != nil {
		return nil, fmt.Errorf("startup: %w", err)
	}
	result.addInjections(0, h.takeInjections())

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		result.addInjections(i+1, h.takeInjections())
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, st *store.Store) (*Harness, error) {
	interval := timer.DefaultInterval
	if scenario.IntervalSeconds > 0 {
		interval = time.Duration(scenario.IntervalSeconds) * time.Second
	}
	debounce := engine.DefaultDebounce
	if scenario.DebounceMS != nil {
		debounce = time.Duration(*scenario.DebounceMS) * time.Millisecond
	}

	clock := testutil.NewFakeClock()
	session := testutil.NewFixedSessionGenerator(scenario.Session).Generate()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := st.BeginSession(ctx, store.Session{
		ID:        session,
		Consumer:  "harness",
		StartedAt: clock.Now(),
		Interval:  interval,
	})
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	journal := store.NewSessionJournal(st, session, clock)

	browser := platform.NewBrowser()
	if err := browser.Apply(ir.Signal{Type: ir.SignalWindows, Windows: toWindows(scenario.Windows)}); err != nil {
		return nil, fmt.Errorf("initial windows: %w", err)
	}

	h := &Harness{
		clock:    clock,
		browser:  browser,
		injector: testutil.NewRecordingInjector(clock),
		store:    st,
		session:  session,
		debounce: debounce,
		logger:   logger,
	}

	h.disp = dispatch.New(
		dispatch.WithJournal(journal, testutil.NewSequence()),
		dispatch.WithLogger(logger),
		dispatch.WithDisconnectHandler(func(reason string) {
			h.engine.NotifyDisconnect(reason)
		}),
	)
	h.disp.Attach(testutil.NewRecordingPort())

	opts := []engine.Option{
		engine.WithClock(clock),
		engine.WithInterval(interval),
		engine.WithDebounce(debounce),
		engine.WithFlushJournal(journal),
		engine.WithLogger(logger),
	}
	if scenario.IgnorePrefixes != nil {
		opts = append(opts, engine.WithIgnoredPrefixes(scenario.IgnorePrefixes))
	}
	h.engine = engine.New(browser, h.injector, h.disp, opts...)
	return h, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)

	case step.Signal != nil:
		sig, err := h.toSignal(ctx, step.Signal)
		if err != nil {
			return err
		}
		if err := h.browser.Apply(sig); err != nil {
			return err
		}
		h.engine.Deliver(sig)

	case step.Flush:
		if err := h.engine.Flush(ctx); err != nil {
			h.logger.Debug("flush not delivered", "error", err)
		}

	case step.Poll:
		h.engine.PollFocus(ctx)

	case step.Disconnect != "":
		h.disp.OnDisconnect(step.Disconnect)

	case step.FireInjections:
		h.clock.Advance(h.debounce)
	}
	return h.settle(ctx)
}

// settle processes queued events until nothing is queued and no scheduled
// injection is due. Due injections are delivered by fake timer callbacks
// on their own goroutines, so settle waits for them to be queued first.
func (h *Harness) settle(ctx context.Context) error {
	for {
		due := h.engine.InjectionsDue()
		if due > 0 {
			queued := testutil.WaitFor(func() bool { return h.engine.QueueLen() >= due }, settleTimeout)
			if !queued {
				return fmt.Errorf("timed out waiting for %d due injections", due)
			}
		}
		if h.engine.ProcessPending(ctx) == 0 && due == 0 {
			return nil
		}
	}
}

// takeInjections returns the injections made since the last call.
func (h *Harness) takeInjections() []InjectionEvent {
	calls := h.injector.Calls()
	var out []InjectionEvent
	for _, c := range calls[h.injected:] {
		out = append(out, InjectionEvent{AtMS: h.offset(c.At), TabID: c.TabID})
	}
	h.injected = len(calls)
	return out
}

func (h *Harness) offset(t time.Time) int64 {
	return t.Sub(testutil.Epoch).Milliseconds()
}

// toSignal builds the ir.Signal for a scripted notification, filling in
// what the real browser would report from the current layout.
func (h *Harness) toSignal(ctx context.Context, spec *SignalSpec) (ir.Signal, error) {
	sig := ir.Signal{Type: spec.Type, TabID: spec.TabID}

	switch spec.Type {
	case ir.SignalTabActivated:
		if tab, ok := h.browser.Tab(ctx, spec.TabID); ok {
			sig.WindowID = tab.WindowID
		}

	case ir.SignalWindowFocusChanged:
		sig.WindowID = spec.WindowID

	case ir.SignalTabCreated:
		tab := spec.Tab.toTab()
		sig.Tab = &tab

	case ir.SignalTabUpdated:
		tab, ok := h.browser.Tab(ctx, spec.TabID)
		if !ok {
			return ir.Signal{}, fmt.Errorf("tabUpdated: unknown tab %d", spec.TabID)
		}
		change := ir.ChangeInfo{URL: spec.URL, Status: spec.Status}
		if spec.URL != "" {
			tab.URL = spec.URL
		}
		if spec.Title != "" {
			tab.Title = spec.Title
		}
		if spec.Status != "" {
			tab.Status = spec.Status
		}
		sig.Tab = &tab
		sig.ChangeInfo = &change

	case ir.SignalWindows:
		sig.Windows = toWindows(spec.Windows)

	case ir.SignalDocument:
		sig.Document = &ir.Document{URL: spec.URL, Title: spec.Title, Referrer: spec.Referrer}

	case ir.SignalProcess:
		sig.PID = spec.PID

	case ir.SignalDownload:
		d := spec.Download
		state := d.State
		if state == "" {
			state = "in_progress"
		}
		sig.Item = &ir.DownloadItem{
			ID:         d.ID,
			URL:        d.URL,
			Filename:   d.Filename,
			Mime:       d.Mime,
			State:      state,
			TotalBytes: d.TotalBytes,
			FileSize:   d.TotalBytes,
		}

	case ir.SignalDownloadChanged:
		sig.Delta = &ir.DownloadDelta{ID: spec.DownloadID, State: &ir.StringDelta{Current: spec.State}}
	}
	return sig, nil
}

// collect reads the journal back into the result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	records, err := h.store.ListMessages(ctx, h.session)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	for _, rec := range records {
		msg, err := rec.Message()
		if err != nil {
			return err
		}
		result.Messages = append(result.Messages, MessageEvent{
			Seq:       rec.Seq,
			AtMS:      h.offset(rec.RecordedAt),
			Delivered: rec.Delivered,
			Message:   msg,
		})
	}

	intervals, err := h.store.ListIntervals(ctx, h.session)
	if err != nil {
		return fmt.Errorf("read intervals: %w", err)
	}
	for _, it := range intervals {
		n := len(result.Flushes)
		if n == 0 || result.Flushes[n-1].Flush != it.FlushSeq {
			result.Flushes = append(result.Flushes, FlushEvent{
				Flush:  it.FlushSeq,
				AtMS:   h.offset(it.FlushedAt),
				Active: make(map[string]int64),
			})
			n++
		}
		result.Flushes[n-1].Active[it.Resource] = it.Active.Milliseconds()
	}

	if tab, ok := h.engine.Current(); ok {
		result.Attention = tab.ID
	}
	result.Channel = string(h.disp.State())
	return nil
}
