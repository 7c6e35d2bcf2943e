package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/attend/internal/ir"
	"github.com/roach88/attend/internal/platform"
	"github.com/roach88/attend/internal/timer"
)

// Sender delivers messages to the consumer. Implemented by
// dispatch.Dispatcher.
type Sender interface {
	Send(ctx context.Context, msg ir.Message) error
	Connected() bool
}

// FlushJournal records the totals of every flushed interval.
type FlushJournal interface {
	RecordFlush(ctx context.Context, totals map[string]time.Duration) error
}

const (
	// DefaultDebounce is the quiet period before a changed tab is injected.
	DefaultDebounce = 5 * time.Second
	// DefaultFocusPoll is the period of the focus-loss safety poll.
	DefaultFocusPoll = 500 * time.Millisecond
)

// DefaultIgnoredPrefixes lists the URLs that are never instrumented.
var DefaultIgnoredPrefixes = []string{"chrome://"}

// Engine is the single-writer attribution loop.
//
// Platform signals, due injections and channel notifications are queued and
// handled one at a time by Run, in arrival order. The interval timer runs in
// its own goroutine and only hands Timeout messages back to the loop. All
// attribution, accumulator, document and debounce state is touched
// exclusively by the loop goroutine.
//
// Thread-safety model:
//   - Enqueue, Deliver, NotifyDisconnect, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Bootstrap, Process, ProcessPending, Flush, PollFocus: loop-only; they
//     are exported so a caller that does not use Run (the scenario harness)
//     can drive the loop synchronously
type Engine struct {
	clock     clockwork.Clock
	platform  platform.Platform
	injector  platform.Injector
	sender    Sender
	journal   FlushJournal
	logger    *slog.Logger
	interval  time.Duration
	debounce  time.Duration
	pollEvery time.Duration
	ignored   []string

	queue       *eventQueue
	timer       *timer.Context
	acc         *Accumulator
	attribution *Attribution
	docs        *Documents
	debouncer   *Debouncer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the wall clock. Tests pass a clockwork fake clock.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithInterval sets the flush interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithDebounce sets the injection quiet period.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.debounce = d }
}

// WithFocusPoll sets the focus-loss poll period.
func WithFocusPoll(d time.Duration) Option {
	return func(e *Engine) { e.pollEvery = d }
}

// WithIgnoredPrefixes replaces the URL prefixes that are never injected.
func WithIgnoredPrefixes(prefixes []string) Option {
	return func(e *Engine) { e.ignored = append([]string(nil), prefixes...) }
}

// WithFlushJournal records flushed totals in j.
func WithFlushJournal(j FlushJournal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine that queries p, injects through inj and sends
// through sender.
func New(p platform.Platform, inj platform.Injector, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		clock:     clockwork.NewRealClock(),
		platform:  p,
		injector:  inj,
		sender:    sender,
		logger:    slog.Default(),
		interval:  timer.DefaultInterval,
		debounce:  DefaultDebounce,
		pollEvery: DefaultFocusPoll,
		ignored:   DefaultIgnoredPrefixes,
		queue:     newEventQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.acc = NewAccumulator()
	e.attribution = NewAttribution(e.clock, e.acc)
	e.docs = NewDocuments()
	e.debouncer = NewDebouncer(e.clock, func(inj Injection) {
		e.queue.Enqueue(Event{Type: EventTypeInjection, Injection: &inj})
	})
	e.timer = timer.New(e.clock, e.interval, timer.WithLogger(e.logger))
	return e
}

// Enqueue submits an event to the loop. It returns false once the engine
// has stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Deliver submits a platform signal to the loop.
func (e *Engine) Deliver(sig ir.Signal) bool {
	return e.queue.Enqueue(SignalEvent(sig))
}

// NotifyDisconnect tells the loop that the consumer channel was lost.
func (e *Engine) NotifyDisconnect(reason string) {
	e.queue.Enqueue(Event{Type: EventTypeDisconnected, Reason: reason})
}

// Stop makes Run return after the events already queued were handled.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Run bootstraps attribution, starts the interval timer and the focus poll,
// and processes events until ctx is cancelled or Stop is called. On the way
// out the open interval is flushed once if the channel is still connected.
//
// ERROR HANDLING: a failed event is logged with its context and the loop
// continues. No failure is fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		"interval", e.interval,
		"debounce", e.debounce,
		"focus_poll", e.pollEvery,
	)

	// The timer outlives ctx so that shutdown can still send it Stop.
	timerCtx, cancelTimer := context.WithCancel(context.WithoutCancel(ctx))
	timerDone := make(chan struct{})
	go func() {
		defer close(timerDone)
		_ = e.timer.Run(timerCtx)
	}()
	defer func() {
		cancelTimer()
		<-timerDone
	}()

	e.Bootstrap(ctx)
	if err := e.timer.Post(ctx, timer.Message{Type: timer.Start}); err != nil {
		return fmt.Errorf("start interval timer: %w", err)
	}

	poll := e.clock.NewTicker(e.pollEvery)
	defer poll.Stop()

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.handle(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.shutdown(context.WithoutCancel(ctx))
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				e.shutdown(ctx)
				return nil
			}

		case <-poll.Chan():
			e.PollFocus(ctx)

		case <-e.timer.Timeouts():
			if err := e.Flush(ctx); err != nil {
				e.logger.Warn("interval flush failed", "error", err)
			}
		}
	}
}

func (e *Engine) shutdown(ctx context.Context) {
	if err := e.timer.Post(ctx, timer.Message{Type: timer.Stop}); err != nil {
		e.logger.Debug("interval timer stop not delivered", "error", err)
	}
	e.debouncer.CancelAll()
	if e.sender.Connected() {
		if err := e.Flush(ctx); err != nil {
			e.logger.Warn("final flush failed", "error", err)
		}
	} else {
		e.logger.Info("skipping final flush: consumer channel not connected")
	}
	e.queue.Close()
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	if err := e.Process(ctx, ev); err != nil {
		e.logEventError(ev, err)
	}
}

// ProcessPending handles every queued event and returns how many there were.
func (e *Engine) ProcessPending(ctx context.Context) int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.handle(ctx, ev)
		n++
	}
}

// Bootstrap adopts the active tab of the last focused window as the current
// resource, without charging anyone, and injects the content script into
// every existing tab that is not ignored.
func (e *Engine) Bootstrap(ctx context.Context) {
	if w, ok := e.platform.LastFocused(ctx); ok {
		if tab, ok := w.ActiveTab(); ok {
			e.transition(&tab, "startup")
		}
	}
	for _, w := range e.platform.Windows(ctx) {
		for _, tab := range w.Tabs {
			if tab.HasPrefix(e.ignored) {
				continue
			}
			if err := e.inject(ctx, tab.ID); err != nil {
				e.logger.Warn("startup injection failed", "tab_id", tab.ID, "error", err)
			}
		}
	}
}

// Process handles one event.
func (e *Engine) Process(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeSignal:
		if ev.Signal == nil {
			return &RuntimeError{Code: ErrCodeUnknownEvent, Message: "signal event missing signal data"}
		}
		return e.processSignal(ctx, *ev.Signal)

	case EventTypeInjection:
		if ev.Injection == nil {
			return &RuntimeError{Code: ErrCodeUnknownEvent, Message: "injection event missing injection data"}
		}
		if !e.debouncer.Complete(*ev.Injection) {
			e.logger.Debug("stale injection ignored", "tab_id", ev.Injection.TabID)
			return nil
		}
		return e.inject(ctx, ev.Injection.TabID)

	case EventTypeDisconnected:
		e.logger.Warn("consumer channel lost, messages will be dropped", "reason", ev.Reason)
		return nil

	default:
		return &RuntimeError{Code: ErrCodeUnknownEvent, Message: fmt.Sprintf("unknown event type: %d", ev.Type)}
	}
}

func (e *Engine) processSignal(ctx context.Context, sig ir.Signal) error {
	if err := sig.Validate(); err != nil {
		return &RuntimeError{Code: ErrCodeUnknownEvent, Message: "invalid signal", TabID: sig.TabID, Err: err}
	}

	switch sig.Type {
	case ir.SignalTabActivated:
		return e.onTabActivated(ctx, sig.TabID)
	case ir.SignalWindowFocusChanged:
		return e.onFocusChanged(ctx, sig.WindowID)
	case ir.SignalTabCreated:
		return e.onTabCreated(ctx, *sig.Tab)
	case ir.SignalTabUpdated:
		tab := *sig.Tab
		if sig.TabID != 0 {
			tab.ID = sig.TabID
		}
		return e.onTabUpdated(*sig.ChangeInfo, tab)
	case ir.SignalTabRemoved:
		return e.onTabRemoved(ctx, sig.TabID)
	case ir.SignalDownloadChanged:
		return e.onDownloadChanged(ctx, *sig.Delta)
	case ir.SignalDocument:
		return e.onDocument(ctx, sig.TabID, *sig.Document)
	case ir.SignalProcess:
		return e.onProcess(ctx, sig.TabID, sig.PID)
	default:
		// windows and download only update the platform snapshot.
		return nil
	}
}

// onTabActivated accepts an activation only inside the focused window. A
// background window switching tabs must not steal attention.
func (e *Engine) onTabActivated(ctx context.Context, tabID int) error {
	w, ok := e.platform.LastFocused(ctx)
	if !ok {
		e.transition(nil, "tab activated without a focused window")
		return NewResolutionError("last focused window", tabID)
	}
	tab, ok := e.platform.Tab(ctx, tabID)
	if !ok {
		e.transition(nil, "activated tab vanished")
		return NewResolutionError("tab", tabID)
	}
	if tab.WindowID != w.ID || !w.Focused {
		e.logger.Debug("activation outside focused window ignored", "tab_id", tabID, "window_id", tab.WindowID)
		return nil
	}
	e.transition(&tab, "tab activated")
	return nil
}

func (e *Engine) onFocusChanged(ctx context.Context, windowID int) error {
	if windowID == ir.WindowIDNone {
		e.transition(nil, "browser lost focus")
		return nil
	}
	w, ok := e.platform.Window(ctx, windowID)
	if !ok {
		e.transition(nil, "focused window vanished")
		err := NewResolutionError("window", 0)
		err.Details = map[string]string{"window_id": fmt.Sprint(windowID)}
		return err
	}
	tab, ok := w.ActiveTab()
	if !ok {
		e.transition(nil, "focused window has no active tab")
		return nil
	}
	e.transition(&tab, "window focused")
	return nil
}

func (e *Engine) onTabCreated(ctx context.Context, tab ir.Tab) error {
	if tab.HasPrefix(e.ignored) {
		return nil
	}
	return e.inject(ctx, tab.ID)
}

// onTabUpdated handles navigation. Only the attributed tab is re-attributed
// to its new URL; every navigated tab gets a debounced injection.
func (e *Engine) onTabUpdated(change ir.ChangeInfo, tab ir.Tab) error {
	if change.URL == "" || ir.HasAnyPrefix(change.URL, e.ignored) {
		return nil
	}
	if cur, ok := e.attribution.Current(); ok && cur.ID == tab.ID {
		tab.URL = change.URL
		e.transition(&tab, "url changed")
	}
	e.debouncer.Schedule(tab.ID, e.debounce)
	return nil
}

func (e *Engine) onTabRemoved(ctx context.Context, tabID int) error {
	e.debouncer.Cancel(tabID)
	msg, ok := e.docs.Leave(tabID)
	if !ok {
		e.logger.Debug("no leave due for removed tab", "tab_id", tabID)
		return nil
	}
	return e.send(ctx, msg)
}

func (e *Engine) onDownloadChanged(ctx context.Context, delta ir.DownloadDelta) error {
	if !delta.Completed() {
		return nil
	}
	item, ok := e.platform.Download(ctx, delta.ID)
	if !ok {
		err := NewResolutionError("download", 0)
		err.Details = map[string]string{"download_id": fmt.Sprint(delta.ID)}
		return err
	}
	return e.send(ctx, ir.NewDownload(item))
}

// onDocument handles the content script's report of a loaded document. The
// tab's previous document is left, and the new one is accessed as soon as
// its renderer process is known.
func (e *Engine) onDocument(ctx context.Context, tabID int, doc ir.Document) error {
	tab, ok := e.platform.Tab(ctx, tabID)
	if !ok {
		return NewResolutionError("reporting tab", tabID)
	}

	var errs []error
	if leave, ok := e.docs.Report(doc, tab); ok {
		errs = append(errs, e.send(ctx, leave))
	}
	if pid, ok := e.platform.ProcessID(ctx, tabID); ok {
		errs = append(errs, e.access(ctx, tabID, pid))
	} else {
		e.logger.Debug("access waits for renderer process", "tab_id", tabID)
	}
	return errors.Join(errs...)
}

func (e *Engine) onProcess(ctx context.Context, tabID, pid int) error {
	if !e.docs.Waiting(tabID) {
		return nil
	}
	return e.access(ctx, tabID, pid)
}

func (e *Engine) access(ctx context.Context, tabID, pid int) error {
	msg, ok := e.docs.Resolve(tabID, pid)
	if !ok {
		e.logger.Debug("access suppressed", "error", NewDuplicateError("access", tabID))
		return nil
	}
	return e.send(ctx, msg)
}

// PollFocus is the focus-loss safety net: focus notifications are not
// delivered on every path, so attention is dropped whenever no browser
// window has focus.
func (e *Engine) PollFocus(ctx context.Context) {
	if _, ok := e.attribution.Current(); !ok {
		return
	}
	if !platform.HasFocus(ctx, e.platform) {
		e.transition(nil, "focus poll")
	}
}

// Flush closes out the current span, drains the accumulator and sends the
// totals. An empty interval sends nothing.
func (e *Engine) Flush(ctx context.Context) error {
	e.attribution.CloseOut()
	totals := e.acc.Drain()
	if len(totals) == 0 {
		return nil
	}
	if e.journal != nil {
		if err := e.journal.RecordFlush(ctx, totals); err != nil {
			e.logger.Warn("journal flush write failed", "error", err)
		}
	}
	e.logger.Debug("flushing interval", "resources", len(totals))
	return e.send(ctx, ir.NewActiveTabs(totals))
}

func (e *Engine) transition(next *ir.Tab, cause string) {
	prev, hadPrev := e.attribution.Current()
	since := e.attribution.Since()
	if !e.attribution.TransitionTo(next) {
		return
	}
	attrs := []any{"cause", cause}
	if hadPrev {
		attrs = append(attrs, "from", prev.Key(), "dwell", e.attribution.Since().Sub(since))
	}
	if next != nil {
		attrs = append(attrs, "to", next.Key(), "tab_id", next.ID)
	}
	e.logger.Debug("attention moved", attrs...)
}

func (e *Engine) send(ctx context.Context, msg ir.Message) error {
	if err := e.sender.Send(ctx, msg); err != nil {
		return NewChannelError(string(msg.Type), err)
	}
	return nil
}

func (e *Engine) inject(ctx context.Context, tabID int) error {
	if err := e.injector.Inject(ctx, tabID); err != nil {
		return NewInjectionError(tabID, err)
	}
	return nil
}

// Current returns the tab holding attention.
func (e *Engine) Current() (ir.Tab, bool) {
	return e.attribution.Current()
}

// Document returns the document tracked for a tab.
func (e *Engine) Document(tabID int) (ir.Document, bool) {
	return e.docs.Get(tabID)
}

// PendingInjections returns the number of scheduled injections.
func (e *Engine) PendingInjections() int {
	return e.debouncer.Pending()
}

// InjectionsDue returns how many scheduled injections have reached their
// deadline on the engine clock.
func (e *Engine) InjectionsDue() int {
	return e.debouncer.Due(e.clock.Now())
}

// QueueLen returns the number of queued events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// logEventError logs a failed event with enough context to investigate it.
// Expected degradations are logged below error level.
func (e *Engine) logEventError(ev Event, err error) {
	level := slog.LevelError
	switch {
	case IsResolutionError(err), IsDuplicateError(err):
		level = slog.LevelDebug
	case IsChannelError(err), IsInjectionError(err):
		level = slog.LevelWarn
	}

	attrs := []any{"error", err, "event_type", ev.Type.String()}
	switch ev.Type {
	case EventTypeSignal:
		if ev.Signal != nil {
			attrs = append(attrs, "signal", ev.Signal.Type, "tab_id", ev.Signal.TabID)
		}
	case EventTypeInjection:
		if ev.Injection != nil {
			attrs = append(attrs, "tab_id", ev.Injection.TabID)
		}
	case EventTypeDisconnected:
		attrs = append(attrs, "reason", ev.Reason)
	}
	e.logger.Log(context.Background(), level, "event processing failed", attrs...)
}
