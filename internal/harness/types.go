package harness

import (
	"math"
	"sort"

	"github.com/roach88/attend/internal/ir"
)

// MessageEvent is one send attempt, as journaled by the dispatcher.
type MessageEvent struct {
	Seq       int64      `json:"seq"`
	AtMS      int64      `json:"at_ms"` // virtual milliseconds since the run started
	Delivered bool       `json:"delivered"`
	Message   ir.Message `json:"message"`
}

// InjectionEvent is one content script injection. Step 0 is startup.
type InjectionEvent struct {
	Step  int   `json:"step"`
	AtMS  int64 `json:"at_ms"`
	TabID int   `json:"tab_id"`
}

// FlushEvent is one flushed interval, as journaled by the engine.
type FlushEvent struct {
	Flush  int64            `json:"flush"`
	AtMS   int64            `json:"at_ms"`
	Active map[string]int64 `json:"active_ms"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Session is the dispatch session the run journaled under.
	Session string `json:"session"`

	// Messages lists every send attempt in seq order.
	Messages []MessageEvent `json:"messages"`

	// Injections lists every injection, ordered by step then tab.
	Injections []InjectionEvent `json:"injections"`

	// Flushes lists every non-empty flushed interval.
	Flushes []FlushEvent `json:"flushes"`

	// Attention is the tab holding attention after the last step, 0 for
	// none.
	Attention int `json:"attention"`

	// Channel is the final state of the consumer channel.
	Channel string `json:"channel"`

	// Errors lists failed assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Messages:   []MessageEvent{},
		Injections: []InjectionEvent{},
		Flushes:    []FlushEvent{},
		Errors:     []string{},
	}
}

// AddError records a failed assertion and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addInjections appends the injections of one step in tab order. Due
// injections are performed in timer firing order, which is not
// deterministic within a single clock advance.
func (r *Result) addInjections(step int, events []InjectionEvent) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].TabID < events[j].TabID })
	for _, e := range events {
		e.Step = step
		r.Injections = append(r.Injections, e)
	}
}

// TraceEvent is the golden-file summary of a MessageEvent.
type TraceEvent struct {
	Seq        int64
	AtMS       int64
	Delivered  bool
	Type       ir.MessageType
	TabID      *int
	URL        string
	ActiveMS   map[string]int64
	DownloadID *int
}

// Trace summarizes the messages for golden comparison.
func (r *Result) Trace() []TraceEvent {
	out := make([]TraceEvent, 0, len(r.Messages))
	for _, m := range r.Messages {
		ev := TraceEvent{Seq: m.Seq, AtMS: m.AtMS, Delivered: m.Delivered, Type: m.Message.Type}
		switch {
		case m.Message.TabID != nil:
			id := *m.Message.TabID
			ev.TabID = &id
		case m.Message.DocumentInfo != nil:
			id := m.Message.DocumentInfo.ID
			ev.TabID = &id
		}
		if m.Message.DocumentInfo != nil {
			ev.URL = m.Message.DocumentInfo.URL
		}
		if m.Message.Info != nil {
			ev.ActiveMS = secondsToMS(m.Message.Info)
		}
		if m.Message.Item != nil {
			id := m.Message.Item.ID
			ev.DownloadID = &id
			ev.URL = m.Message.Item.URL
		}
		out = append(out, ev)
	}
	return out
}

func secondsToMS(info map[string]float64) map[string]int64 {
	out := make(map[string]int64, len(info))
	for k, secs := range info {
		out[k] = int64(math.Round(secs * 1000))
	}
	return out
}
