package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/ir"
	"github.com/roach88/attend/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Type     string // optional - filter to one message type
}

// TraceEvent is one journaled send attempt.
type TraceEvent struct {
	Seq       int64              `json:"seq"`
	Offset    string             `json:"offset"` // since session start
	Type      ir.MessageType     `json:"type"`
	ID        string             `json:"id"`
	Delivered bool               `json:"delivered"`
	TabID     *int               `json:"tab_id,omitempty"`
	URL       string             `json:"url,omitempty"`
	Info      map[string]float64 `json:"info,omitempty"`
}

// TraceFlush is one flushed interval.
type TraceFlush struct {
	Flush     int64              `json:"flush"`
	Offset    string             `json:"offset"`
	Active    map[string]float64 `json:"active_seconds"`
	Resources int                `json:"resources"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session  string       `json:"session"`
	Consumer string       `json:"consumer"`
	Timeline []TraceEvent `json:"timeline"`
	Flushes  []TraceFlush `json:"flushes"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Messages  int `json:"messages"`
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
	Flushes   int `json:"flushes"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the message journal of a session",
		Long: `Show what a session sent to the consumer, in dispatch order.

The output includes:
- Timeline: every send attempt, delivered or dropped
- Flushes: the per-resource totals of each flushed interval
- Stats: summary counts for the session

Examples:
  attend trace --db ./attend.db --session 0190f3c4-...
  attend trace --db ./attend.db --session 0190f3c4-... --type Access
  attend trace --db ./attend.db --session 0190f3c4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to trace (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter to one message type (Access|Leave|ActiveTabs|Download)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	sess, err := st.ReadSession(ctx, opts.Session)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
		}
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	records, err := st.ListMessages(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read messages", err)
	}
	intervals, err := st.ListIntervals(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read intervals", err)
	}

	timeline, err := buildTimeline(records, sess.StartedAt, ir.MessageType(opts.Type))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode journal", err)
	}

	result := TraceResult{
		Session:  sess.ID,
		Consumer: sess.Consumer,
		Timeline: timeline,
		Flushes:  buildFlushes(intervals, sess.StartedAt),
	}
	for _, ev := range timeline {
		result.Stats.Messages++
		if ev.Delivered {
			result.Stats.Delivered++
		} else {
			result.Stats.Dropped++
		}
	}
	result.Stats.Flushes = len(result.Flushes)

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildTimeline converts journal records to timeline events. When
// typeFilter is set, only messages of that type are kept.
func buildTimeline(records []store.MessageRecord, start time.Time, typeFilter ir.MessageType) ([]TraceEvent, error) {
	timeline := []TraceEvent{}
	for _, rec := range records {
		if typeFilter != "" && rec.Type != typeFilter {
			continue
		}
		msg, err := rec.Message()
		if err != nil {
			return nil, err
		}

		ev := TraceEvent{
			Seq:       rec.Seq,
			Offset:    offsetSince(start, rec.RecordedAt),
			Type:      rec.Type,
			ID:        rec.ID,
			Delivered: rec.Delivered,
			TabID:     rec.TabID,
			Info:      msg.Info,
		}
		switch {
		case msg.DocumentInfo != nil:
			ev.URL = msg.DocumentInfo.URL
		case msg.Item != nil:
			ev.URL = msg.Item.URL
		}
		timeline = append(timeline, ev)
	}
	return timeline, nil
}

// buildFlushes groups interval rows by flush.
func buildFlushes(intervals []store.IntervalTotal, start time.Time) []TraceFlush {
	flushes := []TraceFlush{}
	for _, it := range intervals {
		n := len(flushes)
		if n == 0 || flushes[n-1].Flush != it.FlushSeq {
			flushes = append(flushes, TraceFlush{
				Flush:  it.FlushSeq,
				Offset: offsetSince(start, it.FlushedAt),
				Active: make(map[string]float64),
			})
			n++
		}
		flushes[n-1].Active[it.Resource] = it.Active.Seconds()
		flushes[n-1].Resources++
	}
	return flushes
}

func offsetSince(start, at time.Time) string {
	return "+" + at.Sub(start).Round(time.Millisecond).String()
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Session: %s\n", result.Session)
	fmt.Fprintf(w, "Consumer: %s\n", result.Consumer)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no messages)")
	}
	for _, ev := range result.Timeline {
		formatTimelineEvent(w, ev, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Flushes ===")
	if len(result.Flushes) == 0 {
		fmt.Fprintln(w, "  (no intervals)")
	}
	for _, f := range result.Flushes {
		fmt.Fprintf(w, "  #%d %s %s\n", f.Flush, f.Offset, formatActive(f.Active))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Messages:  %d\n", result.Stats.Messages)
	fmt.Fprintf(w, "  Delivered: %d\n", result.Stats.Delivered)
	fmt.Fprintf(w, "  Dropped:   %d\n", result.Stats.Dropped)
	fmt.Fprintf(w, "  Flushes:   %d\n", result.Stats.Flushes)
	return nil
}

func formatTimelineEvent(w io.Writer, ev TraceEvent, verbose bool) {
	status := ""
	if !ev.Delivered {
		status = " (dropped)"
	}
	line := fmt.Sprintf("  [%d] %s %s", ev.Seq, ev.Offset, ev.Type)
	if ev.TabID != nil {
		line += fmt.Sprintf(" tab=%d", *ev.TabID)
	}
	if ev.URL != "" {
		line += " " + ev.URL
	}
	if ev.Info != nil {
		line += " " + formatActive(ev.Info)
	}
	fmt.Fprintln(w, line+status)
	if verbose {
		fmt.Fprintf(w, "       ID: %s\n", truncateID(ev.ID))
	}
}

// formatActive formats per-resource seconds with sorted keys for
// deterministic output.
func formatActive(active map[string]float64) string {
	if len(active) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(active))
	for k := range active {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%gs", k, active[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
