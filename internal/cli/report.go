package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Session  string // optional - restrict totals to one session
	Sessions bool   // list sessions instead of totals
}

// ResourceRow is one line of the attention report.
type ResourceRow struct {
	Resource      string  `json:"resource"`
	ActiveSeconds float64 `json:"active_seconds"`
	Intervals     int     `json:"intervals"`
}

// SessionRow describes one journaled session.
type SessionRow struct {
	ID              string    `json:"id"`
	Consumer        string    `json:"consumer"`
	StartedAt       time.Time `json:"started_at"`
	IntervalSeconds int       `json:"interval_seconds"`
	EngineVersion   string    `json:"engine_version"`
}

// ReportResult holds the report output.
type ReportResult struct {
	Session   string        `json:"session,omitempty"`
	Resources []ResourceRow `json:"resources,omitempty"`
	Sessions  []SessionRow  `json:"sessions,omitempty"`
	Total     float64       `json:"total_seconds"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize attention time from the journal",
		Long: `Summarize the active time journaled for each resource, most attended
first. Totals cover every session unless --session is given.

Examples:
  attend report --db ./attend.db
  attend report --db ./attend.db --session 0190f3c4-...
  attend report --db ./attend.db --sessions --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "restrict totals to one session")
	cmd.Flags().BoolVar(&opts.Sessions, "sessions", false, "list journaled sessions")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Sessions {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		result := ReportResult{Sessions: make([]SessionRow, 0, len(sessions))}
		for _, s := range sessions {
			result.Sessions = append(result.Sessions, SessionRow{
				ID:              s.ID,
				Consumer:        s.Consumer,
				StartedAt:       s.StartedAt,
				IntervalSeconds: int(s.Interval / time.Second),
				EngineVersion:   s.EngineVersion,
			})
		}
		return outputReport(cmd, opts, result)
	}

	if opts.Session != "" {
		if _, err := st.ReadSession(ctx, opts.Session); err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
			}
			return WrapExitError(ExitCommandError, "failed to read session", err)
		}
	}

	totals, err := st.ResourceTotals(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read totals", err)
	}

	result := ReportResult{Session: opts.Session, Resources: make([]ResourceRow, 0, len(totals))}
	for _, t := range totals {
		result.Resources = append(result.Resources, ResourceRow{
			Resource:      t.Resource,
			ActiveSeconds: t.Active.Seconds(),
			Intervals:     t.Intervals,
		})
		result.Total += t.Active.Seconds()
	}
	return outputReport(cmd, opts, result)
}

func outputReport(cmd *cobra.Command, opts *ReportOptions, result ReportResult) error {
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	if opts.Sessions {
		if len(result.Sessions) == 0 {
			fmt.Fprintln(w, "No sessions recorded.")
			return nil
		}
		for _, s := range result.Sessions {
			fmt.Fprintf(w, "%s  %s  %s  every %ds\n",
				s.ID, s.StartedAt.Format(time.RFC3339), s.Consumer, s.IntervalSeconds)
		}
		return nil
	}

	if len(result.Resources) == 0 {
		fmt.Fprintln(w, "No active time recorded.")
		return nil
	}

	width := len("Resource")
	for _, r := range result.Resources {
		width = max(width, len(r.Resource))
	}
	fmt.Fprintf(w, "%-*s  %10s  %9s\n", width, "Resource", "Active", "Intervals")
	for _, r := range result.Resources {
		fmt.Fprintf(w, "%-*s  %10s  %9d\n", width, r.Resource, formatSeconds(r.ActiveSeconds), r.Intervals)
	}
	fmt.Fprintf(w, "%-*s  %10s\n", width, "Total", formatSeconds(result.Total))
	return nil
}

// formatSeconds renders a duration in seconds rounded to the millisecond.
func formatSeconds(secs float64) string {
	return (time.Duration(secs * float64(time.Second))).Round(time.Millisecond).String()
}
