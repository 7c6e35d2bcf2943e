package cli

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/timer"
)

// AlignOptions holds flags for the align command.
type AlignOptions struct {
	*RootOptions
	Interval time.Duration
	At       string // RFC 3339 instant, defaults to now

	// Clock supplies "now" when At is empty (for testing).
	Clock clockwork.Clock
}

// AlignResult describes the first interval tick.
type AlignResult struct {
	Now       time.Time `json:"now"`
	Interval  string    `json:"interval"`
	Delay     string    `json:"delay"`
	FirstTick time.Time `json:"first_tick"`
	NextTick  time.Time `json:"next_tick"`
}

// NewAlignCommand creates the align command.
func NewAlignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AlignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Show when the first interval flush would happen",
		Long: `Show when the interval timer started at a given instant would first
fire. Flushes are aligned to wall-clock boundaries: with the default
two-minute interval they land on even minutes.

Examples:
  attend align
  attend align --interval 10m --at 2024-03-05T10:03:30Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlign(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", timer.DefaultInterval, "flush interval")
	cmd.Flags().StringVar(&opts.At, "at", "", "start instant in RFC 3339 (default now)")

	return cmd
}

func runAlign(opts *AlignOptions, cmd *cobra.Command) error {
	if opts.Interval < 2*time.Second || opts.Interval%(2*time.Second) != 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("interval must be a positive even number of seconds, got %s", opts.Interval))
	}

	var now time.Time
	if opts.At != "" {
		t, err := time.Parse(time.RFC3339Nano, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		now = t
	} else {
		clock := opts.Clock
		if clock == nil {
			clock = clockwork.NewRealClock()
		}
		now = clock.Now()
	}

	delay := timer.AlignmentDelay(now, opts.Interval)
	first := now.Add(delay)
	result := AlignResult{
		Now:       now,
		Interval:  opts.Interval.String(),
		Delay:     delay.String(),
		FirstTick: first,
		NextTick:  first.Add(opts.Interval),
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Start:      %s\n", result.Now.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Interval:   %s\n", result.Interval)
	fmt.Fprintf(w, "Delay:      %s\n", result.Delay)
	fmt.Fprintf(w, "First tick: %s\n", result.FirstTick.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Next tick:  %s\n", result.NextTick.Format(time.RFC3339Nano))
	return nil
}
