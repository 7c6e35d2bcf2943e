package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Config *config.Config `json:"config,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a config file",
		Long: `Validate a config file against the config schema without starting the
engine. Unknown keys, out-of-range values and malformed consumer names are
reported. On success the effective configuration, defaults included, is
printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Loading config from %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, config.ErrInvalid) {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		if fmtErr := formatter.Error(ErrCodeInvalidConfig, err.Error(), nil); fmtErr != nil {
			return fmtErr
		}
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: &cfg})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  consumer:       %s\n", cfg.Consumer.Name)
	if cfg.Consumer.Socket != "" {
		fmt.Fprintf(w, "  socket:         %s\n", cfg.Consumer.Socket)
	}
	fmt.Fprintf(w, "  interval:       %s\n", cfg.Interval())
	fmt.Fprintf(w, "  debounce:       %s\n", cfg.Debounce())
	fmt.Fprintf(w, "  focus poll:     %s\n", cfg.FocusPoll())
	if cfg.Database != "" {
		fmt.Fprintf(w, "  database:       %s\n", cfg.Database)
	}
	fmt.Fprintf(w, "  ignored:        %v\n", cfg.IgnorePrefixes)
	fmt.Fprintf(w, "  content script: %s\n", cfg.ContentScript)
	return nil
}
