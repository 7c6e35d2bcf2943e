package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/roach88/attend/internal/config"
	"github.com/roach88/attend/internal/dispatch"
	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/ir"
	"github.com/roach88/attend/internal/platform"
	"github.com/roach88/attend/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath   string
	Database     string
	Consumer     string
	Socket       string
	ManifestDirs []string

	// SessionGenerator names the journal session (for testing).
	// If nil, defaults to UUIDv7Generator.
	SessionGenerator engine.SessionIDGenerator

	// Clock overrides the wall clock (for testing).
	Clock clockwork.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the attribution engine",
		Long: `Start the attribution engine.

Browser signals are read from stdin as JSON lines; the first line should be
a windows snapshot. Content script injection requests are written to stdout
as JSON lines. Messages go to the consumer, launched through its native
messaging host manifest or dialled on a unix socket. Logs go to stderr.

When a database is configured every message and every flushed interval is
journaled there under a new session.

Example:
  attend run --config attend.yaml
  attend run --db ./attend.db --socket /tmp/consumer.sock --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides config)")
	cmd.Flags().StringVar(&opts.Consumer, "consumer", "", "consumer name (overrides config)")
	cmd.Flags().StringVar(&opts.Socket, "socket", "", "dial the consumer on this unix socket (overrides config)")
	cmd.Flags().StringSliceVar(&opts.ManifestDirs, "manifest-dir", nil, "native messaging host manifest directory (repeatable, overrides config)")

	return cmd
}

// loadRunConfig reads the config file and applies flag overrides.
func loadRunConfig(opts *RunOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Consumer != "" {
		cfg.Consumer.Name = opts.Consumer
	}
	if opts.Socket != "" {
		cfg.Consumer.Socket = opts.Socket
	}
	if len(opts.ManifestDirs) > 0 {
		cfg.Consumer.ManifestDirs = opts.ManifestDirs
	}
	return cfg, cfg.Validate()
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := loadRunConfig(opts)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			return WrapExitError(ExitFailure, "invalid config", err)
		}
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	slog.Info("config loaded",
		"consumer", cfg.Consumer.Name,
		"socket", cfg.Consumer.Socket,
		"interval", cfg.Interval(),
		"debounce", cfg.Debounce(),
		"focus_poll", cfg.FocusPoll(),
	)

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	var journal *store.SessionJournal
	if cfg.Database != "" {
		slog.Info("opening journal", "path", cfg.Database)
		st, err := store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()

		gen := opts.SessionGenerator
		if gen == nil {
			gen = engine.UUIDv7Generator{}
		}
		session := gen.Generate()
		err = st.BeginSession(ctx, store.Session{
			ID:        session,
			Consumer:  cfg.Consumer.Name,
			StartedAt: clock.Now(),
			Interval:  cfg.Interval(),
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to begin session", err)
		}
		journal = store.NewSessionJournal(st, session, clock)
		slog.Info("journal session started", "session", session)
	}

	var eng *engine.Engine
	dispOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithDisconnectHandler(func(reason string) {
			eng.NotifyDisconnect(reason)
		}),
	}
	if journal != nil {
		dispOpts = append(dispOpts, dispatch.WithJournal(journal, engine.NewClock()))
	}
	disp := dispatch.New(dispOpts...)
	defer func() {
		if closeErr := disp.Close(); closeErr != nil {
			slog.Debug("error closing consumer channel", "error", closeErr)
		}
	}()

	browser := platform.NewBrowser()
	injector := platform.NewCommandInjector(cmd.OutOrStdout(), cfg.ContentScript)

	engOpts := []engine.Option{
		engine.WithClock(clock),
		engine.WithInterval(cfg.Interval()),
		engine.WithDebounce(cfg.Debounce()),
		engine.WithFocusPoll(cfg.FocusPoll()),
		engine.WithIgnoredPrefixes(cfg.IgnorePrefixes),
		engine.WithLogger(logger),
	}
	if journal != nil {
		engOpts = append(engOpts, engine.WithFlushJournal(journal))
	}
	eng = engine.New(browser, injector, disp, engOpts...)

	if err := disp.Connect(ctx, consumerConnector(cfg, logger), cfg.Consumer.Name); err != nil {
		// The engine keeps attributing; every message is journaled as
		// undelivered.
		slog.Warn("consumer unavailable", "name", cfg.Consumer.Name, "error", err)
		disp.OnDisconnect(err.Error())
	}

	signals := platform.NewReader(cmd.InOrStdin())
	pending, open := primeBrowser(signals, browser)
	if pending != nil {
		eng.Deliver(*pending)
	}
	if open {
		go func() {
			defer eng.Stop()
			pumpSignals(signals, browser, eng)
		}()
	} else {
		eng.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// consumerConnector picks the transport: a unix socket when one is
// configured, otherwise the native messaging host found through the
// manifest directories.
func consumerConnector(cfg config.Config, logger *slog.Logger) dispatch.Connector {
	if cfg.Consumer.Socket != "" {
		return dispatch.SocketConnector{Path: cfg.Consumer.Socket}
	}
	return dispatch.ExecConnector{Dirs: cfg.Consumer.ManifestDirs, Logger: logger}
}

// primeBrowser applies the first valid signal to the browser model so the
// engine starts from the initial window snapshot. A first signal of any
// other type is returned for delivery. open is false once the stream ended.
func primeBrowser(signals *platform.Reader, browser *platform.Browser) (pending *ir.Signal, open bool) {
	for {
		sig, err := signals.Next()
		if errors.Is(err, platform.ErrMalformedSignal) {
			slog.Warn("skipping signal", "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Error("signal stream failed", "error", err)
			}
			return nil, false
		}
		if err := browser.Apply(sig); err != nil {
			slog.Warn("signal not applied", "type", sig.Type, "error", err)
		}
		if sig.Type == ir.SignalWindows {
			return nil, true
		}
		slog.Warn("signal stream did not start with a windows snapshot", "type", sig.Type)
		return &sig, true
	}
}

// pumpSignals feeds the browser model and the engine until the stream ends.
// The model is updated first so that the engine's queries see the state
// the signal describes.
func pumpSignals(signals *platform.Reader, browser *platform.Browser, eng *engine.Engine) {
	for {
		sig, err := signals.Next()
		if errors.Is(err, platform.ErrMalformedSignal) {
			slog.Warn("skipping signal", "error", err)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("signal stream closed")
			} else {
				slog.Error("signal stream failed", "error", err)
			}
			return
		}
		if err := browser.Apply(sig); err != nil {
			slog.Warn("signal not applied", "type", sig.Type, "error", err)
			continue
		}
		if !eng.Deliver(sig) {
			return
		}
	}
}
