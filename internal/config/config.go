// Package config loads and validates the attend configuration file.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/timer"
)

//go:embed schema.cue
var schemaCUE string

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// DefaultConsumer is the native messaging host that receives messages.
const DefaultConsumer = "uk.ac.ucl.cs.study.multitasking.chrome"

// DefaultContentScript is the file injected into instrumented tabs.
const DefaultContentScript = "content_script.js"

// Config is the decoded configuration file.
type Config struct {
	Consumer        Consumer `yaml:"consumer" json:"consumer"`
	IntervalSeconds int      `yaml:"interval_seconds" json:"interval_seconds"`
	DebounceMS      int      `yaml:"debounce_ms" json:"debounce_ms"`
	FocusPollMS     int      `yaml:"focus_poll_ms" json:"focus_poll_ms"`
	Database        string   `yaml:"database" json:"database,omitempty"`
	IgnorePrefixes  []string `yaml:"ignore_prefixes" json:"ignore_prefixes,omitempty"`
	ContentScript   string   `yaml:"content_script" json:"content_script"`
}

// Consumer says how to reach the consumer process. Socket, when set, is
// dialled instead of spawning the host from a manifest.
type Consumer struct {
	Name         string   `yaml:"name" json:"name"`
	ManifestDirs []string `yaml:"manifest_dirs" json:"manifest_dirs,omitempty"`
	Socket       string   `yaml:"socket" json:"socket,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Consumer:        Consumer{Name: DefaultConsumer},
		IntervalSeconds: int(timer.DefaultInterval / time.Second),
		DebounceMS:      int(engine.DefaultDebounce / time.Millisecond),
		FocusPollMS:     int(engine.DefaultFocusPoll / time.Millisecond),
		IgnorePrefixes:  append([]string(nil), engine.DefaultIgnoredPrefixes...),
		ContentScript:   DefaultContentScript,
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path returns the defaults. Unknown keys are errors.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against the embedded schema.
func (c Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	// Alignment boundaries sit at half the interval.
	if c.IntervalSeconds%2 != 0 {
		return fmt.Errorf("%w: interval_seconds must be even, got %d", ErrInvalid, c.IntervalSeconds)
	}
	return nil
}

// Interval returns the flush interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Debounce returns the injection debounce delay.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// FocusPoll returns the period of the focus-loss poll.
func (c Config) FocusPoll() time.Duration {
	return time.Duration(c.FocusPollMS) * time.Millisecond
}
