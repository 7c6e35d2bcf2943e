package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"
)

// ErrHostNotFound is returned when no manifest declares the consumer name.
var ErrHostNotFound = errors.New("specified native messaging host not found")

// hostNamePattern is the set of valid consumer names: dot-separated
// segments of lowercase letters, digits and underscores.
var hostNamePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// Manifest is a native messaging host manifest.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// Validate checks the fields a host needs to be launched.
func (m Manifest) Validate() error {
	if !hostNamePattern.MatchString(m.Name) {
		return fmt.Errorf("invalid host name %q", m.Name)
	}
	if m.Type != "stdio" {
		return fmt.Errorf("host %s: unsupported type %q", m.Name, m.Type)
	}
	if m.Path == "" {
		return fmt.Errorf("host %s: path is required", m.Name)
	}
	return nil
}

// FindManifest looks for <name>.json in each directory in order and returns
// the first valid manifest declaring name. A relative host path is resolved
// against the manifest's directory.
func FindManifest(dirs []string, name string) (Manifest, error) {
	if !hostNamePattern.MatchString(name) {
		return Manifest{}, fmt.Errorf("invalid host name %q", name)
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, name+".json")
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Manifest{}, fmt.Errorf("read manifest: %w", err)
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		if m.Name != name {
			return Manifest{}, fmt.Errorf("manifest %s declares host %q", path, m.Name)
		}
		if err := m.Validate(); err != nil {
			return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
		}
		if !filepath.IsAbs(m.Path) {
			m.Path = filepath.Join(dir, m.Path)
		}
		return m, nil
	}
	return Manifest{}, fmt.Errorf("%w: %s", ErrHostNotFound, name)
}

// ExecConnector launches the consumer as a child process and exchanges
// frames over its stdin and stdout.
type ExecConnector struct {
	// Dirs are searched for host manifests, in order.
	Dirs []string
	// Origin, when set, is passed to the host as its first argument.
	Origin string
	// Logger receives host lifecycle diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// killGrace is how long Close waits for the host to exit after its stdin
// is closed before killing it.
const killGrace = 2 * time.Second

// Connect implements Connector. ctx bounds the launch only; the host runs
// until the port is closed or the host exits.
func (c ExecConnector) Connect(ctx context.Context, name string, h Handlers) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := FindManifest(c.Dirs, name)
	if err != nil {
		return nil, err
	}

	var args []string
	if c.Origin != "" {
		args = append(args, c.Origin)
	}
	cmd := exec.Command(m.Path, args...)
	cmd.Dir = filepath.Dir(m.Path)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start host %s: %w", name, err)
	}
	logger.Info("native host started", "name", name, "path", m.Path, "pid", cmd.Process.Pid)

	exited := make(chan struct{})
	exitFn := func(readErr error) {
		if !errors.Is(readErr, io.EOF) {
			// The host may still be running with its output unread.
			_ = cmd.Process.Kill()
		}
		err := cmd.Wait()
		close(exited)
		logger.Debug("native host exited", "name", name, "error", err)
	}
	closeFn := func() error {
		err := stdin.Close()
		select {
		case <-exited:
		case <-time.After(killGrace):
			_ = cmd.Process.Kill()
			<-exited
		}
		return err
	}
	return newStreamPort(stdout, stdin, closeFn, exitFn, h), nil
}
