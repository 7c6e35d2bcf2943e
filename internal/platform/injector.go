package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// InjectCommand is the browser-side request to load the content script
// into a tab.
type InjectCommand struct {
	Command string `json:"command"`
	TabID   int    `json:"tabId"`
	File    string `json:"file"`
}

// CommandInjector asks the browser side to inject the content script by
// writing one InjectCommand per line to w.
type CommandInjector struct {
	mu   sync.Mutex
	enc  *json.Encoder
	file string
}

var _ Injector = (*CommandInjector)(nil)

// NewCommandInjector creates an injector that requests file be loaded.
func NewCommandInjector(w io.Writer, file string) *CommandInjector {
	return &CommandInjector{enc: json.NewEncoder(w), file: file}
}

// Inject implements Injector.
func (i *CommandInjector) Inject(ctx context.Context, tabID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.enc.Encode(InjectCommand{Command: "inject", TabID: tabID, File: i.file}); err != nil {
		return fmt.Errorf("inject tab %d: %w", tabID, err)
	}
	return nil
}
