package platform

import (
	"context"

	"github.com/roach88/attend/internal/ir"
)

// Platform answers the engine's queries about browser state.
// Implementations must be safe for concurrent use and must not block.
type Platform interface {
	// LastFocused returns the most recently focused window with its tabs.
	// Window.Focused reports whether it still has focus.
	LastFocused(ctx context.Context) (ir.Window, bool)

	// Window returns a window with its tabs.
	Window(ctx context.Context, id int) (ir.Window, bool)

	// Tab returns a single tab.
	Tab(ctx context.Context, id int) (ir.Tab, bool)

	// Windows returns every window with its tabs.
	Windows(ctx context.Context) []ir.Window

	// ProcessID returns the renderer process id hosting a tab, once known.
	ProcessID(ctx context.Context, tabID int) (int, bool)

	// Download returns the full metadata of a download.
	Download(ctx context.Context, id int) (ir.DownloadItem, bool)
}

// HasFocus reports whether any browser window currently has focus.
func HasFocus(ctx context.Context, p Platform) bool {
	w, ok := p.LastFocused(ctx)
	return ok && w.Focused
}

// Injector injects the content instrumentation into a tab.
type Injector interface {
	Inject(ctx context.Context, tabID int) error
}

// InjectorFunc adapts a function to the Injector interface.
type InjectorFunc func(ctx context.Context, tabID int) error

// Inject calls f(ctx, tabID).
func (f InjectorFunc) Inject(ctx context.Context, tabID int) error {
	return f(ctx, tabID)
}
