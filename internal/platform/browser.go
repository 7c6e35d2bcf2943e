package platform

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/attend/internal/ir"
)

// Browser is an in-memory snapshot of browser state built from signals.
//
// Thread-safety: all methods are safe for concurrent use. Apply is called
// by the signal reader; queries come from the engine loop.
type Browser struct {
	mu          sync.RWMutex
	windows     map[int]bool // window id -> exists
	tabs        map[int]ir.Tab
	pids        map[int]int
	downloads   map[int]ir.DownloadItem
	focused     int // ir.WindowIDNone when no window has focus
	lastFocused int // most recently focused window, ir.WindowIDNone if none yet
}

var _ Platform = (*Browser)(nil)

// NewBrowser creates an empty browser with no focused window.
func NewBrowser() *Browser {
	return &Browser{
		windows:     make(map[int]bool),
		tabs:        make(map[int]ir.Tab),
		pids:        make(map[int]int),
		downloads:   make(map[int]ir.DownloadItem),
		focused:     ir.WindowIDNone,
		lastFocused: ir.WindowIDNone,
	}
}

// Apply folds one signal into the snapshot. Signals that carry no state
// (document reports) are accepted and ignored.
func (b *Browser) Apply(sig ir.Signal) error {
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("apply signal: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch sig.Type {
	case ir.SignalWindows:
		b.replace(sig.Windows, sig.Focused)
	case ir.SignalTabActivated:
		if tab, ok := b.tabs[sig.TabID]; ok {
			if sig.WindowID != 0 {
				tab.WindowID = sig.WindowID
			}
			tab.Active = true
			b.putTab(tab)
		}
	case ir.SignalWindowFocusChanged:
		b.focus(sig.WindowID)
	case ir.SignalTabCreated:
		b.putTab(*sig.Tab)
	case ir.SignalTabUpdated:
		tab := *sig.Tab
		if sig.TabID != 0 {
			tab.ID = sig.TabID
		}
		b.putTab(tab)
		if sig.ChangeInfo.URL != "" {
			// A navigation may swap the renderer; the next process signal
			// names the new one.
			delete(b.pids, tab.ID)
		}
	case ir.SignalTabRemoved:
		b.removeTab(sig.TabID)
	case ir.SignalDownload:
		b.downloads[sig.Item.ID] = *sig.Item
	case ir.SignalDownloadChanged:
		if item, ok := b.downloads[sig.Delta.ID]; ok && sig.Delta.State != nil {
			item.State = sig.Delta.State.Current
			b.downloads[item.ID] = item
		}
	case ir.SignalProcess:
		b.pids[sig.TabID] = sig.PID
	}
	return nil
}

// replace swaps in a full window snapshot. focused overrides the Focused
// flags of the windows when set.
func (b *Browser) replace(windows []ir.Window, focused *int) {
	b.windows = make(map[int]bool, len(windows))
	b.tabs = make(map[int]ir.Tab)
	b.focused = ir.WindowIDNone
	for _, w := range windows {
		b.windows[w.ID] = true
		for _, t := range w.Tabs {
			t.WindowID = w.ID
			b.tabs[t.ID] = t
		}
		if w.Focused {
			b.focused = w.ID
		}
	}
	if focused != nil {
		b.focused = *focused
	}
	if b.focused != ir.WindowIDNone {
		b.lastFocused = b.focused
	}
}

func (b *Browser) focus(windowID int) {
	b.focused = windowID
	if windowID == ir.WindowIDNone {
		return
	}
	b.windows[windowID] = true
	b.lastFocused = windowID
}

// putTab stores a tab, creating its window on demand. An active tab
// deactivates its siblings.
func (b *Browser) putTab(tab ir.Tab) {
	b.windows[tab.WindowID] = true
	if tab.Active {
		for id, other := range b.tabs {
			if id != tab.ID && other.WindowID == tab.WindowID && other.Active {
				other.Active = false
				b.tabs[id] = other
			}
		}
	}
	b.tabs[tab.ID] = tab
}

// removeTab deletes a tab. A window left without tabs is closed.
func (b *Browser) removeTab(tabID int) {
	tab, ok := b.tabs[tabID]
	if !ok {
		return
	}
	delete(b.tabs, tabID)
	delete(b.pids, tabID)
	for _, other := range b.tabs {
		if other.WindowID == tab.WindowID {
			return
		}
	}
	delete(b.windows, tab.WindowID)
	if b.focused == tab.WindowID {
		b.focused = ir.WindowIDNone
	}
	if b.lastFocused == tab.WindowID {
		b.lastFocused = ir.WindowIDNone
	}
}

// LastFocused implements Platform.
func (b *Browser) LastFocused(_ context.Context) (ir.Window, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastFocused == ir.WindowIDNone {
		return ir.Window{}, false
	}
	return b.window(b.lastFocused)
}

// Window implements Platform.
func (b *Browser) Window(_ context.Context, id int) (ir.Window, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.window(id)
}

func (b *Browser) window(id int) (ir.Window, bool) {
	if !b.windows[id] {
		return ir.Window{}, false
	}
	w := ir.Window{ID: id, Focused: b.focused == id}
	for _, t := range b.tabs {
		if t.WindowID == id {
			w.Tabs = append(w.Tabs, t)
		}
	}
	slices.SortFunc(w.Tabs, func(x, y ir.Tab) int {
		if x.Index != y.Index {
			return x.Index - y.Index
		}
		return x.ID - y.ID
	})
	return w, true
}

// Tab implements Platform.
func (b *Browser) Tab(_ context.Context, id int) (ir.Tab, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tabs[id]
	return t, ok
}

// Windows implements Platform.
func (b *Browser) Windows(_ context.Context) []ir.Window {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]int, 0, len(b.windows))
	for id := range b.windows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	windows := make([]ir.Window, 0, len(ids))
	for _, id := range ids {
		w, _ := b.window(id)
		windows = append(windows, w)
	}
	return windows
}

// ProcessID implements Platform.
func (b *Browser) ProcessID(_ context.Context, tabID int) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pid, ok := b.pids[tabID]
	return pid, ok
}

// Download implements Platform.
func (b *Browser) Download(_ context.Context, id int) (ir.DownloadItem, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	item, ok := b.downloads[id]
	return item, ok
}
