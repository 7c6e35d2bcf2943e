package ir

import "strings"

// WindowIDNone is the window id the browser reports when focus leaves every
// browser window.
const WindowIDNone = -1

// Tab is a browser tab as reported by the platform.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	Index    int    `json:"index"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Active   bool   `json:"active"`
	Status   string `json:"status,omitempty"` // "loading" | "complete"
}

// Key returns the attribution key for the tab: durations are accumulated
// per URL, so two tabs on the same page share one bucket.
func (t Tab) Key() string {
	return t.URL
}

// HasPrefix reports whether the tab URL starts with any of the prefixes.
func (t Tab) HasPrefix(prefixes []string) bool {
	return HasAnyPrefix(t.URL, prefixes)
}

// Window is a browser window. Tabs is only populated when the platform was
// asked for them.
type Window struct {
	ID      int   `json:"id"`
	Focused bool  `json:"focused"`
	Tabs    []Tab `json:"tabs,omitempty"`
}

// ActiveTab returns the tab marked active in the window.
func (w Window) ActiveTab() (Tab, bool) {
	for _, t := range w.Tabs {
		if t.Active {
			return t, true
		}
	}
	return Tab{}, false
}

// Document describes one loaded page in one tab: the unit that access and
// leave events are emitted for.
//
// The content script fills URL, Title and Referrer; the engine fills the
// tab placement fields and PID once the tab's renderer process is known.
type Document struct {
	ID         int    `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	WindowID   int    `json:"windowId"`
	Index      int    `json:"index"`
	PID        int    `json:"pid"`
	SentAccess bool   `json:"sentAccess"`
}

// Place copies the tab's placement onto the document.
func (d *Document) Place(t Tab) {
	d.ID = t.ID
	d.WindowID = t.WindowID
	d.Index = t.Index
	if d.URL == "" {
		d.URL = t.URL
	}
}

// ChangeInfo lists the tab properties that changed in a tab-updated signal.
type ChangeInfo struct {
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// DownloadItem is the full metadata of one download.
type DownloadItem struct {
	ID         int    `json:"id"`
	URL        string `json:"url"`
	Referrer   string `json:"referrer,omitempty"`
	Filename   string `json:"filename"`
	Mime       string `json:"mime,omitempty"`
	StartTime  string `json:"startTime,omitempty"`
	EndTime    string `json:"endTime,omitempty"`
	State      string `json:"state"`
	Danger     string `json:"danger,omitempty"`
	TotalBytes int64  `json:"totalBytes"`
	FileSize   int64  `json:"fileSize"`
}

// DownloadStateComplete is the download state that triggers a Download event.
const DownloadStateComplete = "complete"

// StringDelta is a before/after pair for one changed download property.
type StringDelta struct {
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current,omitempty"`
}

// DownloadDelta is the change notification for a download.
type DownloadDelta struct {
	ID    int          `json:"id"`
	State *StringDelta `json:"state,omitempty"`
}

// Completed reports whether the delta moves the download into the complete
// state.
func (d DownloadDelta) Completed() bool {
	return d.State != nil && d.State.Current == DownloadStateComplete
}

// HasAnyPrefix reports whether s starts with one of prefixes.
func HasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
