package ir

import "fmt"

// SignalType names a platform notification delivered by the browser side.
type SignalType string

const (
	// SignalWindows replaces the platform's window/tab snapshot.
	SignalWindows SignalType = "windows"
	// SignalTabActivated reports that TabID became the active tab of WindowID.
	SignalTabActivated SignalType = "tabActivated"
	// SignalWindowFocusChanged reports that WindowID gained focus
	// (WindowIDNone when every browser window lost it).
	SignalWindowFocusChanged SignalType = "windowFocusChanged"
	// SignalTabCreated reports a new Tab.
	SignalTabCreated SignalType = "tabCreated"
	// SignalTabUpdated reports ChangeInfo for TabID together with the new Tab.
	SignalTabUpdated SignalType = "tabUpdated"
	// SignalTabRemoved reports that TabID was closed.
	SignalTabRemoved SignalType = "tabRemoved"
	// SignalDownloadChanged reports a DownloadDelta.
	SignalDownloadChanged SignalType = "downloadChanged"
	// SignalDownload registers or refreshes a DownloadItem's metadata.
	SignalDownload SignalType = "download"
	// SignalDocument is the content script's report of a loaded Document in TabID.
	SignalDocument SignalType = "document"
	// SignalProcess resolves the renderer PID for TabID.
	SignalProcess SignalType = "process"
)

// Signal is the envelope for one platform notification. Only the fields
// belonging to Type are set.
type Signal struct {
	Type       SignalType     `json:"type"`
	TabID      int            `json:"tabId,omitempty"`
	WindowID   int            `json:"windowId,omitempty"`
	PID        int            `json:"pid,omitempty"`
	Tab        *Tab           `json:"tab,omitempty"`
	ChangeInfo *ChangeInfo    `json:"changeInfo,omitempty"`
	Windows    []Window       `json:"windows,omitempty"`
	Focused    *int           `json:"focusedWindowId,omitempty"`
	Delta      *DownloadDelta `json:"delta,omitempty"`
	Item       *DownloadItem  `json:"item,omitempty"`
	Document   *Document      `json:"document,omitempty"`
}

// Validate checks that the fields required by the signal type are present.
func (s Signal) Validate() error {
	switch s.Type {
	case SignalWindows, SignalWindowFocusChanged, SignalTabRemoved, SignalTabActivated:
		return nil
	case SignalTabCreated:
		if s.Tab == nil {
			return fmt.Errorf("%s: tab is required", s.Type)
		}
	case SignalTabUpdated:
		if s.Tab == nil || s.ChangeInfo == nil {
			return fmt.Errorf("%s: tab and changeInfo are required", s.Type)
		}
	case SignalDownloadChanged:
		if s.Delta == nil {
			return fmt.Errorf("%s: delta is required", s.Type)
		}
	case SignalDownload:
		if s.Item == nil {
			return fmt.Errorf("%s: item is required", s.Type)
		}
	case SignalDocument:
		if s.Document == nil {
			return fmt.Errorf("%s: document is required", s.Type)
		}
	case SignalProcess:
		if s.PID <= 0 {
			return fmt.Errorf("%s: pid must be positive", s.Type)
		}
	default:
		return fmt.Errorf("unknown signal type %q", s.Type)
	}
	return nil
}
