package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/attend/internal/ir"
)

// Scenario is a scripted browsing session. It starts from an initial
// window layout, applies steps against a virtual clock, and asserts on the
// messages the consumer received.
type Scenario struct {
	// Name uniquely identifies the scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Session is the dispatch session id. Defaults to
	// testutil.DefaultSessionID.
	Session string `yaml:"session,omitempty"`

	// IntervalSeconds is the flush interval. Defaults to 120.
	IntervalSeconds int `yaml:"interval_seconds,omitempty"`

	// DebounceMS is the injection quiet period. Defaults to 5000.
	DebounceMS *int `yaml:"debounce_ms,omitempty"`

	// IgnorePrefixes replaces the URL prefixes that are never injected.
	IgnorePrefixes []string `yaml:"ignore_prefixes,omitempty"`

	// Windows is the browser layout when the engine starts.
	Windows []WindowSpec `yaml:"windows"`

	// Steps run in order after startup.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// WindowSpec is one browser window of the initial layout.
type WindowSpec struct {
	ID      int       `yaml:"id"`
	Focused bool      `yaml:"focused,omitempty"`
	Tabs    []TabSpec `yaml:"tabs"`
}

// TabSpec is one tab. Inside a WindowSpec the window id and index come
// from the enclosing window and the tab's position.
type TabSpec struct {
	ID       int    `yaml:"id"`
	WindowID int    `yaml:"window_id,omitempty"`
	Index    int    `yaml:"index,omitempty"`
	URL      string `yaml:"url"`
	Title    string `yaml:"title,omitempty"`
	Active   bool   `yaml:"active,omitempty"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	// Advance moves the virtual clock forward, e.g. "30s". Injections that
	// fall due are performed.
	Advance string `yaml:"advance,omitempty"`

	// Signal delivers a platform notification.
	Signal *SignalSpec `yaml:"signal,omitempty"`

	// Flush closes the open interval as if the interval timer fired.
	Flush bool `yaml:"flush,omitempty"`

	// Poll runs the focus-loss poll once.
	Poll bool `yaml:"poll,omitempty"`

	// Disconnect drops the consumer channel with the given reason.
	Disconnect string `yaml:"disconnect,omitempty"`

	// FireInjections advances the clock by the debounce delay, so every
	// scheduled injection falls due.
	FireInjections bool `yaml:"fire_injections,omitempty"`
}

// SignalSpec is the scenario form of an ir.Signal.
type SignalSpec struct {
	Type ir.SignalType `yaml:"type"`

	// TabID is the tab the signal is about.
	TabID int `yaml:"tab_id,omitempty"`

	// WindowID is the newly focused window for windowFocusChanged; -1
	// means every browser window lost focus.
	WindowID int `yaml:"window_id,omitempty"`

	// URL is the new URL for tabUpdated and the document URL for document.
	URL string `yaml:"url,omitempty"`

	// Status is the load status for tabUpdated.
	Status   string `yaml:"status,omitempty"`
	Title    string `yaml:"title,omitempty"`
	Referrer string `yaml:"referrer,omitempty"`

	// PID is the renderer process for process.
	PID int `yaml:"pid,omitempty"`

	// Tab is the created tab for tabCreated.
	Tab *TabSpec `yaml:"tab,omitempty"`

	// Windows replaces the browser layout for windows.
	Windows []WindowSpec `yaml:"windows,omitempty"`

	// Download registers a download for download.
	Download *DownloadSpec `yaml:"download,omitempty"`

	// DownloadID and State describe a downloadChanged delta.
	DownloadID int    `yaml:"download_id,omitempty"`
	State      string `yaml:"state,omitempty"`
}

// DownloadSpec is the scenario form of an ir.DownloadItem.
type DownloadSpec struct {
	ID         int    `yaml:"id"`
	URL        string `yaml:"url"`
	Filename   string `yaml:"filename,omitempty"`
	Mime       string `yaml:"mime,omitempty"`
	State      string `yaml:"state,omitempty"`
	TotalBytes int64  `yaml:"total_bytes,omitempty"`
}

// Assertion checks the outcome of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Message is the message type counted by message_count.
	Message ir.MessageType `yaml:"message,omitempty"`

	// Delivered restricts message_count to delivered or dropped messages.
	Delivered *bool `yaml:"delivered,omitempty"`

	// Count is the expected number for message_count and injections.
	Count int `yaml:"count,omitempty"`

	// Messages is the expected relative order for message_order.
	Messages []ir.MessageType `yaml:"messages,omitempty"`

	// Flush selects one flushed interval (1-based) for active_seconds; 0
	// sums every interval.
	Flush int `yaml:"flush,omitempty"`

	// Resource and Seconds are the expected active time for active_seconds.
	Resource string  `yaml:"resource,omitempty"`
	Seconds  float64 `yaml:"seconds,omitempty"`

	// TabID restricts injections to one tab. For attention it is the tab
	// expected to hold attention at the end, 0 for none.
	TabID *int `yaml:"tab_id,omitempty"`
}

// Assertion types.
const (
	AssertMessageCount  = "message_count"
	AssertMessageOrder  = "message_order"
	AssertActiveSeconds = "active_seconds"
	AssertInjections    = "injections"
	AssertAttention     = "attention"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so that typos do not silently weaken a scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.IntervalSeconds < 0 || s.IntervalSeconds%2 != 0 {
		return fmt.Errorf("interval_seconds must be a positive even number, got %d", s.IntervalSeconds)
	}
	if s.DebounceMS != nil && *s.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must be non-negative, got %d", *s.DebounceMS)
	}
	if err := validateWindows("windows", s.Windows); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateWindows(field string, windows []WindowSpec) error {
	tabs := make(map[int]bool)
	for i, w := range windows {
		if w.ID <= 0 {
			return fmt.Errorf("%s[%d]: id must be positive", field, i)
		}
		active := 0
		for j, t := range w.Tabs {
			if t.ID <= 0 {
				return fmt.Errorf("%s[%d].tabs[%d]: id must be positive", field, i, j)
			}
			if tabs[t.ID] {
				return fmt.Errorf("%s[%d].tabs[%d]: duplicate tab id %d", field, i, j, t.ID)
			}
			tabs[t.ID] = true
			if t.Active {
				active++
			}
		}
		if active > 1 {
			return fmt.Errorf("%s[%d]: more than one active tab", field, i)
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	set := 0
	if step.Advance != "" {
		set++
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", i, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", i)
		}
	}
	if step.Signal != nil {
		set++
		if err := validateSignal(step.Signal); err != nil {
			return fmt.Errorf("steps[%d]: signal: %w", i, err)
		}
	}
	if step.Flush {
		set++
	}
	if step.Poll {
		set++
	}
	if step.Disconnect != "" {
		set++
	}
	if step.FireInjections {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}
	return nil
}

func validateSignal(sig *SignalSpec) error {
	switch sig.Type {
	case ir.SignalTabActivated, ir.SignalTabRemoved, ir.SignalProcess, ir.SignalDocument, ir.SignalTabUpdated:
		if sig.TabID <= 0 {
			return fmt.Errorf("%s: tab_id is required", sig.Type)
		}
	case ir.SignalWindowFocusChanged:
		if sig.WindowID == 0 {
			return fmt.Errorf("%s: window_id is required (-1 for none)", sig.Type)
		}
	case ir.SignalTabCreated:
		if sig.Tab == nil || sig.Tab.ID <= 0 || sig.Tab.WindowID <= 0 {
			return fmt.Errorf("%s: tab with id and window_id is required", sig.Type)
		}
	case ir.SignalWindows:
		return validateWindows("windows", sig.Windows)
	case ir.SignalDownload:
		if sig.Download == nil {
			return fmt.Errorf("%s: download is required", sig.Type)
		}
	case ir.SignalDownloadChanged:
		if sig.DownloadID <= 0 || sig.State == "" {
			return fmt.Errorf("%s: download_id and state are required", sig.Type)
		}
	default:
		return fmt.Errorf("unknown signal type %q", sig.Type)
	}
	if sig.Type == ir.SignalProcess && sig.PID <= 0 {
		return fmt.Errorf("%s: pid must be positive", sig.Type)
	}
	if sig.Type == ir.SignalDocument && sig.URL == "" {
		return fmt.Errorf("%s: url is required", sig.Type)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertMessageCount:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for message_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertMessageOrder:
		if len(a.Messages) == 0 {
			return fmt.Errorf("assertions[%d]: messages list is required for message_order", index)
		}
	case AssertActiveSeconds:
		if a.Resource == "" {
			return fmt.Errorf("assertions[%d]: resource is required for active_seconds", index)
		}
		if a.Flush < 0 || a.Seconds < 0 {
			return fmt.Errorf("assertions[%d]: flush and seconds must be non-negative", index)
		}
	case AssertInjections:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertAttention:
		if a.TabID == nil {
			return fmt.Errorf("assertions[%d]: tab_id is required for attention (0 for none)", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toWindows converts the layout to platform windows. Tab placement comes
// from the enclosing window and the tab's position.
func toWindows(specs []WindowSpec) []ir.Window {
	out := make([]ir.Window, 0, len(specs))
	for _, w := range specs {
		win := ir.Window{ID: w.ID, Focused: w.Focused}
		for i, t := range w.Tabs {
			tab := t.toTab()
			tab.WindowID = w.ID
			tab.Index = i
			win.Tabs = append(win.Tabs, tab)
		}
		out = append(out, win)
	}
	return out
}

func (t TabSpec) toTab() ir.Tab {
	return ir.Tab{
		ID:       t.ID,
		WindowID: t.WindowID,
		Index:    t.Index,
		URL:      t.URL,
		Title:    t.Title,
		Active:   t.Active,
		Status:   "complete",
	}
}
