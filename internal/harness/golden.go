package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/attend/internal/ir"
)

// Snapshot is the golden-file form of a run.
type Snapshot struct {
	Scenario   string
	Session    string
	Trace      []TraceEvent
	Injections []InjectionEvent
	Flushes    []FlushEvent
	Attention  int
	Channel    string
}

// NewSnapshot summarizes a result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{
		Scenario:   name,
		Session:    result.Session,
		Trace:      result.Trace(),
		Injections: result.Injections,
		Flushes:    result.Flushes,
		Attention:  result.Attention,
		Channel:    result.Channel,
	}
}

// Canonical returns the snapshot as canonical JSON: one line, sorted keys,
// durations in integer milliseconds.
func (s Snapshot) Canonical() ([]byte, error) {
	trace := make(ir.IRArray, len(s.Trace))
	for i, ev := range s.Trace {
		obj := ir.IRObject{
			"seq":       ir.IRInt(ev.Seq),
			"at_ms":     ir.IRInt(ev.AtMS),
			"delivered": ir.IRBool(ev.Delivered),
			"type":      ir.IRString(ev.Type),
		}
		if ev.TabID != nil {
			obj["tab_id"] = ir.IRInt(*ev.TabID)
		}
		if ev.URL != "" {
			obj["url"] = ir.IRString(ev.URL)
		}
		if ev.ActiveMS != nil {
			obj["active_ms"] = msObject(ev.ActiveMS)
		}
		if ev.DownloadID != nil {
			obj["download_id"] = ir.IRInt(*ev.DownloadID)
		}
		trace[i] = obj
	}

	injections := make(ir.IRArray, len(s.Injections))
	for i, inj := range s.Injections {
		injections[i] = ir.IRObject{
			"step":   ir.IRInt(inj.Step),
			"at_ms":  ir.IRInt(inj.AtMS),
			"tab_id": ir.IRInt(inj.TabID),
		}
	}

	flushes := make(ir.IRArray, len(s.Flushes))
	for i, f := range s.Flushes {
		flushes[i] = ir.IRObject{
			"flush":     ir.IRInt(f.Flush),
			"at_ms":     ir.IRInt(f.AtMS),
			"active_ms": msObject(f.Active),
		}
	}

	return ir.MarshalCanonical(ir.IRObject{
		"scenario":   ir.IRString(s.Scenario),
		"session":    ir.IRString(s.Session),
		"trace":      trace,
		"injections": injections,
		"flushes":    flushes,
		"attention":  ir.IRInt(s.Attention),
		"channel":    ir.IRString(s.Channel),
	})
}

func msObject(m map[string]int64) ir.IRObject {
	obj := make(ir.IRObject, len(m))
	for k, v := range m {
		obj[k] = ir.IRInt(v)
	}
	return obj
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot run. A snapshot mismatch fails t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the golden file for
// name, without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(name, result).Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
