package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attend/internal/ir"
)

func intPtr(v int) *int { return &v }

func oneWindow() []WindowSpec {
	return []WindowSpec{{
		ID:      1,
		Focused: true,
		Tabs: []TabSpec{
			{ID: 10, URL: "https://a.example/", Active: true},
			{ID: 11, URL: "https://b.example/"},
		},
	}}
}

func messageTypes(result *Result) []ir.MessageType {
	out := make([]ir.MessageType, len(result.Messages))
	for i, m := range result.Messages {
		out[i] = m.Message.Type
	}
	return out
}

func TestRun_StartupAttributionAndInjection(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "startup",
		Windows: oneWindow(),
		Steps:   []Step{{Advance: "10s"}, {Flush: true}},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	assert.Equal(t, []InjectionEvent{
		{Step: 0, AtMS: 0, TabID: 10},
		{Step: 0, AtMS: 0, TabID: 11},
	}, result.Injections)

	require.Len(t, result.Flushes, 1)
	assert.Equal(t, map[string]int64{"https://a.example/": 10000}, result.Flushes[0].Active)
	assert.Equal(t, int64(10000), result.Flushes[0].AtMS)
	assert.Equal(t, 10, result.Attention)
	assert.Equal(t, "connected", result.Channel)
}

func TestRun_MessagesAreJournaled(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "journaled",
		Session: "s-1",
		Windows: oneWindow(),
		Steps: []Step{
			{Signal: &SignalSpec{Type: ir.SignalDocument, TabID: 10, URL: "https://a.example/"}},
			{Advance: "3s"},
			{Signal: &SignalSpec{Type: ir.SignalProcess, TabID: 10, PID: 77}},
			{Signal: &SignalSpec{Type: ir.SignalDocument, TabID: 10, URL: "https://a.example/2"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "s-1", result.Session)
	// The second report leaves the first document; the pid is already known
	// so the new one is accessed straight away.
	assert.Equal(t, []ir.MessageType{ir.MessageAccess, ir.MessageLeave, ir.MessageAccess}, messageTypes(result))

	access := result.Messages[0]
	assert.Equal(t, int64(1), access.Seq)
	assert.Equal(t, int64(3000), access.AtMS)
	assert.True(t, access.Delivered)
	require.NotNil(t, access.Message.DocumentInfo)
	assert.Equal(t, 77, access.Message.DocumentInfo.PID)
	assert.True(t, access.Message.DocumentInfo.SentAccess)

	leave := result.Messages[1]
	require.NotNil(t, leave.Message.TabID)
	assert.Equal(t, 10, *leave.Message.TabID)
	assert.Equal(t, "https://a.example/", leave.Message.DocumentInfo.URL)
	assert.Equal(t, "https://a.example/2", result.Messages[2].Message.DocumentInfo.URL)
}

func TestRun_PidKnownBeforeReport(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "pid_first",
		Windows: oneWindow(),
		Steps: []Step{
			{Signal: &SignalSpec{Type: ir.SignalProcess, TabID: 11, PID: 5}},
			{Signal: &SignalSpec{Type: ir.SignalDocument, TabID: 11, URL: "https://b.example/"}},
			{Signal: &SignalSpec{Type: ir.SignalProcess, TabID: 11, PID: 5}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []ir.MessageType{ir.MessageAccess}, messageTypes(result))
}

func TestRun_ZeroDebounceInjectsWithinStep(t *testing.T) {
	result, err := Run(&Scenario{
		Name:       "zero_debounce",
		DebounceMS: intPtr(0),
		Windows:    oneWindow(),
		Steps: []Step{
			{Signal: &SignalSpec{Type: ir.SignalTabUpdated, TabID: 11, URL: "https://b.example/next"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Injections, InjectionEvent{Step: 1, AtMS: 0, TabID: 11})
}

func TestRun_IgnorePrefixesOverride(t *testing.T) {
	result, err := Run(&Scenario{
		Name:           "ignore",
		IgnorePrefixes: []string{"https://b."},
		Windows:        oneWindow(),
		Steps:          []Step{{Poll: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []InjectionEvent{{Step: 0, AtMS: 0, TabID: 10}}, result.Injections)
}

func TestRun_FocusPollDropsAttention(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "poll",
		Windows: []WindowSpec{{ID: 1, Focused: true, Tabs: []TabSpec{{ID: 10, URL: "https://a.example/", Active: true}}}},
		Steps: []Step{
			{Advance: "5s"},
			{Signal: &SignalSpec{Type: ir.SignalWindows, Windows: []WindowSpec{{ID: 1, Tabs: []TabSpec{{ID: 10, URL: "https://a.example/", Active: true}}}}}},
			{Advance: "5s"},
			{Poll: true},
			{Advance: "5s"},
			{Flush: true},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Attention)
	require.Len(t, result.Flushes, 1)
	assert.Equal(t, int64(10000), result.Flushes[0].Active["https://a.example/"])
}

func TestRun_UnknownTabUpdate(t *testing.T) {
	_, err := Run(&Scenario{
		Name:    "unknown",
		Windows: oneWindow(),
		Steps:   []Step{{Signal: &SignalSpec{Type: ir.SignalTabUpdated, TabID: 99, URL: "https://x.example/"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	result, err := Run(&Scenario{
		Name:    "failing",
		Windows: oneWindow(),
		Steps:   []Step{{Advance: "1s"}},
		Assertions: []Assertion{
			{Type: AssertMessageCount, Message: ir.MessageAccess, Count: 1},
			{Type: AssertAttention, TabID: intPtr(10)},
		},
	})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "message_count")
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "navigation.yaml"))
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRun_TestdataScenariosPass(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_DisconnectDropsMessages(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "disconnect.yaml"))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, "disconnected", result.Channel)
	require.Len(t, result.Messages, 3)
	assert.True(t, result.Messages[0].Delivered)
	assert.False(t, result.Messages[1].Delivered)
	assert.False(t, result.Messages[2].Delivered)
}
