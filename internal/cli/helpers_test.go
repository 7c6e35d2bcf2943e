package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attend/internal/ir"
	"github.com/roach88/attend/internal/store"
)

var journalEpoch = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

// seedJournal writes two sessions:
//
//	s-1: Access (delivered), one flush {a: 90s, b: 30s} with its
//	     ActiveTabs, then a dropped Leave
//	s-2: one flush {a: 30s}
func seedJournal(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "attend.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.BeginSession(ctx, store.Session{
		ID: "s-1", Consumer: "com.example.consumer", StartedAt: journalEpoch, Interval: 2 * time.Minute,
	}))
	require.NoError(t, st.BeginSession(ctx, store.Session{
		ID: "s-2", Consumer: "com.example.consumer", StartedAt: journalEpoch.Add(time.Hour), Interval: 2 * time.Minute,
	}))

	doc := ir.Document{ID: 10, URL: "https://a.example/", WindowID: 1, PID: 42, SentAccess: true}
	totals := map[string]time.Duration{
		"https://a.example/": 90 * time.Second,
		"https://b.example/": 30 * time.Second,
	}
	require.NoError(t, st.RecordMessage(ctx, "s-1", 1, ir.NewAccess(doc), true, journalEpoch.Add(2*time.Second)))
	require.NoError(t, st.RecordFlush(ctx, "s-1", 1, totals, journalEpoch.Add(2*time.Minute)))
	require.NoError(t, st.RecordMessage(ctx, "s-1", 2, ir.NewActiveTabs(totals), true, journalEpoch.Add(2*time.Minute)))
	require.NoError(t, st.RecordMessage(ctx, "s-1", 3, ir.NewLeave(10, doc), false, journalEpoch.Add(150*time.Second)))

	require.NoError(t, st.RecordFlush(ctx, "s-2", 1,
		map[string]time.Duration{"https://a.example/": 30 * time.Second},
		journalEpoch.Add(time.Hour+2*time.Minute)))

	return dbPath
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
