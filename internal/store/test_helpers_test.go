package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/attend/internal/ir"
)

var testEpoch = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// insertSession records a session with a 60s interval.
func insertSession(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.BeginSession(context.Background(), Session{
		ID:        id,
		Consumer:  "com.example.consumer",
		StartedAt: testEpoch,
		Interval:  time.Minute,
	})
	if err != nil {
		t.Fatalf("BeginSession(%q) failed: %v", id, err)
	}
}

// testAccess builds an Access message for a document in tabID.
func testAccess(tabID int, url string) ir.Message {
	return ir.NewAccess(ir.Document{ID: tabID, URL: url, WindowID: 1, PID: 100 + tabID, SentAccess: true})
}
