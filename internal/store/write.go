package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/attend/internal/ir"
)

// Session describes one engine run recorded in the journal.
type Session struct {
	ID            string
	Consumer      string
	StartedAt     time.Time
	Interval      time.Duration
	EngineVersion string
	WireVersion   string
}

// BeginSession records the start of an engine run. Recording the same
// session id twice is a no-op.
func (s *Store) BeginSession(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("begin session: empty id")
	}
	if sess.EngineVersion == "" {
		sess.EngineVersion = ir.EngineVersion
	}
	if sess.WireVersion == "" {
		sess.WireVersion = ir.WireVersion
	}
	return retryOp(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, consumer, started_at, interval_ms, engine_version, wire_version)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			sess.ID,
			sess.Consumer,
			sess.StartedAt.UnixMilli(),
			sess.Interval.Milliseconds(),
			sess.EngineVersion,
			sess.WireVersion,
		)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
		return nil
	})
}

// RecordMessage journals one send attempt at position seq of the session.
// The row id is ir.MessageID(sessionID, seq, msg), so replaying the same
// record is a no-op.
func (s *Store) RecordMessage(ctx context.Context, sessionID string, seq int64, msg ir.Message, delivered bool, at time.Time) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	id, err := ir.MessageID(sessionID, seq, msg)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("record message: marshal payload: %w", err)
	}

	var tabID sql.NullInt64
	if t, ok := messageTabID(msg); ok {
		tabID = sql.NullInt64{Int64: int64(t), Valid: true}
	}

	return retryOp(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, seq, type, tab_id, payload, delivered, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			id,
			sessionID,
			seq,
			string(msg.Type),
			tabID,
			string(payload),
			boolToInt(delivered),
			at.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message seq=%d: %w", seq, err)
		}
		return nil
	})
}

// RecordFlush journals the totals of one flushed interval in a single
// transaction, one row per resource.
func (s *Store) RecordFlush(ctx context.Context, sessionID string, flushSeq int64, totals map[string]time.Duration, at time.Time) error {
	if len(totals) == 0 {
		return nil
	}
	resources := make([]string, 0, len(totals))
	for r := range totals {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	return retryOp(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin flush tx: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO interval_totals (session_id, flush_seq, resource, active_ms, flushed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id, flush_seq, resource) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare flush insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range resources {
			ms := totals[r].Milliseconds()
			if ms < 0 {
				ms = 0
			}
			if _, err := stmt.ExecContext(ctx, sessionID, flushSeq, r, ms, at.UnixMilli()); err != nil {
				return fmt.Errorf("insert total %q: %w", r, err)
			}
		}
		return tx.Commit()
	})
}

// messageTabID returns the tab a message is about, if any.
func messageTabID(msg ir.Message) (int, bool) {
	switch {
	case msg.TabID != nil:
		return *msg.TabID, true
	case msg.DocumentInfo != nil:
		return msg.DocumentInfo.ID, true
	}
	return 0, false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
