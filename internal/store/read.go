package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/attend/internal/ir"
)

// ErrSessionNotFound is returned when a session id has no journal row.
var ErrSessionNotFound = errors.New("session not found")

// MessageRecord is one journaled send attempt.
type MessageRecord struct {
	ID         string
	SessionID  string
	Seq        int64
	Type       ir.MessageType
	TabID      *int
	Payload    json.RawMessage
	Delivered  bool
	RecordedAt time.Time
}

// Message decodes the journaled wire payload.
func (r MessageRecord) Message() (ir.Message, error) {
	var msg ir.Message
	if err := json.Unmarshal(r.Payload, &msg); err != nil {
		return ir.Message{}, fmt.Errorf("decode message %s: %w", r.ID, err)
	}
	return msg, nil
}

// IntervalTotal is the active time of one resource in one flushed interval.
type IntervalTotal struct {
	FlushSeq  int64
	Resource  string
	Active    time.Duration
	FlushedAt time.Time
}

// ResourceTotal is the active time of one resource summed over intervals.
type ResourceTotal struct {
	Resource  string
	Active    time.Duration
	Intervals int
}

// ReadSession returns the session with the given id.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, consumer, started_at, interval_ms, engine_version, wire_version
		FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// ListSessions returns all sessions, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, consumer, started_at, interval_ms, engine_version, wire_version
		FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess       Session
		startedMs  int64
		intervalMs int64
	)
	if err := sc.Scan(&sess.ID, &sess.Consumer, &startedMs, &intervalMs, &sess.EngineVersion, &sess.WireVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = time.UnixMilli(startedMs).UTC()
	sess.Interval = time.Duration(intervalMs) * time.Millisecond
	return sess, nil
}

// ListMessages returns the session's send attempts in seq order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, type, tab_id, payload, delivered, recorded_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var (
			rec        MessageRecord
			typ        string
			tabID      sql.NullInt64
			payload    string
			delivered  int
			recordedMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Seq, &typ, &tabID, &payload, &delivered, &recordedMs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Type = ir.MessageType(typ)
		if tabID.Valid {
			t := int(tabID.Int64)
			rec.TabID = &t
		}
		rec.Payload = json.RawMessage(payload)
		rec.Delivered = delivered == 1
		rec.RecordedAt = time.UnixMilli(recordedMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListIntervals returns the session's flushed totals in flush order.
func (s *Store) ListIntervals(ctx context.Context, sessionID string) ([]IntervalTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flush_seq, resource, active_ms, flushed_at
		FROM interval_totals
		WHERE session_id = ?
		ORDER BY flush_seq ASC, resource COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	defer rows.Close()

	var out []IntervalTotal
	for rows.Next() {
		var (
			it        IntervalTotal
			activeMs  int64
			flushedMs int64
		)
		if err := rows.Scan(&it.FlushSeq, &it.Resource, &activeMs, &flushedMs); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		it.Active = time.Duration(activeMs) * time.Millisecond
		it.FlushedAt = time.UnixMilli(flushedMs).UTC()
		out = append(out, it)
	}
	return out, rows.Err()
}

// ResourceTotals sums active time per resource, most active first. An
// empty sessionID sums across every session.
func (s *Store) ResourceTotals(ctx context.Context, sessionID string) ([]ResourceTotal, error) {
	query := `
		SELECT resource, SUM(active_ms), COUNT(*)
		FROM interval_totals
		WHERE (? = '' OR session_id = ?)
		GROUP BY resource
		ORDER BY SUM(active_ms) DESC, resource COLLATE BINARY ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query resource totals: %w", err)
	}
	defer rows.Close()

	var out []ResourceTotal
	for rows.Next() {
		var (
			rt       ResourceTotal
			activeMs int64
		)
		if err := rows.Scan(&rt.Resource, &activeMs, &rt.Intervals); err != nil {
			return nil, fmt.Errorf("scan resource total: %w", err)
		}
		rt.Active = time.Duration(activeMs) * time.Millisecond
		out = append(out, rt)
	}
	return out, rows.Err()
}
