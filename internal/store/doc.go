// Package store provides the SQLite-backed dispatch journal.
//
// The journal is append-only:
//   - Sessions: one row per engine run, with its consumer and interval
//   - Messages: every message the dispatcher attempted to send, with the
//     wire payload and whether it was delivered
//   - Interval totals: per-resource active time of every flushed interval
//
// Ordering uses the seq column (the engine's logical clock), never the
// wall-clock columns, and every read orders by seq ASC, id ASC COLLATE
// BINARY.
//
// Message ids are content-addressed (ir.MessageID), so recording the same
// message twice is a no-op: writes use ON CONFLICT DO NOTHING.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads (attend report) during writes (attend run)
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Writes are additionally retried with capped exponential backoff when
// SQLite reports a transient busy or locked condition.
package store
