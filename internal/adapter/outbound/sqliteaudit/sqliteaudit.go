// Package sqliteaudit implements audit.Recorder against a local SQLite
// database via modernc.org/sqlite, a dependency the teacher declares but
// never imports; the execution audit trail (spec §4.K) gives it a genuine,
// exercised role: a derived, best-effort log of what ran, not the rule
// cache itself (Non-goal (d) is about the cache, not a write-only log).
package sqliteaudit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/sentinelgate/ruleengine/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id  TEXT PRIMARY KEY,
	selector_kind INTEGER NOT NULL,
	rule_ids      TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	duration_ms   REAL NOT NULL,
	outcome       INTEGER NOT NULL,
	result_count  INTEGER NOT NULL,
	error_count   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	rule_id    TEXT,
	threshold  REAL NOT NULL,
	observed   REAL NOT NULL,
	at         INTEGER NOT NULL
);
`

// Recorder persists execution and alert records to a SQLite file. Every
// write is best-effort: a failure is logged and swallowed, never returned
// to the execution path as a user-visible error (spec §4.K).
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists.
func Open(path string, logger *slog.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger}, nil
}

// RecordExecution inserts one ExecutionRecord; for an execution id that
// already has a row, it updates that row's duration, outcome and counts in
// place (a caller-side retry producing a duplicate id is idempotent here).
func (r *Recorder) RecordExecution(ctx context.Context, rec audit.ExecutionRecord) error {
	ruleIDs, err := json.Marshal(rec.RuleIDs)
	if err != nil {
		r.logger.Warn("audit: marshal rule ids failed", "error", err)
		return nil
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, selector_kind, rule_ids, started_at, duration_ms, outcome, result_count, error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			duration_ms=excluded.duration_ms, outcome=excluded.outcome,
			result_count=excluded.result_count, error_count=excluded.error_count
	`,
		rec.ExecutionID, int(rec.SelectorKind), string(ruleIDs), rec.StartedAt.UnixMilli(),
		rec.DurationMs, int(rec.Outcome), rec.ResultCount, rec.ErrorCount,
	)
	if err != nil {
		r.logger.Warn("audit: record execution failed", "error", err, "execution_id", rec.ExecutionID)
		return nil
	}
	return nil
}

// RecordAlert inserts one AlertEvent row.
func (r *Recorder) RecordAlert(ctx context.Context, ev audit.AlertEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (kind, rule_id, threshold, observed, at)
		VALUES (?, ?, ?, ?, ?)
	`, string(ev.Kind), string(ev.RuleID), ev.Threshold, ev.Observed, ev.At.UnixMilli())
	if err != nil {
		r.logger.Warn("audit: record alert failed", "error", err, "kind", ev.Kind)
		return nil
	}
	return nil
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}

var _ audit.Recorder = (*Recorder)(nil)
