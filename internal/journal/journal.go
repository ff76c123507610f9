// Package journal keeps an append-only sqlite record of aggregated events
// for diagnostics. Nothing is ever read back into the synchronizer; dropping
// the file loses history, not state.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mkotake/fleetview/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	port INTEGER NOT NULL,
	directory TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	received_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
`

type Entry struct {
	EventID    string
	Port       int
	Directory  string
	Type       string
	Payload    string
	ReceivedAt time.Time
}

type Journal struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod journal path: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations(version, applied_at) VALUES (1, ?)`,
		ts(time.Now().UTC())); err != nil {
		return nil, fmt.Errorf("record schema version: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Append(ctx context.Context, ev model.AggregatedEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO events(event_id, port, directory, event_type, payload, received_at)
VALUES (?, ?, ?, ?, ?, ?)
`, uuid.NewString(), ev.Port, ev.Directory, ev.Payload.Type, string(payload), ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Record is Append shaped for the connection manager's event callback:
// journaling failure must never stall event delivery, so errors only reach
// stderr.
func (j *Journal) Record(ev model.AggregatedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.Append(ctx, ev); err != nil {
		fmt.Fprintf(os.Stderr, "fleetview: journal append: %v\n", err)
	}
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT event_id, port, directory, event_type, payload, received_at
FROM events
ORDER BY received_at DESC, event_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		var entry Entry
		var receivedAt string
		if err := rows.Scan(&entry.EventID, &entry.Port, &entry.Directory, &entry.Type, &entry.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entry.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PruneBefore deletes entries received before the cutoff and reports how many
// went away.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE received_at < ?`, ts(cutoff.UTC()))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// timestampLayout keeps the fractional part fixed width so that string order
// over received_at matches time order. RFC3339Nano trims trailing zeros and
// would not.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.Format(timestampLayout)
}
