// ABOUTME: SQLite event journal using modernc.org/sqlite
// ABOUTME: Append-only record of gateway events for offline inspection

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded gateway event.
type Entry struct {
	ID         int64
	Event      string
	Seq        int64
	Payload    map[string]any
	ReceivedAt time.Time
}

// Journal is an append-only SQLite log of events received from the gateway.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens a journal database at the given path. Parent
// directories are created if needed.
func Open(path string) (*Journal, error) {
	logger := slog.Default().With("component", "journal")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	// WAL mode so tail readers don't block the writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("journal opened", "path", path)
	return j, nil
}

func (j *Journal) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT '{}',
			received_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_event ON events(event);
		CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append records one event. Payload marshaling failures are recorded as an
// empty object rather than losing the event.
func (j *Journal) Append(ctx context.Context, event string, seq int64, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		j.logger.Warn("journal payload not serializable", "event", event, "error", err)
		body = []byte("{}")
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO events (event, seq, payload, received_at) VALUES (?, ?, ?, ?)`,
		event, seq, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending journal event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-empty event name
// filters to that event.
func (j *Journal) Recent(ctx context.Context, event string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, event, seq, payload, received_at FROM events`
	args := []any{}
	if event != "" {
		query += ` WHERE event = ?`
		args = append(args, event)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var body, receivedAt string
		if err := rows.Scan(&e.ID, &e.Event, &e.Seq, &body, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
			e.ReceivedAt = ts
		}
		if err := json.Unmarshal([]byte(body), &e.Payload); err != nil {
			e.Payload = map[string]any{}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
