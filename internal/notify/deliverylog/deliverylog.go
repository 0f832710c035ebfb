// Package deliverylog keeps an append-only local record of delivered
// notifications in SQLite.
package deliverylog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id     TEXT    NOT NULL,
    event_type   TEXT    NOT NULL,
    recipient    TEXT    NOT NULL,
    subject      TEXT    NOT NULL,
    delivered_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_event_id ON deliveries(event_id);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z"

type Entry struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type Log struct {
	db *sql.DB
}

// Open opens (or creates) the log at path. Use ":memory:" in tests.
func Open(path string) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("deliverylog: apply schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) Record(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO deliveries (event_id, event_type, recipient, subject, delivered_at) VALUES (?, ?, ?, ?, ?)`,
		e.EventID, e.EventType, e.Recipient, e.Subject, e.DeliveredAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("deliverylog: record %q: %w", e.EventID, err)
	}
	return nil
}

// Recent returns the newest entries first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, event_type, recipient, subject, delivered_at FROM deliveries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Recipient, &e.Subject, &at); err != nil {
			return nil, fmt.Errorf("deliverylog: scan: %w", err)
		}
		e.DeliveredAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("deliverylog: parse time: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns how many deliveries were recorded for eventID.
func (l *Log) Count(ctx context.Context, eventID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("deliverylog: count: %w", err)
	}
	return n, nil
}
