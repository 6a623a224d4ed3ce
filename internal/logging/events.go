package logging

import (
	"fmt"
	"time"
)

// EventsSchema creates the run_events table. The registry store runs it as
// part of its own migration.
const EventsSchema = `
CREATE TABLE IF NOT EXISTS run_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	from_status TEXT,
	to_status   TEXT,
	detail      TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`

// #region log-event
// LogEvent writes a lifecycle entry to the run_events table.
func LogEvent(db Execer, event RunEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO run_events (run_id, kind, from_status, to_status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID,
		event.Kind,
		nullIfEmpty(event.FromStatus),
		nullIfEmpty(event.ToStatus),
		nullIfEmpty(event.Detail),
		event.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// #endregion log-event

// #region list-events
// ListEvents returns the events of one run, oldest first.
func ListEvents(db Querier, runID string) ([]RunEvent, error) {
	rows, err := db.Query(
		`SELECT run_id, kind, from_status, to_status, detail, created_at
		 FROM run_events WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var from, to, detail *string
		var createdStr string
		if err := rows.Scan(&e.RunID, &e.Kind, &from, &to, &detail, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.FromStatus = deref(from)
		e.ToStatus = deref(to)
		e.Detail = deref(detail)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, e)
	}
	return events, rows.Err()
}

// #endregion list-events

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// #endregion helpers
