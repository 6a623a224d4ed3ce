package logging

import (
	"database/sql"
	"time"
)

// #region run-event
// RunEvent is a single row in the run_events table.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"` // "created" | "transition" | "trust_sync"
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// #endregion run-event

// #region db-handles
// Execer is satisfied by *sql.DB and *sql.Tx so events can be written inside
// the transaction that caused them.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

// #endregion db-handles
