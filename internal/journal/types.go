package journal

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("journal disabled")

// Config configures the failure journal.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one listener failure during dispatch.
// Keep it compact and schema-stable.
type Entry struct {
	At       time.Time `json:"at"`
	Event    string    `json:"event"`
	Listener string    `json:"listener"`
	Error    string    `json:"error"`
	Stack    string    `json:"stack,omitempty"`
}
