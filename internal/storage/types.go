package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": jsonl audit + snapshot/journal state files
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit sources.
const (
	SourceSchedule = "schedule"
	SourceHTTP     = "http"
	SourceSystem   = "system"
)

// AuditEntry records one ring or operator command.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Action string    `json:"action"`
	Track  int       `json:"track,omitempty"`
	Volume int       `json:"volume,omitempty"`
	Label  string    `json:"label,omitempty"`
	Error  string    `json:"error,omitempty"`
}
