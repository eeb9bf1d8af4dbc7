package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Audit entry kinds.
const (
	KindExecution   = "execution"
	KindPublication = "publication"
	KindTask        = "task"
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one lifecycle outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time
	Kind       string // execution | publication | task
	RefID      string // execution, publication or task id
	Name       string // workflow name, content id or task name
	Status     string
	OK         int // successful units (steps or channels)
	Fail       int
	Error      string
	TookMS     int64
	DetailJSON string
}
