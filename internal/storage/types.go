package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures persistence.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// NotificationRecord is one dispatched (or failed) notification for the
// audit trail. Keep it compact and schema-stable.
type NotificationRecord struct {
	At       time.Time
	Module   string
	Key      string
	Summary  string
	Body     string
	Urgency  string
	ServerID uint32
	Error    string
}
