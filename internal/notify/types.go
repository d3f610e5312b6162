package notify

import "time"

// Urgency is the Freedesktop Notifications urgency hint byte.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Replace keys. One per logical notification slot; the set is fixed at
// startup and the dispatcher rejects anything outside it, so two modules can
// never fight over the same popup and no slot is ever fabricated at runtime.
const (
	KeyBattery      = "battery-status"
	KeyBrightness   = "brightness-level"
	KeySinkVolume   = "volume-sink"
	KeySourceVolume = "volume-source"
	KeyKeyboard     = "keyboard-layout"
	KeyConfigStatus = "config-status"
	KeyDaemonStatus = "daemon-status"
)

// Keys returns the full fixed replace-key set.
func Keys() []string {
	return []string{
		KeyBattery,
		KeyBrightness,
		KeySinkVolume,
		KeySourceVolume,
		KeyKeyboard,
		KeyConfigStatus,
		KeyDaemonStatus,
	}
}

// Request is one desktop notification to create or update.
//
// Timeout semantics follow the protocol: milliseconds, 0 keeps the popup on
// screen until dismissed, -1 defers to the server default.
type Request struct {
	Module     string
	ReplaceKey string
	Summary    string
	Body       string
	Urgency    Urgency
	Icon       string
	Timeout    int32

	// Value is the progress-bar hint (volume/brightness percent).
	Value    int
	HasValue bool

	Transient bool
}

// Config controls the dispatch pipeline.
type Config struct {
	Enabled    bool
	AppName    string
	QueueSize  int
	RatePerSec int
}

// Event is published on the event bus for dispatch lifecycle events
// ("notify.queued", "notify.sent", "notify.failed", "notify.closed").
type Event struct {
	Module   string    `json:"module,omitempty"`
	Key      string    `json:"key"`
	ServerID uint32    `json:"server_id,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
