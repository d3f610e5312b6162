package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Snapshot is one immutable, fully-parsed view of the configuration file.
//
// A Snapshot is never mutated after Publish: reloads build a fresh value and
// swap the whole pointer, so readers can hold onto one without locks and
// never see a half-applied reload.
//
// Generation is assigned by the Store on Publish and grows monotonically;
// it identifies which reload a reader observed.
type Snapshot struct {
	Generation uint64 `json:"-"`

	Daemon     DaemonConfig     `json:"daemon"`
	Icons      IconsConfig      `json:"icons"`
	Battery    BatteryConfig    `json:"battery"`
	Brightness BrightnessConfig `json:"brightness"`
	Volume     VolumeConfig     `json:"volume"`
	Keyboard   KeyboardConfig   `json:"keyboard"`

	Notify  NotifyConfig   `json:"notify"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`
}

// DaemonConfig holds process-wide settings.
type DaemonConfig struct {
	// AppName is reported to the notification server. Default: "sun".
	AppName string `json:"app_name,omitempty"`

	// ErrorIcon decorates the daemon's own failure notifications
	// (config parse errors, the death notice).
	ErrorIcon string `json:"error_icon,omitempty"`
}

// IconsConfig controls where icon names resolve from.
//
// Path is prepended to every relative icon name below. Absolute icon names
// are used as-is.
type IconsConfig struct {
	Path string `json:"path,omitempty"` // default: /usr/share/icons/Adwaita/symbolic/
}

// BatteryConfig controls the power-supply monitor.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - device: "BAT0"
//   - poll_interval: "15s"
//   - low_threshold: 15
type BatteryConfig struct {
	Enabled bool `json:"enabled"`

	// Device selects /sys/class/power_supply/<device>.
	Device string `json:"device,omitempty"`

	// PollInterval bounds the wait between forced capacity checks even when
	// the kernel sends no uevent.
	PollInterval string `json:"poll_interval,omitempty"`

	// LowThreshold is the capacity percent at or below which, while
	// discharging, a critical warning fires (once per crossing).
	LowThreshold int `json:"low_threshold,omitempty"`

	NotificationTimeout string `json:"notification_timeout,omitempty"` // default "2.5s"

	// Icon names. Charging/Discharging support a "{level}" placeholder
	// replaced with the capacity rounded down to tens (min 10).
	FullIcon        string `json:"full_icon,omitempty"`
	ChargingIcon    string `json:"charging_icon,omitempty"`
	DischargingIcon string `json:"discharging_icon,omitempty"`
	LowIcon         string `json:"low_icon,omitempty"`

	// Dynamic*Icon toggle the "{level}" substitution. Omitted means on;
	// set false to use the configured icon name literally.
	DynamicChargingIcon    *bool `json:"dynamic_charging_icon,omitempty"`
	DynamicDischargingIcon *bool `json:"dynamic_discharging_icon,omitempty"`
}

// BrightnessConfig controls the backlight monitor.
type BrightnessConfig struct {
	Enabled bool `json:"enabled"`

	NotificationTimeout string `json:"notification_timeout,omitempty"` // default "3s"
	Icon                string `json:"icon,omitempty"`
}

// VolumeConfig controls the audio sink/source monitor.
//
// Defaults (when fields are omitted/zero):
//   - sink_notification_timeout: "2.5s"
//   - source_notification_timeout: "2.5s"
//   - bluetooth_battery_poll: "30s"
//   - bluetooth_battery_warn_level: 15
type VolumeConfig struct {
	Enabled bool `json:"enabled"`

	SinkNotificationTimeout   string `json:"sink_notification_timeout,omitempty"`
	SourceNotificationTimeout string `json:"source_notification_timeout,omitempty"`

	// BluetoothBatteryPoll bounds the wait between battery reads while the
	// default sink is a Bluetooth device that reports a battery.
	BluetoothBatteryPoll      string `json:"bluetooth_battery_poll,omitempty"`
	BluetoothBatteryWarnLevel int    `json:"bluetooth_battery_warn_level,omitempty"`

	// BluetoothBatteryLowTimeout is the expiry for the low-battery warning.
	// Omitted or "0s" keeps it on screen until dismissed.
	BluetoothBatteryLowTimeout string `json:"bluetooth_battery_low_timeout,omitempty"`

	SinkIcon          string `json:"sink_icon,omitempty"`
	SinkMutedIcon     string `json:"sink_muted_icon,omitempty"`
	SinkBluetoothIcon string `json:"sink_bluetooth_icon,omitempty"`
	SourceIcon        string `json:"source_icon,omitempty"`
	SourceMutedIcon   string `json:"source_muted_icon,omitempty"`
}

// KeyboardConfig controls the keyboard-layout monitor.
type KeyboardConfig struct {
	Enabled bool `json:"enabled"`

	NotificationTimeout string `json:"notification_timeout,omitempty"` // default "2.5s"
	Icon                string `json:"icon,omitempty"`
}

// NotifyConfig controls the notification dispatch pipeline.
//
// If the whole section is omitted, dispatch defaults to enabled=true.
type NotifyConfig struct {
	Enabled    *bool `json:"enabled,omitempty"`
	QueueSize  int   `json:"queue_size,omitempty"`   // default 64
	RatePerSec int   `json:"rate_per_sec,omitempty"` // default 20
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./sun_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifyEnabled resolves the optional notify.enabled flag; omitted means on.
func (s *Snapshot) NotifyEnabled() bool {
	if s == nil {
		return false
	}
	if s.Notify.Enabled == nil {
		return true
	}
	return *s.Notify.Enabled
}

// Resolve joins a relative icon name onto the icon path. Absolute names and
// empty names pass through untouched.
func (c IconsConfig) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Path, name)
}

func (c BatteryConfig) PollIntervalOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("battery.poll_interval", c.PollInterval, DefaultBatteryPoll)
	if err != nil {
		return DefaultBatteryPoll
	}
	return d
}

func (c BatteryConfig) NotificationTimeoutMillis() int32 {
	return timeoutMillis(c.NotificationTimeout, 2500)
}

// DynamicChargingIconEnabled resolves the optional flag; omitted means on.
func (c BatteryConfig) DynamicChargingIconEnabled() bool {
	return c.DynamicChargingIcon == nil || *c.DynamicChargingIcon
}

// DynamicDischargingIconEnabled resolves the optional flag; omitted means on.
func (c BatteryConfig) DynamicDischargingIconEnabled() bool {
	return c.DynamicDischargingIcon == nil || *c.DynamicDischargingIcon
}

func (c BrightnessConfig) NotificationTimeoutMillis() int32 {
	return timeoutMillis(c.NotificationTimeout, 3000)
}

func (c VolumeConfig) SinkNotificationTimeoutMillis() int32 {
	return timeoutMillis(c.SinkNotificationTimeout, 2500)
}

func (c VolumeConfig) SourceNotificationTimeoutMillis() int32 {
	return timeoutMillis(c.SourceNotificationTimeout, 2500)
}

func (c VolumeConfig) BluetoothBatteryPollOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("volume.bluetooth_battery_poll", c.BluetoothBatteryPoll, DefaultBluetoothBatteryPoll)
	if err != nil {
		return DefaultBluetoothBatteryPoll
	}
	return d
}

func (c VolumeConfig) BluetoothBatteryLowTimeoutMillis() int32 {
	return timeoutMillis(c.BluetoothBatteryLowTimeout, 0)
}

func (c KeyboardConfig) NotificationTimeoutMillis() int32 {
	return timeoutMillis(c.NotificationTimeout, 2500)
}
