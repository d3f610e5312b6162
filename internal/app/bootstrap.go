package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/tyda-syda/sun/internal/config"
	"github.com/tyda-syda/sun/internal/notify"
	"github.com/tyda-syda/sun/internal/storage"
	logx "github.com/tyda-syda/sun/pkg/logx"
)

func mapLogConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}

func mapNotifyConfig(cfg *config.Snapshot) notify.Config {
	return notify.Config{
		Enabled:    cfg.NotifyEnabled(),
		AppName:    cfg.Daemon.AppName,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
	}
}

func mapStorageConfig(cfg *config.Snapshot) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validateSnapshot is the transactional reload gate: a snapshot failing here
// is never published and the previous one stays current.
func validateSnapshot(cfg *config.Snapshot) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	durations := []struct{ path, raw string }{
		{"battery.poll_interval", cfg.Battery.PollInterval},
		{"battery.notification_timeout", cfg.Battery.NotificationTimeout},
		{"brightness.notification_timeout", cfg.Brightness.NotificationTimeout},
		{"volume.sink_notification_timeout", cfg.Volume.SinkNotificationTimeout},
		{"volume.source_notification_timeout", cfg.Volume.SourceNotificationTimeout},
		{"volume.bluetooth_battery_poll", cfg.Volume.BluetoothBatteryPoll},
		{"volume.bluetooth_battery_low_timeout", cfg.Volume.BluetoothBatteryLowTimeout},
		{"keyboard.notification_timeout", cfg.Keyboard.NotificationTimeout},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := config.ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if t := cfg.Battery.LowThreshold; t < 0 || t > 100 {
		return fmt.Errorf("battery.low_threshold must be within 0..100, got %d", t)
	}
	if strings.TrimSpace(cfg.Battery.Device) == "" {
		return fmt.Errorf("battery.device must not be empty")
	}
	if w := cfg.Volume.BluetoothBatteryWarnLevel; w < 0 || w > 100 {
		return fmt.Errorf("volume.bluetooth_battery_warn_level must be within 0..100, got %d", w)
	}
	if cfg.Notify.QueueSize < 0 {
		return fmt.Errorf("notify.queue_size must be >= 0")
	}
	if cfg.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec must be >= 0")
	}

	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
