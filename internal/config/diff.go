package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes the pprof token).
// Used by the reload fanout so every applied reload leaves a readable trace.
func SummarizeChange(oldCfg, newCfg *Snapshot) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Snapshot{}
	}
	if newCfg == nil {
		newCfg = &Snapshot{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Daemon != newCfg.Daemon || oldCfg.Icons != newCfg.Icons {
		changed = append(changed, "daemon")
		attrs = append(attrs,
			logx.String("daemon.app_name", newCfg.Daemon.AppName),
			logx.String("icons.path", newCfg.Icons.Path),
		)
	}

	if !reflect.DeepEqual(oldCfg.Battery, newCfg.Battery) {
		changed = append(changed, "battery")
		attrs = append(attrs,
			logx.Bool("battery.enabled", newCfg.Battery.Enabled),
			logx.String("battery.device", newCfg.Battery.Device),
			logx.Duration("battery.poll_interval", newCfg.Battery.PollIntervalOrDefault()),
			logx.Int("battery.low_threshold", newCfg.Battery.LowThreshold),
		)
	}

	if !reflect.DeepEqual(oldCfg.Brightness, newCfg.Brightness) {
		changed = append(changed, "brightness")
		attrs = append(attrs,
			logx.Bool("brightness.enabled", newCfg.Brightness.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Volume, newCfg.Volume) {
		changed = append(changed, "volume")
		attrs = append(attrs,
			logx.Bool("volume.enabled", newCfg.Volume.Enabled),
			logx.Duration("volume.bluetooth_battery_poll", newCfg.Volume.BluetoothBatteryPollOrDefault()),
			logx.Int("volume.bluetooth_battery_warn_level", newCfg.Volume.BluetoothBatteryWarnLevel),
		)
	}

	if !reflect.DeepEqual(oldCfg.Keyboard, newCfg.Keyboard) {
		changed = append(changed, "keyboard")
		attrs = append(attrs,
			logx.Bool("keyboard.enabled", newCfg.Keyboard.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newCfg.NotifyEnabled()),
			logx.Int("notify.queue_size", newCfg.Notify.QueueSize),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage (persistence). Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.String("pprof.prefix", strings.TrimSpace(newCfg.Pprof.Prefix)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
