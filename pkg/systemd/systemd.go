// Package systemd wraps sd_notify integration for running as a user service.
// Every call degrades to a no-op outside systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// NotifyReady tells the service manager startup finished (Type=notify).
func NotifyReady(log logx.Logger) {
	sent, err := sd.SdNotify(false, sd.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify READY failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify READY sent")
	}
}

// NotifyStopping announces the beginning of shutdown.
func NotifyStopping(log logx.Logger) {
	if _, err := sd.SdNotify(false, sd.SdNotifyStopping); err != nil {
		log.Warn("sd_notify STOPPING failed", logx.Err(err))
	}
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// until ctx is cancelled. It returns immediately when no watchdog is armed,
// so it is safe to run unconditionally as a supervised goroutine.
func RunWatchdog(ctx context.Context, log logx.Logger) {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog query failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	tick := interval / 2
	log.Debug("systemd watchdog armed", logx.Duration("interval", interval))
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := sd.SdNotify(false, sd.SdNotifyWatchdog); err != nil {
				log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
