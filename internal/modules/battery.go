package modules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tyda-syda/sun/internal/config"
	"github.com/tyda-syda/sun/internal/notify"
	"github.com/tyda-syda/sun/internal/sources"
	logx "github.com/tyda-syda/sun/pkg/logx"
)

// Power-supply status strings as the kernel reports them.
const (
	statusCharging    = "Charging"
	statusDischarging = "Discharging"
	statusFull        = "Full"
)

// BatteryPolicy turns power-supply samples into transition notifications:
// one per status change, "Battery is full" once per charge cycle, and a
// single critical warning per low-threshold crossing while discharging.
//
// Each uevent or poll tick re-samples sysfs; the latches below keep repeat
// polls in the same state from re-notifying.
type BatteryPolicy struct {
	sample func(device string) (sources.PowerSample, error)
	log    logx.Logger

	last   string
	primed bool
	full   bool
	warned bool
}

func NewBatteryPolicy(log logx.Logger) *BatteryPolicy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BatteryPolicy{sample: sources.ReadPowerSupply, log: log}
}

func (p *BatteryPolicy) Name() string { return "battery" }

func (p *BatteryPolicy) Enabled(cfg *config.Snapshot) bool { return cfg.Battery.Enabled }

func (p *BatteryPolicy) PollInterval(cfg *config.Snapshot) time.Duration {
	return cfg.Battery.PollIntervalOrDefault()
}

func (p *BatteryPolicy) Decide(_ context.Context, _ Event, cfg *config.Snapshot) ([]notify.Request, error) {
	s, err := p.sample(cfg.Battery.Device)
	if err != nil {
		return nil, err
	}
	bc := cfg.Battery

	statusChanged := p.primed && s.Status != p.last
	if !p.primed || statusChanged {
		p.last = s.Status
		p.primed = true
		p.full = false
		p.warned = false
	}

	var reqs []notify.Request

	if statusChanged && s.Status != statusFull {
		if icon, ok := statusIcon(bc, s.Status, s.Capacity); ok {
			reqs = append(reqs, notify.Request{
				Module:     p.Name(),
				ReplaceKey: notify.KeyBattery,
				Summary:    "Battery",
				Body:       s.Status,
				Urgency:    notify.UrgencyNormal,
				Icon:       cfg.Icons.Resolve(icon),
				Timeout:    bc.NotificationTimeoutMillis(),
			})
		} else {
			p.log.Warn("unknown battery status", logx.String("status", s.Status))
		}
	}

	if s.Status == statusFull && !p.full {
		p.full = true
		reqs = append(reqs, notify.Request{
			Module:     p.Name(),
			ReplaceKey: notify.KeyBattery,
			Summary:    "Battery",
			Body:       "Battery is full",
			Urgency:    notify.UrgencyNormal,
			Icon:       cfg.Icons.Resolve(bc.FullIcon),
			Timeout:    0, // stays until dismissed
		})
	}

	switch {
	case s.Status == statusDischarging && s.Capacity <= bc.LowThreshold:
		if !p.warned {
			p.warned = true
			reqs = append(reqs, notify.Request{
				Module:     p.Name(),
				ReplaceKey: notify.KeyBattery,
				Summary:    "Battery",
				Body:       fmt.Sprintf("%d%% left, connect charger", s.Capacity),
				Urgency:    notify.UrgencyCritical,
				Icon:       cfg.Icons.Resolve(bc.LowIcon),
				Timeout:    0,
			})
		}
	case s.Status == statusDischarging:
		// Recovered above the threshold; re-arm the warning.
		p.warned = false
	}

	return reqs, nil
}

// statusIcon picks the configured icon for a status, applying the "{level}"
// substitution (capacity rounded down to tens, minimum 10) where enabled.
func statusIcon(bc config.BatteryConfig, status string, capacity int) (string, bool) {
	level := capacity / 10
	if level < 1 {
		level = 1
	}
	lvl := strconv.Itoa(level * 10)

	switch status {
	case statusCharging:
		if bc.DynamicChargingIconEnabled() {
			return strings.ReplaceAll(bc.ChargingIcon, "{level}", lvl), true
		}
		return bc.ChargingIcon, true
	case statusDischarging:
		if bc.DynamicDischargingIconEnabled() {
			return strings.ReplaceAll(bc.DischargingIcon, "{level}", lvl), true
		}
		return bc.DischargingIcon, true
	case statusFull:
		return bc.FullIcon, true
	default:
		return "", false
	}
}
