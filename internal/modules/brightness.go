package modules

import (
	"context"
	"time"

	"github.com/tyda-syda/sun/internal/config"
	"github.com/tyda-syda/sun/internal/notify"
	"github.com/tyda-syda/sun/internal/sources"
	logx "github.com/tyda-syda/sun/pkg/logx"
)

// BrightnessPolicy reacts to backlight uevents: read the changed device's
// level, skip unchanged percentages, otherwise emit one progress popup.
type BrightnessPolicy struct {
	readPercent func(devpath string) (int, error)
	log         logx.Logger

	// last percent per device; panel and keyboard backlights must not
	// suppress each other.
	last map[string]int
}

func NewBrightnessPolicy(log logx.Logger) *BrightnessPolicy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BrightnessPolicy{readPercent: sources.ReadBacklightPercent, log: log, last: map[string]int{}}
}

func (p *BrightnessPolicy) Name() string { return "brightness" }

func (p *BrightnessPolicy) Enabled(cfg *config.Snapshot) bool { return cfg.Brightness.Enabled }

// PollInterval returns 0: backlight changes always arrive as uevents, so
// the worker falls back to the generic config-recheck bound.
func (p *BrightnessPolicy) PollInterval(*config.Snapshot) time.Duration { return 0 }

func (p *BrightnessPolicy) Decide(_ context.Context, ev Event, cfg *config.Snapshot) ([]notify.Request, error) {
	if ev.Tick {
		return nil, nil
	}
	u, ok := ev.Data.(sources.Uevent)
	if !ok || u.Devpath == "" {
		return nil, nil
	}

	percent, err := p.readPercent(u.Devpath)
	if err != nil {
		return nil, err
	}
	if prev, ok := p.last[u.Devpath]; ok && prev == percent {
		return nil, nil
	}
	p.last[u.Devpath] = percent

	return []notify.Request{{
		Module:     p.Name(),
		ReplaceKey: notify.KeyBrightness,
		Summary:    "Brightness",
		Urgency:    notify.UrgencyNormal,
		Icon:       cfg.Icons.Resolve(cfg.Brightness.Icon),
		Timeout:    cfg.Brightness.NotificationTimeoutMillis(),
		Value:      percent,
		HasValue:   true,
	}}, nil
}
