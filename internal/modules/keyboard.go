package modules

import (
	"context"
	"time"

	"github.com/tyda-syda/sun/internal/config"
	"github.com/tyda-syda/sun/internal/notify"
	"github.com/tyda-syda/sun/internal/sources"
	logx "github.com/tyda-syda/sun/pkg/logx"
)

// KeyboardPolicy announces keyboard-layout switches. The compositor stream
// already deduplicates (it only reports actual switches), so every change
// becomes one popup.
type KeyboardPolicy struct {
	log logx.Logger
}

func NewKeyboardPolicy(log logx.Logger) *KeyboardPolicy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &KeyboardPolicy{log: log}
}

func (p *KeyboardPolicy) Name() string { return "keyboard" }

func (p *KeyboardPolicy) Enabled(cfg *config.Snapshot) bool { return cfg.Keyboard.Enabled }

func (p *KeyboardPolicy) PollInterval(*config.Snapshot) time.Duration { return 0 }

func (p *KeyboardPolicy) Decide(_ context.Context, ev Event, cfg *config.Snapshot) ([]notify.Request, error) {
	if ev.Tick {
		return nil, nil
	}
	ch, ok := ev.Data.(sources.LayoutChange)
	if !ok || ch.Name == "" {
		return nil, nil
	}
	return []notify.Request{{
		Module:     p.Name(),
		ReplaceKey: notify.KeyKeyboard,
		Summary:    "Layout",
		Body:       ch.Name,
		Urgency:    notify.UrgencyNormal,
		Icon:       cfg.Icons.Resolve(cfg.Keyboard.Icon),
		Timeout:    cfg.Keyboard.NotificationTimeoutMillis(),
	}}, nil
}
