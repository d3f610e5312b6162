package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/tyda-syda/sun/internal/config"
	"github.com/tyda-syda/sun/internal/notify"
	"github.com/tyda-syda/sun/internal/sources"
	logx "github.com/tyda-syda/sun/pkg/logx"
)

// AudioState reads the current default devices of the audio server.
type AudioState interface {
	DefaultSink(ctx context.Context) (sources.AudioDevice, error)
	DefaultSource(ctx context.Context) (sources.AudioDevice, error)
}

// BatteryReader looks up a Bluetooth device's battery percentage. ok is
// false when the device reports no battery.
type BatteryReader interface {
	BatteryPercent(ctx context.Context, path string) (percent int, ok bool)
}

// audioFingerprint is the notification-relevant part of a device's state.
// Events that leave it unchanged (card profile churn, stream moves) are
// dropped instead of re-notifying.
type audioFingerprint struct {
	index  int
	volume int
	mute   bool
}

// VolumePolicy turns pulse change events into sink/source popups, enriched
// with Bluetooth battery levels when the default sink is a BT device.
//
// While a battery-reporting sink is active the poll interval tightens so a
// draining headset is noticed without any volume activity; the low warning
// fires once per crossing, like the power-supply one.
type VolumePolicy struct {
	state   AudioState
	battery BatteryReader
	log     logx.Logger

	sink      audioFingerprint
	sinkSeen  bool
	src       audioFingerprint
	srcSeen   bool
	btPath    string
	btPresent bool
	btWarned  bool
}

// NewVolumePolicy builds the policy; battery may be nil when no system bus
// is available, which disables the Bluetooth enrichment but nothing else.
func NewVolumePolicy(state AudioState, battery BatteryReader, log logx.Logger) *VolumePolicy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &VolumePolicy{state: state, battery: battery, log: log}
}

func (p *VolumePolicy) Name() string { return "volume" }

func (p *VolumePolicy) Enabled(cfg *config.Snapshot) bool { return cfg.Volume.Enabled }

func (p *VolumePolicy) PollInterval(cfg *config.Snapshot) time.Duration {
	if p.btPresent {
		return cfg.Volume.BluetoothBatteryPollOrDefault()
	}
	return 0
}

func (p *VolumePolicy) Decide(ctx context.Context, ev Event, cfg *config.Snapshot) ([]notify.Request, error) {
	if ev.Tick {
		return p.decideTick(ctx, cfg)
	}
	ch, ok := ev.Data.(sources.PulseChange)
	if !ok {
		return nil, nil
	}

	var reqs []notify.Request
	if ch.Facility == "sink" || ch.Facility == "server" {
		req, err := p.decideSink(ctx, cfg, false)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req...)
	}
	if ch.Facility == "source" || ch.Facility == "server" {
		req, err := p.decideSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req...)
	}
	return reqs, nil
}

// decideTick is the Bluetooth battery recheck: no pulse event happened, so
// only a newly-low battery justifies a popup.
func (p *VolumePolicy) decideTick(ctx context.Context, cfg *config.Snapshot) ([]notify.Request, error) {
	if !p.btPresent {
		return nil, nil
	}
	return p.decideSink(ctx, cfg, true)
}

// decideSink refreshes the default-sink state. With lowOnly set, only a
// low-battery transition produces a request; otherwise any fingerprint
// change does.
func (p *VolumePolicy) decideSink(ctx context.Context, cfg *config.Snapshot, lowOnly bool) ([]notify.Request, error) {
	dev, err := p.state.DefaultSink(ctx)
	if err != nil {
		return nil, err
	}
	fp := audioFingerprint{index: dev.Index, volume: dev.VolumePercent, mute: dev.Mute}
	changed := !p.sinkSeen || fp != p.sink
	if p.btPath != dev.BluezPath {
		// Different headset (or none): its warning state starts over.
		p.btWarned = false
	}
	p.sink, p.sinkSeen, p.btPath = fp, true, dev.BluezPath

	vc := cfg.Volume
	summary := "Sound"
	icon := vc.SinkIcon
	urgency := notify.UrgencyNormal
	timeout := vc.SinkNotificationTimeoutMillis()
	body := ""

	if dev.Bus == "bluetooth" && dev.Description != "" {
		body = dev.Description
	}

	low := false
	p.btPresent = false
	if p.battery != nil && dev.BluezPath != "" {
		if pct, ok := p.battery.BatteryPercent(ctx, dev.BluezPath); ok {
			p.btPresent = true
			if pct <= vc.BluetoothBatteryWarnLevel {
				body = fmt.Sprintf("%s (%d%%) Low battery", body, pct)
				urgency = notify.UrgencyCritical
				timeout = vc.BluetoothBatteryLowTimeoutMillis()
				low = true
			} else {
				body = fmt.Sprintf("%s (%d%%)", body, pct)
				p.btWarned = false
			}
		}
	}

	if lowOnly && (!low || p.btWarned) {
		return nil, nil
	}
	if !lowOnly && !changed && !(low && !p.btWarned) {
		return nil, nil
	}
	if low {
		p.btWarned = true
	}

	if dev.Mute {
		summary = "Sound muted"
		icon = vc.SinkMutedIcon
	} else if dev.Bus == "bluetooth" {
		icon = vc.SinkBluetoothIcon
	}

	return []notify.Request{{
		Module:     p.Name(),
		ReplaceKey: notify.KeySinkVolume,
		Summary:    summary,
		Body:       body,
		Urgency:    urgency,
		Icon:       cfg.Icons.Resolve(icon),
		Timeout:    timeout,
		Value:      dev.VolumePercent,
		HasValue:   true,
	}}, nil
}

func (p *VolumePolicy) decideSource(ctx context.Context, cfg *config.Snapshot) ([]notify.Request, error) {
	dev, err := p.state.DefaultSource(ctx)
	if err != nil {
		return nil, err
	}
	fp := audioFingerprint{index: dev.Index, volume: dev.VolumePercent, mute: dev.Mute}
	if p.srcSeen && fp == p.src {
		return nil, nil
	}
	p.src, p.srcSeen = fp, true

	vc := cfg.Volume
	summary := "Mic"
	icon := vc.SourceIcon
	if dev.Mute {
		summary = "Mic muted"
		icon = vc.SourceMutedIcon
	}

	return []notify.Request{{
		Module:     p.Name(),
		ReplaceKey: notify.KeySourceVolume,
		Summary:    summary,
		Urgency:    notify.UrgencyNormal,
		Icon:       cfg.Icons.Resolve(icon),
		Timeout:    vc.SourceNotificationTimeoutMillis(),
		Value:      dev.VolumePercent,
		HasValue:   true,
	}}, nil
}
