package config

import (
	"testing"
	"time"
)

func TestTimeoutMillis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		def  int32
		want int32
	}{
		{"empty uses default", "", 2500, 2500},
		{"explicit zero is persistent", "0s", 2500, 0},
		{"fractional seconds", "2.5s", 0, 2500},
		{"minutes", "1m", 0, 60000},
		{"invalid uses default", "soon", 3000, 3000},
		{"negative uses default", "-5s", 3000, 3000},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := timeoutMillis(tt.raw, tt.def); got != tt.want {
				t.Fatalf("timeoutMillis(%q, %d) = %d, want %d", tt.raw, tt.def, got, tt.want)
			}
		})
	}
}

func TestIconResolve(t *testing.T) {
	t.Parallel()

	ic := IconsConfig{Path: "/usr/share/icons/Adwaita/symbolic/"}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative joins path", "status/battery-caution-symbolic.svg", "/usr/share/icons/Adwaita/symbolic/status/battery-caution-symbolic.svg"},
		{"absolute passes through", "/opt/icons/x.svg", "/opt/icons/x.svg"},
		{"empty passes through", "", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ic.Resolve(tt.in); got != tt.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDurationAccessorsFallBack(t *testing.T) {
	t.Parallel()

	var b BatteryConfig
	if got := b.PollIntervalOrDefault(); got != DefaultBatteryPoll {
		t.Fatalf("PollIntervalOrDefault() = %v, want %v", got, DefaultBatteryPoll)
	}
	b.PollInterval = "45s"
	if got := b.PollIntervalOrDefault(); got != 45*time.Second {
		t.Fatalf("PollIntervalOrDefault() = %v, want 45s", got)
	}

	var v VolumeConfig
	if got := v.BluetoothBatteryPollOrDefault(); got != DefaultBluetoothBatteryPoll {
		t.Fatalf("BluetoothBatteryPollOrDefault() = %v, want %v", got, DefaultBluetoothBatteryPoll)
	}
	if got := v.BluetoothBatteryLowTimeoutMillis(); got != 0 {
		t.Fatalf("BluetoothBatteryLowTimeoutMillis() = %d, want 0 (persistent)", got)
	}
}

func TestNotifyEnabledResolution(t *testing.T) {
	t.Parallel()

	var s Snapshot
	if !s.NotifyEnabled() {
		t.Fatalf("NotifyEnabled() = false for omitted section, want true")
	}
	off := false
	s.Notify.Enabled = &off
	if s.NotifyEnabled() {
		t.Fatalf("NotifyEnabled() = true for explicit false, want false")
	}
	var nilSnap *Snapshot
	if nilSnap.NotifyEnabled() {
		t.Fatalf("NotifyEnabled() on nil snapshot = true, want false")
	}
}

func TestDynamicIconFlagsDefaultOn(t *testing.T) {
	t.Parallel()

	var b BatteryConfig
	if !b.DynamicChargingIconEnabled() || !b.DynamicDischargingIconEnabled() {
		t.Fatalf("dynamic icon flags should default to enabled")
	}
	off := false
	b.DynamicChargingIcon = &off
	if b.DynamicChargingIconEnabled() {
		t.Fatalf("DynamicChargingIconEnabled() = true for explicit false")
	}
}

func TestSummarizeChangeFlagsChangedSections(t *testing.T) {
	t.Parallel()

	oldCfg := &Snapshot{}
	newCfg := &Snapshot{}
	newCfg.Battery.Enabled = true
	newCfg.Logging.Level = "DEBUG"

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := []string{"battery", "logging"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
	if len(attrs) == 0 {
		t.Fatalf("expected log attrs for changed sections")
	}
}

func TestSummarizeChangeIgnoresIdenticalSnapshots(t *testing.T) {
	t.Parallel()

	cfg := &Snapshot{}
	applyDefaults(cfg)
	cp := *cfg
	changed, _ := SummarizeChange(cfg, &cp)
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want none for identical snapshots", changed)
	}
}
