package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseStrictRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"battery": {"enabled": true, "bogus_knob": 1}}`)

	if _, err := NewStore(path).Parse(); err == nil {
		t.Fatalf("Parse() = nil error, want unknown-field rejection")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"battery": {"enabled": true}} {"extra": 1}`)

	if _, err := NewStore(path).Parse(); err == nil {
		t.Fatalf("Parse() = nil error, want trailing-data rejection")
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"battery": {"enabled": true}}`)

	cfg, err := NewStore(path).Parse()
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Battery.Device != DefaultBatteryDevice {
		t.Fatalf("Battery.Device = %q, want %q", cfg.Battery.Device, DefaultBatteryDevice)
	}
	if cfg.Battery.LowThreshold != DefaultBatteryLowThreshold {
		t.Fatalf("Battery.LowThreshold = %d, want %d", cfg.Battery.LowThreshold, DefaultBatteryLowThreshold)
	}
	if cfg.Icons.Path != DefaultIconPath {
		t.Fatalf("Icons.Path = %q, want %q", cfg.Icons.Path, DefaultIconPath)
	}
	if cfg.Volume.SinkIcon != DefaultSinkIcon {
		t.Fatalf("Volume.SinkIcon = %q, want %q", cfg.Volume.SinkIcon, DefaultSinkIcon)
	}
	if got := cfg.Battery.PollIntervalOrDefault(); got != DefaultBatteryPoll {
		t.Fatalf("PollIntervalOrDefault() = %v, want %v", got, DefaultBatteryPoll)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "battery:\n  enabled: true\n  low_threshold: 20\nbrightness:\n  enabled: false\n")

	cfg, err := NewStore(path).Parse()
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !cfg.Battery.Enabled {
		t.Fatalf("Battery.Enabled = false, want true")
	}
	if cfg.Battery.LowThreshold != 20 {
		t.Fatalf("Battery.LowThreshold = %d, want 20", cfg.Battery.LowThreshold)
	}
	if cfg.Brightness.Enabled {
		t.Fatalf("Brightness.Enabled = true, want false")
	}
}

func TestPublishAssignsMonotonicGenerations(t *testing.T) {
	t.Parallel()

	m := NewStore("unused")
	for want := uint64(1); want <= 5; want++ {
		got := m.Publish(&Snapshot{})
		if got.Generation != want {
			t.Fatalf("Generation = %d, want %d", got.Generation, want)
		}
		if cur := m.Current(); cur.Generation != want {
			t.Fatalf("Current().Generation = %d, want %d", cur.Generation, want)
		}
	}
}

func TestReadersNeverObserveGenerationGoingBackwards(t *testing.T) {
	t.Parallel()

	m := NewStore("unused")
	m.Publish(&Snapshot{})

	stop := make(chan struct{})
	var bad atomic.Bool
	reader := func() {
		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			cur := m.Current()
			if cur.Generation < last {
				bad.Store(true)
				return
			}
			last = cur.Generation
		}
	}
	for i := 0; i < 4; i++ {
		go reader()
	}

	for i := 0; i < 500; i++ {
		m.Publish(&Snapshot{})
	}
	close(stop)
	time.Sleep(10 * time.Millisecond)

	if bad.Load() {
		t.Fatalf("a reader observed a lower generation after a higher one")
	}
	if got := m.Current().Generation; got != 501 {
		t.Fatalf("Current().Generation = %d, want 501", got)
	}
}

func TestFanoutDeliversInGenerationOrder(t *testing.T) {
	t.Parallel()

	m := NewStore("unused")
	sub := m.Subscribe(256)
	defer m.Unsubscribe(sub)

	const publishers, each = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				m.Publish(&Snapshot{})
			}
		}()
	}
	wg.Wait()

	var last uint64
	seen := 0
	for {
		select {
		case cfg := <-sub:
			if cfg.Generation <= last {
				t.Fatalf("generation %d delivered after %d, want increasing order", cfg.Generation, last)
			}
			last = cfg.Generation
			seen++
		default:
			if seen != publishers*each {
				t.Fatalf("delivered %d snapshots, want %d", seen, publishers*each)
			}
			return
		}
	}
}

func TestWatchPublishesOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"battery": {"enabled": false}}`)

	m := NewStore(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	// Give the watcher time to arm before the edit.
	time.Sleep(200 * time.Millisecond)

	writeFile(t, path, `{"battery": {"enabled": true}}`)

	select {
	case cfg := <-sub:
		if !cfg.Battery.Enabled {
			t.Fatalf("published Battery.Enabled = false, want true")
		}
		if cfg.Generation != 2 {
			t.Fatalf("published Generation = %d, want 2", cfg.Generation)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot published after config change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}

func TestWatchParseFailureKeepsCurrentSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"battery": {"enabled": true, "low_threshold": 20}}`)

	m := NewStore(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	before := m.Current()

	badFile := make(chan error, 1)
	m.SetReloadErrorHandler(func(err error) {
		select {
		case badFile <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	writeFile(t, path, `{"battery": {"enabled": `)

	select {
	case err := <-badFile:
		if err == nil {
			t.Fatalf("reload error handler got nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("reload error handler was not invoked for malformed config")
	}

	after := m.Current()
	if after != before {
		t.Fatalf("Current() changed after malformed edit: generation %d -> %d", before.Generation, after.Generation)
	}
	if after.Battery.LowThreshold != 20 {
		t.Fatalf("Battery.LowThreshold = %d, want 20 (previous snapshot)", after.Battery.LowThreshold)
	}
}

func TestWatchCoalescesRapidEdits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"brightness": {"enabled": false}}`)

	m := NewStore(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	sub := m.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	// Editor-style burst: several writes well inside one debounce window.
	writeFile(t, path, `{"brightness": {"enabled": true}, "battery": {"enabled": false}}`)
	time.Sleep(10 * time.Millisecond)
	writeFile(t, path, `{"brightness": {"enabled": true}, "battery": {"enabled": true}}`)
	time.Sleep(10 * time.Millisecond)
	writeFile(t, path, `{"brightness": {"enabled": true}, "battery": {"enabled": true, "low_threshold": 30}}`)

	var got *Snapshot
	select {
	case got = <-sub:
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot published after edits")
	}
	if got.Battery.LowThreshold != 30 {
		t.Fatalf("published snapshot is not the final edit: LowThreshold = %d, want 30", got.Battery.LowThreshold)
	}
	if got.Generation != 2 {
		t.Fatalf("Generation = %d, want 2 (intermediate edits coalesced)", got.Generation)
	}

	// No further publishes for the swallowed intermediate states.
	select {
	case extra := <-sub:
		t.Fatalf("unexpected extra publish: generation %d", extra.Generation)
	case <-time.After(700 * time.Millisecond):
	}
}

func TestWatchSkipsUnchangedContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"keyboard": {"enabled": true}}`
	writeFile(t, path, content)

	m := NewStore(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	// Touch with identical content.
	writeFile(t, path, content)

	select {
	case cfg := <-sub:
		t.Fatalf("unexpected publish for unchanged content: generation %d", cfg.Generation)
	case <-time.After(700 * time.Millisecond):
	}
	if got := m.Current().Generation; got != 1 {
		t.Fatalf("Current().Generation = %d, want 1", got)
	}
}

func TestValidatorRejectionKeepsCurrentSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"volume": {"enabled": true}}`)

	m := NewStore(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Snapshot) error {
		if cfg.Volume.BluetoothBatteryWarnLevel > 100 {
			return os.ErrInvalid
		}
		return nil
	})
	rejected := make(chan error, 1)
	m.SetReloadErrorHandler(func(err error) {
		select {
		case rejected <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	writeFile(t, path, `{"volume": {"enabled": true, "bluetooth_battery_warn_level": 500}}`)

	select {
	case <-rejected:
	case <-time.After(5 * time.Second):
		t.Fatalf("validator rejection did not reach the reload error handler")
	}
	if got := m.Current().Generation; got != 1 {
		t.Fatalf("Current().Generation = %d, want 1 (rejected config must not publish)", got)
	}
}
