package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "sun_store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if st == nil {
		t.Fatalf("Open() = nil store for file driver")
	}
	return st
}

func TestOpenDisabledDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", "NONE", "  "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(driver=%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("Open(redis) = nil error, want unknown driver")
	}
}

func TestHandlesSurviveReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	if err := st.PutHandle(ctx, "battery-status", 17); err != nil {
		t.Fatalf("PutHandle() error = %v", err)
	}
	if err := st.PutHandle(ctx, "brightness-level", 18); err != nil {
		t.Fatalf("PutHandle() error = %v", err)
	}
	if err := st.PutHandle(ctx, "battery-status", 19); err != nil {
		t.Fatalf("PutHandle() error = %v", err)
	}
	if err := st.DeleteHandle(ctx, "brightness-level"); err != nil {
		t.Fatalf("DeleteHandle() error = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	st = openTestStore(t, dir)
	defer st.Close()
	got, err := st.Handles(ctx)
	if err != nil {
		t.Fatalf("Handles() error = %v", err)
	}
	if len(got) != 1 || got["battery-status"] != 19 {
		t.Fatalf("Handles() = %v, want {battery-status: 19}", got)
	}
}

func TestPutHandleIgnoresNoops(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, t.TempDir())
	defer st.Close()
	ctx := context.Background()

	if err := st.PutHandle(ctx, "", 5); err != nil {
		t.Fatalf("PutHandle(empty key) error = %v", err)
	}
	if err := st.PutHandle(ctx, "battery-status", 0); err != nil {
		t.Fatalf("PutHandle(zero id) error = %v", err)
	}
	got, err := st.Handles(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("Handles() = (%v, %v), want empty", got, err)
	}
}

func TestAppendNotificationWritesJSONL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	recs := []NotificationRecord{
		{Module: "battery", Key: "battery-status", Summary: "Battery", Body: "Discharging", Urgency: "normal", ServerID: 4},
		{Module: "volume", Key: "volume-sink", Summary: "Sound", Urgency: "normal", Error: "server unreachable"},
	}
	for _, rec := range recs {
		if err := st.AppendNotification(ctx, rec); err != nil {
			t.Fatalf("AppendNotification() error = %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "sun_store.notifications.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var got []NotificationRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec NotificationRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("audit line %q: %v", sc.Text(), err)
		}
		got = append(got, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan audit file: %v", err)
	}

	if len(got) != len(recs) {
		t.Fatalf("audit lines = %d, want %d", len(got), len(recs))
	}
	for i, rec := range recs {
		if got[i].Module != rec.Module || got[i].Key != rec.Key || got[i].Error != rec.Error {
			t.Fatalf("audit[%d] = %+v, want %+v", i, got[i], rec)
		}
		if got[i].At.IsZero() {
			t.Fatalf("audit[%d].At is zero, want a fill-in timestamp", i)
		}
	}
}

func TestJournalCompaction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	// Enough writes to trip at least one compaction cycle.
	for i := 1; i <= 300; i++ {
		if err := st.PutHandle(ctx, "battery-status", uint32(i)); err != nil {
			t.Fatalf("PutHandle() error = %v", err)
		}
	}

	snap, err := os.ReadFile(filepath.Join(dir, "sun_store.handles.snapshot.json"))
	if err != nil {
		t.Fatalf("snapshot missing after compaction: %v", err)
	}
	var m map[string]uint32
	if err := json.Unmarshal(snap, &m); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if m["battery-status"] == 0 {
		t.Fatalf("snapshot = %v, want battery-status present", m)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	st = openTestStore(t, dir)
	defer st.Close()
	got, err := st.Handles(ctx)
	if err != nil || got["battery-status"] != 300 {
		t.Fatalf("Handles() after reopen = (%v, %v), want battery-status=300", got, err)
	}
}
