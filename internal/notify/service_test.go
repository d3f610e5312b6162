package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// fakeClient records Notify calls and replays scripted server behavior.
type fakeClient struct {
	mu     sync.Mutex
	nextID uint32
	calls  []fakeCall
	failN  int // fail the first N Notify calls

	closed chan ClosedSignal
}

type fakeCall struct {
	replacesID uint32
	summary    string
	returnedID uint32
}

func newFakeClient() *fakeClient {
	return &fakeClient{closed: make(chan ClosedSignal, 8)}
}

func (c *fakeClient) Notify(_ context.Context, _ string, replacesID uint32, req Request) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failN > 0 {
		c.failN--
		return 0, errors.New("server unreachable")
	}
	id := replacesID
	if id == 0 {
		c.nextID++
		id = c.nextID
	}
	c.calls = append(c.calls, fakeCall{replacesID: replacesID, summary: req.Summary, returnedID: id})
	return id, nil
}

func (c *fakeClient) CloseNotification(context.Context, uint32) error { return nil }

func (c *fakeClient) ClosedSignals() <-chan ClosedSignal { return c.closed }

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) snapshot() []fakeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeCall(nil), c.calls...)
}

func waitCalls(t *testing.T, c *fakeClient, n int) []fakeCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := c.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Notify calls = %d, want at least %d", len(c.snapshot()), n)
	return nil
}

func startService(t *testing.T, client Client) *Service {
	t.Helper()
	s := New(Config{Enabled: true, AppName: "sun-test"}, client, logx.Nop(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.Stop(sctx)
		scancel()
		cancel()
	})
	return s
}

func TestDispatchReusesServerIDPerKey(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	s := startService(t, client)

	if err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery, Summary: "Battery"}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	if err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery, Summary: "Battery"}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}

	calls := waitCalls(t, client, 2)
	if calls[0].replacesID != 0 {
		t.Fatalf("first call replacesID = %d, want 0 (fresh create)", calls[0].replacesID)
	}
	if calls[1].replacesID != calls[0].returnedID {
		t.Fatalf("second call replacesID = %d, want %d (update in place)",
			calls[1].replacesID, calls[0].returnedID)
	}
}

func TestDispatchKeysAreIndependent(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	s := startService(t, client)

	if err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	if err := s.Dispatch(Request{Module: "brightness", ReplaceKey: KeyBrightness}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}

	calls := waitCalls(t, client, 2)
	if calls[0].returnedID == calls[1].returnedID {
		t.Fatalf("both keys got server ID %d, want distinct popups", calls[0].returnedID)
	}
}

func TestDispatchRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	s := startService(t, newFakeClient())
	err := s.Dispatch(Request{Module: "battery", ReplaceKey: "battery-typo"})
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("Dispatch() = %v, want %v", err, ErrUnknownKey)
	}
}

func TestClosedSignalInvalidatesHandle(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	s := startService(t, client)

	if err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	first := waitCalls(t, client, 1)[0]

	client.closed <- ClosedSignal{ID: first.returnedID, Reason: ClosedDismissed}

	// The invalidation races the next dispatch through the same queue, so
	// poll until the fresh create is observed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery}); err != nil {
			t.Fatalf("Dispatch() = %v", err)
		}
		calls := client.snapshot()
		last := calls[len(calls)-1]
		if last.replacesID == 0 && last.returnedID != first.returnedID {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("handle was not invalidated after a closed signal")
}

func TestSendFailureIsDroppedNotRetried(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.failN = 1
	s := startService(t, client)

	if err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery, Summary: "lost"}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	if err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery, Summary: "kept"}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}

	calls := waitCalls(t, client, 1)
	if calls[0].summary != "kept" {
		t.Fatalf("first successful call = %q, want %q (failed send dropped)", calls[0].summary, "kept")
	}
	if calls[0].replacesID != 0 {
		t.Fatalf("replacesID = %d, want 0 (no handle from the failed send)", calls[0].replacesID)
	}
}

func TestDispatchWhenDisabled(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, newFakeClient(), logx.Nop(), nil, nil)
	s.Start(context.Background())
	err := s.Dispatch(Request{Module: "battery", ReplaceKey: KeyBattery})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Dispatch() = %v, want %v", err, ErrDisabled)
	}
}

func TestNotifyNowAlwaysCreatesFresh(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	s := startService(t, client)

	if err := s.Dispatch(Request{Module: "daemon", ReplaceKey: KeyDaemonStatus}); err != nil {
		t.Fatalf("Dispatch() = %v", err)
	}
	waitCalls(t, client, 1)

	if err := s.NotifyNow(context.Background(), Request{ReplaceKey: KeyDaemonStatus, Summary: "sun just died"}); err != nil {
		t.Fatalf("NotifyNow() = %v", err)
	}
	calls := waitCalls(t, client, 2)
	last := calls[len(calls)-1]
	if last.replacesID != 0 {
		t.Fatalf("NotifyNow replacesID = %d, want 0", last.replacesID)
	}
}
