package notify

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

const (
	notifyDest      = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// NotificationClosed reason codes (Freedesktop spec).
const (
	ClosedExpired   uint32 = 1
	ClosedDismissed uint32 = 2
	ClosedByCall    uint32 = 3
	ClosedUndefined uint32 = 4
)

// ClosedSignal is one NotificationClosed emission from the server.
type ClosedSignal struct {
	ID     uint32
	Reason uint32
}

// Client is the create-or-update notification protocol boundary.
//
// ClosedSignals may return nil when the backend cannot observe closes (the
// stub client); callers must treat a nil channel as "IDs are never
// invalidated by the server".
type Client interface {
	Notify(ctx context.Context, appName string, replacesID uint32, req Request) (uint32, error)
	CloseNotification(ctx context.Context, id uint32) error
	ClosedSignals() <-chan ClosedSignal
	Close() error
}

type dbusClient struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	closed chan ClosedSignal

	stopOnce sync.Once
	stop     chan struct{}
}

// NewClient connects to the session bus and subscribes to
// NotificationClosed. When no session bus is reachable (headless session,
// CI) it degrades to a logging stub so the dispatch pipeline stays
// observable.
func NewClient(log logx.Logger) (Client, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		if !log.IsZero() {
			log.Warn("session bus unavailable; notifications disabled", logx.Err(err))
		}
		return newStubClient(log), nil
	}

	c := &dbusClient{
		conn:   conn,
		obj:    conn.Object(notifyDest, notifyPath),
		closed: make(chan ClosedSignal, 16),
		stop:   make(chan struct{}),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(notifyPath),
		dbus.WithMatchInterface(notifyInterface),
		dbus.WithMatchMember("NotificationClosed"),
	); err != nil {
		if !log.IsZero() {
			log.Warn("NotificationClosed match failed; stale handles fall back to server-side create", logx.Err(err))
		}
		close(c.closed)
		c.closed = nil
		return c, nil
	}

	sig := make(chan *dbus.Signal, 16)
	conn.Signal(sig)
	go c.forwardClosed(sig)
	return c, nil
}

func (c *dbusClient) forwardClosed(sig chan *dbus.Signal) {
	defer close(c.closed)
	for {
		select {
		case <-c.stop:
			return
		case s, ok := <-sig:
			if !ok {
				return
			}
			if s == nil || s.Name != notifyInterface+".NotificationClosed" || len(s.Body) < 2 {
				continue
			}
			id, ok1 := s.Body[0].(uint32)
			reason, ok2 := s.Body[1].(uint32)
			if !ok1 || !ok2 {
				continue
			}
			select {
			case c.closed <- ClosedSignal{ID: id, Reason: reason}:
			case <-c.stop:
				return
			default:
				// Drop under pressure; a missed invalidation only costs one
				// server-side fallback create.
			}
		}
	}
}

func (c *dbusClient) Notify(ctx context.Context, appName string, replacesID uint32, req Request) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(req.Urgency)),
	}
	if req.HasValue {
		hints["value"] = dbus.MakeVariant(int32(req.Value))
	}
	if req.Transient {
		hints["transient"] = dbus.MakeVariant(true)
	}

	// Notify(app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout) -> id
	call := c.obj.CallWithContext(ctx,
		notifyInterface+".Notify", 0,
		appName,
		replacesID,
		req.Icon,
		req.Summary,
		req.Body,
		[]string{},
		hints,
		req.Timeout,
	)
	if call.Err != nil {
		return 0, call.Err
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *dbusClient) CloseNotification(ctx context.Context, id uint32) error {
	return c.obj.CallWithContext(ctx, notifyInterface+".CloseNotification", 0, id).Err
}

func (c *dbusClient) ClosedSignals() <-chan ClosedSignal { return c.closed }

func (c *dbusClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.conn.Close()
}

// stubClient logs instead of talking to a notification server. It hands out
// monotonically increasing IDs so handle bookkeeping behaves exactly as with
// a real server.
type stubClient struct {
	log logx.Logger

	mu     sync.Mutex
	nextID uint32
}

func newStubClient(log logx.Logger) *stubClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &stubClient{log: log}
}

func (s *stubClient) Notify(_ context.Context, _ string, replacesID uint32, req Request) (uint32, error) {
	s.mu.Lock()
	id := replacesID
	if id == 0 {
		s.nextID++
		id = s.nextID
	}
	s.mu.Unlock()

	s.log.Info("notification (stub)",
		logx.String("key", req.ReplaceKey),
		logx.String("summary", req.Summary),
		logx.String("body", req.Body),
		logx.String("urgency", req.Urgency.String()),
	)
	return id, nil
}

func (s *stubClient) CloseNotification(context.Context, uint32) error { return nil }

func (s *stubClient) ClosedSignals() <-chan ClosedSignal { return nil }

func (s *stubClient) Close() error { return nil }
