package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tyda-syda/sun/internal/eventbus"
	rtsup "github.com/tyda-syda/sun/internal/runtime/supervisor"
	"github.com/tyda-syda/sun/internal/storage"
	logx "github.com/tyda-syda/sun/pkg/logx"
)

var (
	ErrDisabled   = errors.New("notify disabled")
	ErrQueueFull  = errors.New("notify queue full")
	ErrStopped    = errors.New("notify stopped")
	ErrUnknownKey = errors.New("unknown replace key")
)

// job is one unit of work for the dispatch worker. Exactly one of the
// fields is set: a request to show, a server ID to invalidate (the server
// closed it), or a key whose popup should be closed.
type job struct {
	req      *Request
	closedID uint32
	closeKey string
}

// Service is the notification dispatcher: a buffered inbound queue drained
// by exactly one worker goroutine, so every call against the notification
// server is serialized and per-producer order is preserved.
//
// The worker owns the replace-key -> server-ID handle map; no other
// goroutine touches it while the service runs. A failed send is logged and
// dropped — the next state transition produces a fresh request anyway.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	client Client
	bus    eventbus.Bus
	store  storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// handles is read/written only by the worker goroutine between Start and
	// Stop. NotifyNow is the one sanctioned outsider and is only legal once
	// the service is stopped (the daemon's death notice).
	handles map[string]uint32

	keys map[string]struct{}
}

func New(cfg Config, client Client, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	keys := map[string]struct{}{}
	for _, k := range Keys() {
		keys[k] = struct{}{}
	}
	s := &Service{
		log:     log,
		client:  client,
		bus:     bus,
		store:   store,
		handles: map[string]uint32{},
		keys:    keys,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.AppName == "" {
		cfg.AppName = "sun"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	s.cfg = cfg
	// Burst = rate per sec so a flurry of transitions doesn't stall producers.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent; if a Stop is in flight, wait for it first.
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notify"))),
		// Losing a notification is recoverable; dispatcher trouble must not
		// take the daemon down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	st := s.store
	s.mu.Unlock()

	// Recover persisted handles so a restarted daemon updates the same
	// popups instead of stacking new ones.
	if st != nil {
		hctx, cancel := context.WithTimeout(ctx, time.Second)
		if saved, err := st.Handles(hctx); err != nil {
			s.log.Warn("handle recovery failed; starting fresh", logx.Err(err))
		} else {
			for k, id := range saved {
				if _, ok := s.keys[k]; ok && id != 0 {
					s.handles[k] = id
				}
			}
		}
		cancel()
	}

	sup.GoRestart("dispatch", func(c context.Context) error {
		s.workerLoop(c, q)
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("dispatch loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	if closed := s.client.ClosedSignals(); closed != nil {
		sup.Go0("closed.monitor", func(c context.Context) {
			s.closedLoop(c, closed)
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Dispatch enqueues one request. The replace key must belong to the fixed
// startup set.
func (s *Service) Dispatch(req Request) error {
	if _, ok := s.keys[req.ReplaceKey]; !ok {
		s.log.Error("request with unknown replace key dropped",
			logx.String("module", req.Module), logx.String("key", req.ReplaceKey))
		return ErrUnknownKey
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	s.publish("notify.queued", Event{Module: req.Module, Key: req.ReplaceKey})

	select {
	case q <- job{req: &req}:
		return nil
	default:
		s.publish("notify.dropped", Event{Module: req.Module, Key: req.ReplaceKey, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// CloseKey asks the server to close the popup currently shown under key.
// Best-effort: a no-op when nothing is on screen for that key.
func (s *Service) CloseKey(key string) error {
	if _, ok := s.keys[key]; !ok {
		return ErrUnknownKey
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{closeKey: key}:
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyNow sends synchronously, bypassing queue and limiter. It exists for
// the process-death notice emitted after the pipeline has already stopped;
// it never reuses handles, so it always creates a fresh popup.
func (s *Service) NotifyNow(ctx context.Context, req Request) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	app := s.cfg.AppName
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.client.Notify(cctx, app, 0, req)
	return err
}

func (s *Service) closedLoop(ctx context.Context, closed <-chan ClosedSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-closed:
			if !ok {
				return
			}
			if sig.ID == 0 {
				continue
			}
			s.mu.Lock()
			q := s.queue
			accepting := s.accepting
			if accepting && q != nil {
				s.sendWG.Add(1)
			}
			s.mu.Unlock()
			if !accepting || q == nil {
				continue
			}
			select {
			case q <- job{closedID: sig.ID}:
			default:
				// Dropped invalidations cost one server-side fallback create.
			}
			s.sendWG.Done()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			switch {
			case j.req != nil:
				s.send(ctx, *j.req)
			case j.closedID != 0:
				s.invalidate(ctx, j.closedID)
			case j.closeKey != "":
				s.closeByKey(ctx, j.closeKey)
			}
		}
	}
}

func (s *Service) send(runCtx context.Context, req Request) {
	s.mu.Lock()
	lim := s.limiter
	app := s.cfg.AppName
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
	}

	replacesID := s.handles[req.ReplaceKey]

	callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	id, err := s.client.Notify(callCtx, app, replacesID, req)
	cancel()

	if err != nil {
		s.log.Warn("notification send failed; dropping",
			logx.String("key", req.ReplaceKey), logx.Err(err))
		s.publish("notify.failed", Event{Module: req.Module, Key: req.ReplaceKey, Error: err.Error()})
		s.audit(runCtx, req, 0, err)
		return
	}

	if id != 0 && id != replacesID {
		s.handles[req.ReplaceKey] = id
		s.persistHandle(runCtx, req.ReplaceKey, id)
	}
	s.publish("notify.sent", Event{Module: req.Module, Key: req.ReplaceKey, ServerID: id})
	s.audit(runCtx, req, id, nil)
}

// invalidate forgets handles whose popups the server reported closed, so the
// next request under that key performs a fresh create.
func (s *Service) invalidate(ctx context.Context, serverID uint32) {
	for key, id := range s.handles {
		if id != serverID {
			continue
		}
		delete(s.handles, key)
		if s.store != nil {
			dctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			_ = s.store.DeleteHandle(dctx, key)
			cancel()
		}
		s.publish("notify.closed", Event{Key: key, ServerID: serverID})
		return
	}
}

func (s *Service) closeByKey(ctx context.Context, key string) {
	id, ok := s.handles[key]
	if !ok || id == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := s.client.CloseNotification(cctx, id)
	cancel()
	if err != nil {
		s.log.Debug("close notification failed", logx.String("key", key), logx.Err(err))
		return
	}
	delete(s.handles, key)
	if s.store != nil {
		dctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		_ = s.store.DeleteHandle(dctx, key)
		cancel()
	}
}

func (s *Service) persistHandle(ctx context.Context, key string, id uint32) {
	if s.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if err := s.store.PutHandle(pctx, key, id); err != nil {
		s.log.Debug("handle persist failed", logx.String("key", key), logx.Err(err))
	}
}

func (s *Service) audit(ctx context.Context, req Request, id uint32, sendErr error) {
	if s.store == nil {
		return
	}
	rec := storage.NotificationRecord{
		At:       time.Now(),
		Module:   req.Module,
		Key:      req.ReplaceKey,
		Summary:  req.Summary,
		Body:     req.Body,
		Urgency:  req.Urgency.String(),
		ServerID: id,
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	actx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if err := s.store.AppendNotification(actx, rec); err != nil {
		s.log.Debug("notification audit failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, e Event) {
	if s.bus == nil {
		return
	}
	e.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: e.At, Data: e})
}
