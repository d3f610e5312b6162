// Package supervisor runs the daemon's goroutines under one shared context
// with panic recovery and a single first-error slot.
//
// Two launch flavors encode the process lifecycle policy:
//
//   - GoWorker: monitor loops. Any termination, clean or not, takes the
//     whole supervisor down. A silently finished monitor would be partial
//     degradation, which this daemon treats as fatal.
//   - GoRestart: self-healing helpers (the config watcher, the debug HTTP
//     listener) restarted with jittered exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	// started/active are operational counters, not a sync primitive.
	started uint64
	active  int64

	// Holds Starting or Running; the terminal phases are derived in State().
	state atomic.Int32

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}
}

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (st State) String() string {
	switch st {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context as soon as any goroutine
// returns a non-nil error or panics.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel requests shutdown without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// MarkRunning records that startup finished and every goroutine is spawned.
func (s *Supervisor) MarkRunning() {
	s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

// State derives the terminal phases from the context and the waiter, so the
// answer is right no matter who initiated shutdown (a dying worker, Cancel,
// or the parent context).
func (s *Supervisor) State() State {
	select {
	case <-s.doneCh:
		return StateTerminated
	default:
	}
	if s.ctx.Err() != nil {
		return StateShuttingDown
	}
	return State(s.state.Load())
}

// Err returns the first error recorded by any goroutine, or nil.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

func (s *Supervisor) Counters() Counters {
	return Counters{
		Active:  atomic.LoadInt64(&s.active),
		Started: atomic.LoadUint64(&s.started),
	}
}

// Go runs fn under the shared context. A panic or a non-nil error (other
// than context.Canceled) records the first error and, with cancel-on-error,
// shuts the supervisor down. Clean returns are just that.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		defer func() {
			if r := recover(); r != nil {
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked",
						logx.String("name", name),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
				s.fail(fmt.Errorf("panic in %s: %v", name, r))
			}
		}()

		if !s.log.IsZero() {
			s.log.Debug("goroutine started", logx.String("name", name))
		}
		err := fn(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		if !s.log.IsZero() {
			s.log.Debug("goroutine stopped", logx.String("name", name))
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoWorker runs fn like Go, except that ANY termination of fn, including a
// plain nil return, cancels the supervisor. Shutdown-driven returns are
// still clean stops.
func (s *Supervisor) GoWorker(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil && ctx.Err() == nil {
			err = fmt.Errorf("%s: worker loop exited", name)
		}
		s.cancel()
		return err
	})
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	stopOnCleanExit bool
	publishFirstErr bool
}

// WithRestartBackoff bounds the exponential backoff between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithPublishFirstError records the first failure in Err() while the loop
// keeps restarting. Useful when failures should surface in diagnostics
// without bringing the process down.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop.
// Default is true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(c *restartCfg) { c.stopOnCleanExit = enabled }
}

// GoRestart runs fn and restarts it on error or panic until the supervisor
// context is done. Monitor loops must NOT run under this; they use GoWorker.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{
		minBackoff:      250 * time.Millisecond,
		maxBackoff:      30 * time.Second,
		stopOnCleanExit: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.Go0(name+".restart", func(ctx context.Context) {
		backoff := cfg.minBackoff
		for ctx.Err() == nil {
			startedAt := time.Now()
			err := runRecovered(ctx, name, fn, s.log)

			// A return during shutdown is a clean stop regardless of err:
			// dependencies torn down underneath fn are not its failure.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if cfg.stopOnCleanExit {
					return
				}
				err = errors.New("exited")
			}

			if cfg.publishFirstErr {
				s.setErr(fmt.Errorf("%s: %w", name, err))
			}

			// A long healthy run earns a fresh backoff window.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}

			wait := backoff + jitter(backoff/5)
			if !s.log.IsZero() {
				s.log.Warn("goroutine restarting",
					logx.String("name", name),
					logx.Duration("backoff", wait),
					logx.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	})
}

func runRecovered(ctx context.Context, name string, fn func(context.Context) error, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if !log.IsZero() {
				log.Error("goroutine panicked (restart)",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() % int64(max+1))
}

// Wait blocks until every goroutine has exited or ctx expires. On a full
// stop it returns the first recorded error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.setErr(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
