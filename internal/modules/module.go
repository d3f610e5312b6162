package modules

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tyda-syda/sun/internal/config"
	"github.com/tyda-syda/sun/internal/eventbus"
	"github.com/tyda-syda/sun/internal/notify"
	logx "github.com/tyda-syda/sun/pkg/logx"
)

// Event is one wake-up of a module worker: either an external event with a
// source-specific payload, or a poll tick (the bounded wait elapsed with
// nothing to report).
type Event struct {
	Tick bool
	Data any
}

// Source is the blocking wait primitive of one module. Next returns the
// next payload, or (nil, nil) when the bounded wait elapsed; poll <= 0
// means no bound. Implementations live in internal/sources.
type Source interface {
	Next(ctx context.Context, poll time.Duration) (any, error)
	Close() error
}

// Policy is the per-module decision contract: given a wake-up and the
// current config snapshot, produce the notifications this transition
// warrants. Policies are stateful (latches, fingerprints) and are only ever
// called from their own worker goroutine, so they need no locking.
//
// An error from Decide is handled like a source error: retried with backoff
// unless marked fatal.
type Policy interface {
	Name() string
	Enabled(cfg *config.Snapshot) bool
	PollInterval(cfg *config.Snapshot) time.Duration
	Decide(ctx context.Context, ev Event, cfg *config.Snapshot) ([]notify.Request, error)
}

// Dispatcher is where workers hand off their requests.
type Dispatcher interface {
	Dispatch(req notify.Request) error
}

// fatalError marks an error as unrecoverable for the worker loop.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }
func (e *fatalError) Fatal() bool   { return true }

// Fatal marks err so the worker loop terminates instead of retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) carries the fatal
// marker. Sources use their own wrapper type; the contract is structural.
func IsFatal(err error) bool {
	var f interface{ Fatal() bool }
	return errors.As(err, &f) && f.Fatal()
}

const (
	transientBackoffMin = 250 * time.Millisecond
	transientBackoffMax = 15 * time.Second

	// defaultRecheck bounds the wait of natively-blocking sources so the
	// enabled gate and poll interval are re-read even with no events.
	defaultRecheck = 30 * time.Second
)

// Worker bridges one Source/Policy pair to the dispatcher.
//
// Run blocks until ctx is cancelled (clean, returns nil) or the source is
// unrecoverably gone (returns the error). The caller runs it under the
// supervisor's fail-fast wrapper, so either way the worker never silently
// degrades.
type Worker struct {
	policy Policy
	source Source
	store  *config.Store
	disp   Dispatcher
	bus    eventbus.Bus
	log    logx.Logger
}

func NewWorker(policy Policy, source Source, store *config.Store, disp Dispatcher, bus eventbus.Bus, log logx.Logger) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{
		policy: policy,
		source: source,
		store:  store,
		disp:   disp,
		bus:    bus,
		log:    log.With(logx.String("module", policy.Name())),
	}
}

func (w *Worker) Name() string { return w.policy.Name() }

func (w *Worker) Run(ctx context.Context) error {
	defer w.source.Close()

	backoff := transientBackoffMin
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		if ctx.Err() != nil {
			return nil
		}

		// Before the first publish Current() is nil; wait at the default bound
		// rather than handing policies a snapshot they cannot dereference.
		cfg := w.store.Current()
		poll := defaultRecheck
		if cfg != nil {
			if p := w.policy.PollInterval(cfg); p > 0 {
				poll = p
			}
		}

		ev, err := w.source.Next(ctx, poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if IsFatal(err) {
				return fmt.Errorf("%s: %w", w.policy.Name(), err)
			}
			if !w.sleepBackoff(ctx, backoff, rng, err) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = transientBackoffMin

		// Re-read after the blocking wait: a reload may have landed while
		// we slept, and the enabled gate must see the newest snapshot.
		cfg = w.store.Current()
		if cfg == nil || !w.policy.Enabled(cfg) {
			continue
		}

		reqs, err := w.policy.Decide(ctx, Event{Tick: ev == nil, Data: ev}, cfg)
		if err != nil {
			if IsFatal(err) {
				return fmt.Errorf("%s: %w", w.policy.Name(), err)
			}
			if !w.sleepBackoff(ctx, backoff, rng, err) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		for _, req := range reqs {
			if err := w.disp.Dispatch(req); err != nil {
				w.log.Warn("dispatch refused", logx.String("key", req.ReplaceKey), logx.Err(err))
			}
		}
	}
}

func (w *Worker) sleepBackoff(ctx context.Context, backoff time.Duration, rng *rand.Rand, cause error) bool {
	wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
	w.log.Warn("transient source error; backing off", logx.Duration("backoff", wait), logx.Err(cause))
	if w.bus != nil {
		w.bus.Publish(eventbus.Event{Type: "module.backoff", Data: map[string]any{
			"module": w.policy.Name(), "backoff": wait.String(), "err": cause.Error(),
		}})
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	cur *= 2
	if cur > transientBackoffMax {
		cur = transientBackoffMax
	}
	return cur
}
