package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// Store holds the current configuration Snapshot and watches the backing
// file for changes.
//
// Readers call Current() on every event they handle; the returned pointer is
// immutable and can be kept across blocking waits. Publish replaces the
// whole snapshot in one atomic store, so a reader never sees fields from two
// different reloads mixed together.
type Store struct {
	path string

	cur atomic.Pointer[Snapshot]

	// mu serializes Publish: generation assignment and hash bookkeeping.
	mu sync.Mutex
	// lastHash tracks the last successfully published config content.
	// It helps avoid redundant publishes when the editor causes multiple
	// write events without content changes.
	lastHash uint64

	// subsMu guards subscriber list and ensures we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Snapshot

	log       logx.Logger
	validator func(ctx context.Context, cfg *Snapshot) error
	onBadFile func(err error)
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (m *Store) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a validation hook used by Watch() before publishing.
func (m *Store) SetValidator(fn func(ctx context.Context, cfg *Snapshot) error) {
	m.validator = fn
}

// SetReloadErrorHandler installs a hook invoked when a file change fails to
// parse or validate. The previous snapshot stays current either way; the
// hook exists so the daemon can surface the problem to the user.
func (m *Store) SetReloadErrorHandler(fn func(err error)) {
	m.onBadFile = fn
}

func (m *Store) Parse() (*Snapshot, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Snapshot
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Publish makes next the current snapshot: it assigns the next generation
// number, swaps the snapshot pointer, and fans the new snapshot out to
// subscribers. Returns the published snapshot.
func (m *Store) Publish(next *Snapshot) *Snapshot {
	if next == nil {
		return m.cur.Load()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	gen := uint64(1)
	if prev := m.cur.Load(); prev != nil {
		gen = prev.Generation + 1
	}
	next.Generation = gen
	m.lastHash = hashSnapshot(next)
	m.cur.Store(next)

	// Fan out while still holding mu: two racing publishes (overlapping
	// debounce callbacks) must deliver to subscribers in generation order.
	m.fanout(next)
	return next
}

func (m *Store) Load() (*Snapshot, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	return m.Publish(cfg), nil
}

// Current returns the latest published snapshot without blocking.
// Nil until the first Load/Publish.
func (m *Store) Current() *Snapshot {
	return m.cur.Load()
}

func (m *Store) Subscribe(buffer int) chan *Snapshot {
	ch := make(chan *Snapshot, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Store) Unsubscribe(ch chan *Snapshot) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			// swap-remove (order doesn't matter)
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Store) fanout(cfg *Snapshot) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Always try to deliver the latest snapshot.
		// If subscriber is slow and buffer is full, drop ONE oldest item then push the newest.
		select {
		case ch <- cfg:
			// delivered
		default:
			// drop oldest (if any)
			select {
			case <-ch:
			default:
			}
			// best-effort deliver latest
			select {
			case ch <- cfg:
			default:
				// still full; give up
				if !m.log.IsZero() {
					m.log.Debug(
						"config update dropped (subscriber slow)",
						logx.Int("queue_len", len(ch)),
						logx.Int("queue_cap", cap(ch)),
					)
				}
			}
		}
	}
}

func (m *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	// When fsnotify gets into a bad state (common on certain editors),
	// the watcher may stop delivering events or close its channels.
	// Self-heal by recreating the watcher with a small exponential backoff.
	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	// local RNG to avoid global contention (and to keep jitter deterministic per process).
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// debounce so a burst of write events (editor save, atomic rename) causes
	// one parse of the final content rather than one per intermediate state.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if !m.log.IsZero() {
			m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := m.Parse()
			if err != nil || cfg == nil {
				if err == nil {
					err = fmt.Errorf("config is nil")
				}
				if !m.log.IsZero() {
					m.log.Warn("config parse failed; keeping previous snapshot", logx.String("path", m.path), logx.String("err", err.Error()))
				}
				if m.onBadFile != nil {
					m.onBadFile(err)
				}
				return
			}

			// Skip redundant reloads when content is unchanged.
			h := hashSnapshot(cfg)
			m.mu.Lock()
			unchanged := h != 0 && h == m.lastHash
			m.mu.Unlock()
			if unchanged {
				if !m.log.IsZero() {
					m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
				}
				return
			}

			// validate before publish (transactional)
			if m.validator != nil {
				vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := m.validator(vctx, cfg)
				cancel()
				if err != nil {
					if !m.log.IsZero() {
						m.log.Warn("config rejected; keeping previous snapshot", logx.String("path", m.path), logx.Any("err", err))
					}
					if m.onBadFile != nil {
						m.onBadFile(err)
					}
					return
				}
			}

			pub := m.Publish(cfg)
			if !m.log.IsZero() {
				m.log.Debug("config published", logx.String("path", m.path), logx.Uint64("generation", pub.Generation), logx.String("hash", fmt.Sprintf("%x", h)))
			}
		})
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config watch init failed", logx.Any("err", err), logx.String("dir", dir))
			}
			// retry with backoff
			wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
			if backoff < restartBackoffMax {
				backoff *= 2
				if backoff > restartBackoffMax {
					backoff = restartBackoffMax
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
				continue
			}
		}

		if err := w.Add(dir); err != nil {
			_ = w.Close()
			if !m.log.IsZero() {
				m.log.Warn("config watch add failed", logx.Any("err", err), logx.String("dir", dir))
			}
			wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
			if backoff < restartBackoffMax {
				backoff *= 2
				if backoff > restartBackoffMax {
					backoff = restartBackoffMax
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
				continue
			}
		}

		// success; reset backoff so transient issues don't cause long restart delays
		backoff = restartBackoffBase
		if !m.log.IsZero() {
			m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
		}

		// inner loop: runs until watcher breaks, then outer loop recreates it.
		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename (more robust across absolute/relative paths and OS quirks).
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; reload once and keep going.
				// Avoid depending on a specific fsnotify error constant across versions.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					if !m.log.IsZero() {
						m.log.Warn("config watch overflow; forcing reload", logx.Any("err", err), logx.String("dir", dir))
					}
					debounce()
					continue
				}
				if !m.log.IsZero() {
					m.log.Warn("config watch error", logx.Any("err", err), logx.String("dir", dir))
				}
				// Some fsnotify backends surface watcher closure via an error.
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
					break
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		// restart with a small jittered backoff to avoid tight restart loops.
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if !m.log.IsZero() {
			m.log.Warn(
				"config watcher stopped; restarting",
				logx.String("dir", dir),
				logx.String("file", file),
				logx.Duration("backoff", wait),
			)
		}
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			continue
		}
	}
}
