// Package eventbus is a tiny in-process fanout for observability events.
// Modules publish markers like "module.backoff" and "notify.sent"; the app
// mirrors them into the debug log. Nothing load-bearing rides on the bus:
// delivery is best-effort and slow subscribers lose events.
package eventbus

import (
	"sync"
	"time"
)

// Event carries a dotted type name and an optional small payload.
// Time is stamped at publish when left zero.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	// Publish never blocks. Subscribers that cannot keep up are skipped.
	Publish(e Event)
	// Subscribe returns a buffered channel and an idempotent unsubscribe.
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &fanout{}
}

type subscriber struct {
	ch      chan Event
	dropped uint64
}

// fanout holds its lock across delivery. Sends are non-blocking, so the
// critical section stays short, and close never races a send.
type fanout struct {
	mu   sync.Mutex
	subs []*subscriber
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped++
		}
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			for i, cur := range f.subs {
				if cur == s {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
					break
				}
			}
			close(s.ch)
			f.mu.Unlock()
		})
	}
	return s.ch, unsub
}
