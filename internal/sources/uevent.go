package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout reports that a bounded wait elapsed with no event.
var ErrTimeout = errors.New("wait timed out")

// Uevent is one decoded kernel kobject event: the "action@devpath" header
// plus the KEY=VALUE environment that follows it.
type Uevent struct {
	Action  string
	Devpath string
	Env     map[string]string
}

// UeventConn is a netlink socket subscribed to the kernel's kobject uevent
// broadcast group.
type UeventConn struct {
	fd  int
	buf []byte
}

func NewUeventConn() (*UeventConn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent socket: %w", err)
	}
	// Group 1 is the kernel's uevent broadcast group.
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("uevent bind: %w", err)
	}
	return &UeventConn{fd: fd, buf: make([]byte, 4096)}, nil
}

// Read blocks until the next uevent arrives, the timeout elapses
// (ErrTimeout), or ctx is cancelled. timeout <= 0 waits indefinitely.
//
// The poll is chunked so cancellation is noticed within about a second even
// while no events arrive.
func (c *UeventConn) Read(ctx context.Context, timeout time.Duration) (Uevent, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return Uevent{}, err
		}

		wait := time.Second
		if !deadline.IsZero() {
			rem := time.Until(deadline)
			if rem <= 0 {
				return Uevent{}, ErrTimeout
			}
			if rem < wait {
				wait = rem
			}
		}

		pfds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, int(wait/time.Millisecond)+1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Uevent{}, fmt.Errorf("uevent poll: %w", err)
		}
		if n == 0 {
			continue
		}

		nr, _, err := unix.Recvfrom(c.fd, c.buf, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			// ENOBUFS means the kernel dropped broadcasts while we were
			// slow; the stream itself is still alive.
			if errors.Is(err, unix.ENOBUFS) {
				return Uevent{}, fmt.Errorf("uevent recv overrun: %w", err)
			}
			return Uevent{}, fmt.Errorf("uevent recv: %w", err)
		}
		if nr <= 0 {
			continue
		}
		return parseUevent(c.buf[:nr]), nil
	}
}

func (c *UeventConn) Close() error { return unix.Close(c.fd) }

// parseUevent decodes the NUL-separated kernel format. The first record is
// "action@devpath"; the rest are KEY=VALUE pairs.
func parseUevent(b []byte) Uevent {
	u := Uevent{Env: map[string]string{}}
	for i, rec := range strings.Split(string(b), "\x00") {
		if rec == "" {
			continue
		}
		if i == 0 {
			if at := strings.IndexByte(rec, '@'); at >= 0 {
				u.Action = rec[:at]
				u.Devpath = rec[at+1:]
				continue
			}
		}
		if eq := strings.IndexByte(rec, '='); eq > 0 {
			u.Env[rec[:eq]] = rec[eq+1:]
		}
	}
	return u
}

// UeventSource narrows the shared kobject stream down to one subsystem and
// exposes it in the shape the module worker loop consumes: a payload per
// matching event, nil on poll timeout.
type UeventSource struct {
	conn      *UeventConn
	subsystem string
}

func NewUeventSource(subsystem string) (*UeventSource, error) {
	conn, err := NewUeventConn()
	if err != nil {
		return nil, err
	}
	return &UeventSource{conn: conn, subsystem: subsystem}, nil
}

func (s *UeventSource) Next(ctx context.Context, poll time.Duration) (any, error) {
	// One deadline for the whole wait: filtered-out events must not push the
	// poll tick back, or a chatty subsystem (USB, thermal) starves it.
	var deadline time.Time
	if poll > 0 {
		deadline = time.Now().Add(poll)
	}
	for {
		wait := poll
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil, nil
			}
		}
		u, err := s.conn.Read(ctx, wait)
		if errors.Is(err, ErrTimeout) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if u.Env["SUBSYSTEM"] != s.subsystem {
			continue
		}
		return u, nil
	}
}

func (s *UeventSource) Close() error { return s.conn.Close() }
