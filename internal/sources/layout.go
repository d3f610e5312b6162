package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// LayoutChange reports that the active keyboard layout switched.
type LayoutChange struct {
	Name string
}

// LayoutSource follows keyboard-layout switches from the running Wayland
// compositor: niri's IPC event stream or Hyprland's socket2, auto-detected
// from the environment. Neither being present is a constructor error; the
// caller decides whether that is fatal (module enabled) or not.
type LayoutSource struct {
	backend string
	conn    net.Conn

	changes chan LayoutChange
	errCh   chan error
	log     logx.Logger
}

func NewLayoutSource(log logx.Logger) (*LayoutSource, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &LayoutSource{
		changes: make(chan LayoutChange, 8),
		errCh:   make(chan error, 1),
		log:     log,
	}

	if path := os.Getenv("NIRI_SOCKET"); path != "" {
		if err := s.connectNiri(path); err != nil {
			return nil, err
		}
		return s, nil
	}
	if sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE"); sig != "" {
		if err := s.connectHyprland(sig); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.New("no layout backend: neither NIRI_SOCKET nor HYPRLAND_INSTANCE_SIGNATURE is set")
}

func (s *LayoutSource) Backend() string { return s.backend }

func (s *LayoutSource) connectNiri(path string) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return fmt.Errorf("niri socket: %w", err)
	}
	if _, err := conn.Write([]byte("\"EventStream\"\n")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("niri event stream request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	r := bufio.NewReader(conn)
	// Discard the OK acknowledgement line.
	if _, err := r.ReadString('\n'); err != nil {
		_ = conn.Close()
		return fmt.Errorf("niri handshake: %w", err)
	}

	s.backend = "niri"
	s.conn = conn
	go s.readLoop(r, decodeNiri())
	return nil
}

func (s *LayoutSource) connectHyprland(sig string) error {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return errors.New("hyprland socket: XDG_RUNTIME_DIR is not set")
	}
	path := filepath.Join(dir, "hypr", sig, ".socket2.sock")
	conn, err := net.Dial("unix", path)
	if err != nil {
		return fmt.Errorf("hyprland socket: %w", err)
	}

	s.backend = "hyprland"
	s.conn = conn
	go s.readLoop(bufio.NewReader(conn), decodeHyprlandLine)
	return nil
}

func (s *LayoutSource) readLoop(r *bufio.Reader, decode func(line string) (LayoutChange, bool)) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			s.errCh <- fmt.Errorf("%s stream: %w", s.backend, err)
			close(s.changes)
			return
		}
		if ch, ok := decode(strings.TrimRight(line, "\n")); ok {
			select {
			case s.changes <- ch:
			default:
				// A dropped switch is recovered by the next one.
			}
		}
	}
}

func (s *LayoutSource) Next(ctx context.Context, poll time.Duration) (any, error) {
	var timeout <-chan time.Time
	if poll > 0 {
		t := time.NewTimer(poll)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case ch, ok := <-s.changes:
		if !ok {
			err := <-s.errCh
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, Gone(err)
		}
		return ch, nil
	}
}

func (s *LayoutSource) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// niri wire shapes. The event stream is JSON lines; only the two
// keyboard-layout events matter here, everything else is skipped.
type niriEvent struct {
	KeyboardLayoutsChanged *struct {
		KeyboardLayouts struct {
			Names      []string `json:"names"`
			CurrentIdx int      `json:"current_idx"`
		} `json:"keyboard_layouts"`
	} `json:"KeyboardLayoutsChanged"`
	KeyboardLayoutSwitched *struct {
		Idx int `json:"idx"`
	} `json:"KeyboardLayoutSwitched"`
}

// decodeNiri returns a line decoder carrying the layout-name list state
// between events: LayoutsChanged refreshes the list, LayoutSwitched picks
// the active name out of it.
func decodeNiri() func(line string) (LayoutChange, bool) {
	var names []string
	return func(line string) (LayoutChange, bool) {
		var ev niriEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return LayoutChange{}, false
		}
		switch {
		case ev.KeyboardLayoutsChanged != nil:
			names = ev.KeyboardLayoutsChanged.KeyboardLayouts.Names
			return LayoutChange{}, false
		case ev.KeyboardLayoutSwitched != nil:
			idx := ev.KeyboardLayoutSwitched.Idx
			if idx < 0 || idx >= len(names) {
				return LayoutChange{}, false
			}
			return LayoutChange{Name: names[idx]}, true
		default:
			return LayoutChange{}, false
		}
	}
}

// decodeHyprlandLine handles socket2's `activelayout>>KEYBOARD,LAYOUT`
// lines. Layout names may themselves contain commas, so only the first one
// splits.
func decodeHyprlandLine(line string) (LayoutChange, bool) {
	const prefix = "activelayout>>"
	if !strings.HasPrefix(line, prefix) {
		return LayoutChange{}, false
	}
	rest := line[len(prefix):]
	i := strings.IndexByte(rest, ',')
	if i < 0 {
		return LayoutChange{}, false
	}
	name := strings.TrimSpace(rest[i+1:])
	if name == "" {
		return LayoutChange{}, false
	}
	return LayoutChange{Name: name}, true
}
