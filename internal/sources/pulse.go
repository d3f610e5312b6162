package sources

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// PulseChange is one audio-server change event. Facility is "sink",
// "source", or "server" (default-device switches arrive as server events).
type PulseChange struct {
	Facility string
}

// PulseSource follows `pactl subscribe` for sink/source/server changes.
//
// The audio server disappearing (the subprocess exiting) is fatal for the
// volume worker: there is nothing left to monitor.
type PulseSource struct {
	cmd   *exec.Cmd
	out   io.ReadCloser
	lines chan string
	errCh chan error
	log   logx.Logger
}

func NewPulseSource(ctx context.Context, log logx.Logger) (*PulseSource, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cmd := exec.CommandContext(ctx, "pactl", "subscribe")
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pactl subscribe: %w", err)
	}

	s := &PulseSource{
		cmd:   cmd,
		out:   out,
		lines: make(chan string, 64),
		errCh: make(chan error, 1),
		log:   log,
	}
	go s.scan()
	return s, nil
}

func (s *PulseSource) scan() {
	sc := bufio.NewScanner(s.out)
	for sc.Scan() {
		select {
		case s.lines <- sc.Text():
		default:
			// Dropping is harmless: the consumer re-reads full device state
			// on every event anyway.
		}
	}
	err := s.cmd.Wait()
	if err == nil {
		err = sc.Err()
	}
	if err == nil {
		err = fmt.Errorf("pactl subscribe exited")
	}
	s.errCh <- err
	close(s.lines)
}

func (s *PulseSource) Next(ctx context.Context, poll time.Duration) (any, error) {
	var timeout <-chan time.Time
	if poll > 0 {
		t := time.NewTimer(poll)
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case line, ok := <-s.lines:
			if !ok {
				err := <-s.errCh
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, Gone(err)
			}
			facility, ok := parsePulseEventLine(line)
			if !ok {
				continue
			}
			return PulseChange{Facility: facility}, nil
		}
	}
}

func (s *PulseSource) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.out.Close()
}

// parsePulseEventLine decodes `Event 'change' on sink #52` style lines,
// keeping only the facilities this daemon reacts to.
func parsePulseEventLine(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "Event" || fields[2] != "on" {
		return "", false
	}
	switch fields[3] {
	case "sink", "source", "server":
		return fields[3], true
	default:
		return "", false
	}
}

// AudioDevice is the dispatch-relevant state of one sink or source.
type AudioDevice struct {
	Index         int
	Name          string
	Description   string
	Mute          bool
	VolumePercent int

	// Bus is "bluetooth" for BT devices; BluezPath is the org.bluez object
	// path used for battery lookups.
	Bus       string
	BluezPath string
}

// PulseState reads current sink/source state through pactl.
type PulseState struct{}

func (PulseState) DefaultSink(ctx context.Context) (AudioDevice, error) {
	return defaultDevice(ctx, "sink")
}

func (PulseState) DefaultSource(ctx context.Context) (AudioDevice, error) {
	return defaultDevice(ctx, "source")
}

func defaultDevice(ctx context.Context, kind string) (AudioDevice, error) {
	nameOut, err := exec.CommandContext(ctx, "pactl", "get-default-"+kind).Output()
	if err != nil {
		return AudioDevice{}, fmt.Errorf("pactl get-default-%s: %w", kind, err)
	}
	name := strings.TrimSpace(string(nameOut))

	listOut, err := exec.CommandContext(ctx, "pactl", "--format=json", "list", kind+"s").Output()
	if err != nil {
		return AudioDevice{}, fmt.Errorf("pactl list %ss: %w", kind, err)
	}
	dev, err := findDevice(listOut, name)
	if err != nil {
		return AudioDevice{}, fmt.Errorf("default %s %q: %w", kind, name, err)
	}
	return dev, nil
}

type pactlDevice struct {
	Index       int                    `json:"index"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Mute        bool                   `json:"mute"`
	Volume      map[string]pactlVolume `json:"volume"`
	Properties  map[string]string      `json:"properties"`
}

type pactlVolume struct {
	ValuePercent string `json:"value_percent"`
}

func findDevice(listJSON []byte, name string) (AudioDevice, error) {
	var devs []pactlDevice
	dec := json.NewDecoder(bytes.NewReader(listJSON))
	if err := dec.Decode(&devs); err != nil {
		return AudioDevice{}, fmt.Errorf("decode pactl json: %w", err)
	}
	for _, d := range devs {
		if d.Name != name {
			continue
		}
		out := AudioDevice{
			Index:         d.Index,
			Name:          d.Name,
			Description:   d.Description,
			Mute:          d.Mute,
			VolumePercent: avgVolumePercent(d.Volume),
			Bus:           d.Properties["device.bus"],
			BluezPath:     d.Properties["api.bluez5.path"],
		}
		return out, nil
	}
	return AudioDevice{}, fmt.Errorf("not found")
}

func avgVolumePercent(channels map[string]pactlVolume) int {
	if len(channels) == 0 {
		return 0
	}
	sum := 0
	for _, v := range channels {
		raw := strings.TrimSuffix(strings.TrimSpace(v.ValuePercent), "%")
		if p, err := strconv.Atoi(raw); err == nil {
			sum += p
		}
	}
	return sum / len(channels)
}
