package sources

import "testing"

func TestParsePulseEventLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"Event 'change' on sink #52", "sink", true},
		{"Event 'change' on source #3", "source", true},
		{"Event 'change' on server #0", "server", true},
		{"Event 'new' on client #120", "", false},
		{"Event 'change' on sink-input #455", "", false},
		{"unrelated noise", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parsePulseEventLine(tt.line)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("parsePulseEventLine(%q) = (%q, %v), want (%q, %v)",
				tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

const pactlSinksJSON = `[
  {
    "index": 52,
    "name": "bluez_output.F8_4E_17.1",
    "description": "WH-1000XM4",
    "mute": false,
    "volume": {
      "front-left":  {"value_percent": "40%"},
      "front-right": {"value_percent": "42%"}
    },
    "properties": {
      "device.bus": "bluetooth",
      "api.bluez5.path": "/org/bluez/hci0/dev_F8_4E_17"
    }
  },
  {
    "index": 1,
    "name": "alsa_output.pci-0000_00_1f.3.analog-stereo",
    "description": "Built-in Audio",
    "mute": true,
    "volume": {
      "front-left": {"value_percent": "100%"}
    },
    "properties": {}
  }
]`

func TestFindDevice(t *testing.T) {
	t.Parallel()

	dev, err := findDevice([]byte(pactlSinksJSON), "bluez_output.F8_4E_17.1")
	if err != nil {
		t.Fatalf("findDevice() error = %v", err)
	}
	want := AudioDevice{
		Index:         52,
		Name:          "bluez_output.F8_4E_17.1",
		Description:   "WH-1000XM4",
		VolumePercent: 41,
		Bus:           "bluetooth",
		BluezPath:     "/org/bluez/hci0/dev_F8_4E_17",
	}
	if dev != want {
		t.Fatalf("findDevice() = %+v, want %+v", dev, want)
	}

	if _, err := findDevice([]byte(pactlSinksJSON), "no-such-sink"); err == nil {
		t.Fatalf("findDevice(unknown) = nil error, want not-found")
	}
	if _, err := findDevice([]byte("{not json"), "x"); err == nil {
		t.Fatalf("findDevice(bad json) = nil error, want decode error")
	}
}

func TestAvgVolumePercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		channels map[string]pactlVolume
		want     int
	}{
		{"empty", nil, 0},
		{"single", map[string]pactlVolume{"mono": {ValuePercent: "64%"}}, 64},
		{"averaged", map[string]pactlVolume{
			"front-left":  {ValuePercent: "40%"},
			"front-right": {ValuePercent: "42%"},
		}, 41},
		{"whitespace", map[string]pactlVolume{"mono": {ValuePercent: " 55% "}}, 55},
		{"garbage ignored", map[string]pactlVolume{"mono": {ValuePercent: "loud"}}, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := avgVolumePercent(tt.channels); got != tt.want {
				t.Fatalf("avgVolumePercent() = %d, want %d", got, tt.want)
			}
		})
	}
}
