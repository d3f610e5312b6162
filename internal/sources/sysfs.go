package sources

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// gone wraps errors that mean a source is permanently unavailable. The
// module worker treats such errors as fatal instead of retrying.
type goneError struct{ err error }

func (e *goneError) Error() string { return e.err.Error() }
func (e *goneError) Unwrap() error { return e.err }
func (e *goneError) Fatal() bool   { return true }

// Gone marks err as unrecoverable for the calling worker.
func Gone(err error) error {
	if err == nil {
		return nil
	}
	return &goneError{err: err}
}

// PowerSample is one reading of a power-supply device.
type PowerSample struct {
	Status   string
	Capacity int
}

// ReadPowerSupply samples /sys/class/power_supply/<device>/uevent.
//
// A missing device directory is reported as fatal (battery removed or
// misconfigured selector); read or parse trouble is left transient.
func ReadPowerSupply(device string) (PowerSample, error) {
	path := filepath.Join("/sys/class/power_supply", device, "uevent")
	b, err := os.ReadFile(path)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok && os.IsNotExist(err) {
			return PowerSample{}, Gone(fmt.Errorf("power supply %s: %w", device, err))
		}
		return PowerSample{}, fmt.Errorf("power supply %s: %w", device, err)
	}
	return parsePowerSupplyUevent(device, b)
}

func parsePowerSupplyUevent(device string, b []byte) (PowerSample, error) {
	env := map[string]string{}
	for _, line := range strings.Split(string(b), "\n") {
		if eq := strings.IndexByte(line, '='); eq > 0 {
			env[line[:eq]] = line[eq+1:]
		}
	}

	status, ok := env["POWER_SUPPLY_STATUS"]
	if !ok {
		return PowerSample{}, fmt.Errorf("power supply %s: POWER_SUPPLY_STATUS missing", device)
	}

	if raw, ok := env["POWER_SUPPLY_CAPACITY"]; ok {
		pct, err := strconv.Atoi(raw)
		if err != nil {
			return PowerSample{}, fmt.Errorf("power supply %s: capacity %q: %w", device, raw, err)
		}
		return PowerSample{Status: status, Capacity: pct}, nil
	}

	// Older batteries expose only energy counters.
	now, err1 := strconv.ParseFloat(env["POWER_SUPPLY_ENERGY_NOW"], 64)
	full, err2 := strconv.ParseFloat(env["POWER_SUPPLY_ENERGY_FULL"], 64)
	if err1 != nil || err2 != nil || full <= 0 {
		return PowerSample{}, fmt.Errorf("power supply %s: no usable capacity fields", device)
	}
	return PowerSample{Status: status, Capacity: int(now / full * 100)}, nil
}

// ReadBacklightPercent reads brightness/max_brightness under /sys<devpath>
// and returns the level as a percentage.
func ReadBacklightPercent(devpath string) (int, error) {
	cur, err := readSysFloat(filepath.Join("/sys"+devpath, "brightness"))
	if err != nil {
		return 0, err
	}
	max, err := readSysFloat(filepath.Join("/sys"+devpath, "max_brightness"))
	if err != nil {
		return 0, err
	}
	if max <= 0 {
		return 0, fmt.Errorf("backlight %s: max_brightness is %v", devpath, max)
	}
	return int(cur / max * 100), nil
}

func readSysFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
