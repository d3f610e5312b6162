package config

import "time"

// Stock icon names resolve against IconsConfig.Path (Adwaita symbolic set).
const (
	DefaultAppName  = "sun"
	DefaultIconPath = "/usr/share/icons/Adwaita/symbolic/"

	DefaultErrorIcon = "status/dialog-error-symbolic.svg"

	DefaultSinkIcon          = "status/audio-volume-high-symbolic.svg"
	DefaultSinkMutedIcon     = "status/audio-volume-muted-symbolic.svg"
	DefaultSinkBluetoothIcon = "status/audio-volume-high-symbolic.svg"
	DefaultSourceIcon        = "status/microphone-sensetivity-high-symbolic.svg"
	DefaultSourceMutedIcon   = "status/microphone-sensetivity-muted-symbolic.svg"

	DefaultKeyboardIcon   = "devices/input-keyboard-symbolic.svg"
	DefaultBrightnessIcon = "status/display-brightness-symbolic.svg"

	DefaultBatteryFullIcon = "status/battery-level-100-charged-symbolic.svg"
	DefaultBatteryLowIcon  = "status/battery-caution-symbolic.svg"
	// "{level}" is replaced with the capacity rounded down to tens (min 10).
	DefaultBatteryChargingIcon    = "status/battery-level-{level}-charging-symbolic.svg"
	DefaultBatteryDischargingIcon = "status/battery-level-{level}-symbolic.svg"
)

const (
	DefaultBatteryDevice       = "BAT0"
	DefaultBatteryPoll         = 15 * time.Second
	DefaultBatteryLowThreshold = 15

	DefaultBluetoothBatteryPoll      = 30 * time.Second
	DefaultBluetoothBatteryWarnLevel = 15
)

// applyDefaults fills omitted fields in place so every reader downstream
// sees concrete values. Parse calls it on every successful decode.
func applyDefaults(s *Snapshot) {
	if s == nil {
		return
	}

	if s.Daemon.AppName == "" {
		s.Daemon.AppName = DefaultAppName
	}
	if s.Daemon.ErrorIcon == "" {
		s.Daemon.ErrorIcon = DefaultErrorIcon
	}
	if s.Icons.Path == "" {
		s.Icons.Path = DefaultIconPath
	}

	b := &s.Battery
	if b.Device == "" {
		b.Device = DefaultBatteryDevice
	}
	if b.LowThreshold == 0 {
		b.LowThreshold = DefaultBatteryLowThreshold
	}
	if b.FullIcon == "" {
		b.FullIcon = DefaultBatteryFullIcon
	}
	if b.ChargingIcon == "" {
		b.ChargingIcon = DefaultBatteryChargingIcon
	}
	if b.DischargingIcon == "" {
		b.DischargingIcon = DefaultBatteryDischargingIcon
	}
	if b.LowIcon == "" {
		b.LowIcon = DefaultBatteryLowIcon
	}

	if s.Brightness.Icon == "" {
		s.Brightness.Icon = DefaultBrightnessIcon
	}

	v := &s.Volume
	if v.BluetoothBatteryWarnLevel == 0 {
		v.BluetoothBatteryWarnLevel = DefaultBluetoothBatteryWarnLevel
	}
	if v.SinkIcon == "" {
		v.SinkIcon = DefaultSinkIcon
	}
	if v.SinkMutedIcon == "" {
		v.SinkMutedIcon = DefaultSinkMutedIcon
	}
	if v.SinkBluetoothIcon == "" {
		v.SinkBluetoothIcon = DefaultSinkBluetoothIcon
	}
	if v.SourceIcon == "" {
		v.SourceIcon = DefaultSourceIcon
	}
	if v.SourceMutedIcon == "" {
		v.SourceMutedIcon = DefaultSourceMutedIcon
	}

	if s.Keyboard.Icon == "" {
		s.Keyboard.Icon = DefaultKeyboardIcon
	}
}
