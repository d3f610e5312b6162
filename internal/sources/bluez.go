package sources

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
)

// BluezClient reads Bluetooth device battery levels from the system bus.
type BluezClient struct {
	conn *dbus.Conn
}

func NewBluezClient() (*BluezClient, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return &BluezClient{conn: conn}, nil
}

// BatteryPercent reads org.bluez.Battery1 Percentage for the device at
// path. ok is false when the device has not (yet) registered a battery —
// common right after a headset connects.
func (c *BluezClient) BatteryPercent(ctx context.Context, path string) (percent int, ok bool) {
	if c == nil || c.conn == nil || path == "" {
		return 0, false
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var v dbus.Variant
	obj := c.conn.Object("org.bluez", dbus.ObjectPath(path))
	err := obj.CallWithContext(cctx,
		"org.freedesktop.DBus.Properties.Get", 0,
		"org.bluez.Battery1", "Percentage",
	).Store(&v)
	if err != nil {
		return 0, false
	}
	b, ok := v.Value().(byte)
	if !ok {
		return 0, false
	}
	return int(b), true
}

func (c *BluezClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
