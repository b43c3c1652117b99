package bluez

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/srg/sppbridge/internal/device"
)

var errorNames = map[string]error{
	"org.bluez.Error.NotReady":                  device.ErrAdapterUnavailable,
	"org.bluez.Error.NotAvailable":              device.ErrAdapterUnavailable,
	"org.freedesktop.DBus.Error.ServiceUnknown": device.ErrAdapterUnavailable,
	"org.bluez.Error.InProgress":                device.ErrDiscoveryBusy,
	"org.bluez.Error.AlreadyConnected":          device.ErrAlreadyConnected,
	"org.bluez.Error.DoesNotExist":              &device.Error{Kind: device.InvalidAddress, Msg: "unknown device"},
	"org.bluez.Error.NotAuthorized":             device.ErrPermissionDenied,
	"org.bluez.Error.NotPermitted":              device.ErrPermissionDenied,
	"org.freedesktop.DBus.Error.AccessDenied":   device.ErrPermissionDenied,
}

// NormalizeError maps BlueZ and bus error names onto the device error kinds.
// Unknown names are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	name, msg := "", err.Error()
	var de dbus.Error
	var pde *dbus.Error
	switch {
	case errors.As(err, &pde) && pde != nil:
		name = pde.Name
	case errors.As(err, &de):
		name = de.Name
	default:
		return err
	}

	if kind, ok := errorNames[name]; ok {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return err
}
