package main

import (
	"errors"
	"fmt"

	"github.com/srg/sppbridge/internal/codec"
	"github.com/srg/sppbridge/internal/device"
)

// ErrConnectionLost is returned when the remote end drops an interactive session.
var ErrConnectionLost = errors.New("connection lost")

// FormatUserError turns err into a message for the terminal, adding a hint
// for the failure classes a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var decodeErr *codec.DecodeError
	switch {
	case errors.Is(err, device.ErrPermissionDenied):
		return fmt.Sprintf("%v\n  hint: grant the Bluetooth capabilities in the permissions section of the config file", err)
	case errors.Is(err, device.ErrAdapterUnavailable):
		return fmt.Sprintf("%v\n  hint: check that bluetoothd is running and the adapter is powered on", err)
	case errors.Is(err, device.ErrAlreadyConnected):
		return fmt.Sprintf("%v\n  hint: disconnect the current session first", err)
	case errors.Is(err, device.ErrInvalidAddress):
		return fmt.Sprintf("%v\n  hint: addresses look like 00:11:22:33:44:55", err)
	case errors.Is(err, device.ErrInvalidService):
		return fmt.Sprintf("%v\n  hint: pass a full 128-bit UUID or a 16-bit alias such as 1101", err)
	case errors.As(err, &decodeErr):
		return fmt.Sprintf("%v\n  hint: payloads passed with --base64 must be padded standard base64", err)
	}
	return err.Error()
}
