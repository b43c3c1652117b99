// Package servicedb names the Bluetooth Classic service classes a serial
// client is likely to meet, for logs and command output.
package servicedb

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/srg/sppbridge/internal/device"
)

// base is the Bluetooth Base UUID; SIG-assigned classes differ only in the first 32 bits.
var base = uuid.MustParse("00000000-0000-1000-8000-00805F9B34FB")

var services = map[uint32]string{
	0x1000: "Service Discovery Server",
	0x1101: "Serial Port",
	0x1102: "LAN Access Using PPP",
	0x1103: "Dialup Networking",
	0x1104: "IrMC Sync",
	0x1105: "OBEX Object Push",
	0x1106: "OBEX File Transfer",
	0x1108: "Headset",
	0x110A: "Audio Source",
	0x110B: "Audio Sink",
	0x110E: "A/V Remote Control",
	0x1112: "Headset Audio Gateway",
	0x1115: "PANU",
	0x1116: "NAP",
	0x111E: "Handsfree",
	0x111F: "Handsfree Audio Gateway",
	0x1124: "Human Interface Device",
	0x112F: "Phonebook Access Server",
	0x1200: "PnP Information",
}

// Short returns the 32-bit SIG alias of u, or false when u is not derived
// from the Bluetooth Base UUID.
func Short(u uuid.UUID) (uint32, bool) {
	if !bytes.Equal(u[4:], base[4:]) {
		return 0, false
	}
	return binary.BigEndian.Uint32(u[:4]), true
}

// Lookup returns the name of a well-known service class, or "".
func Lookup(u uuid.UUID) string {
	short, ok := Short(u)
	if !ok {
		return ""
	}
	return services[short]
}

// Describe renders u with its name when known, e.g. "Serial Port (00001101-...)".
func Describe(u uuid.UUID) string {
	s := device.FormatServiceUUID(u)
	if name := Lookup(u); name != "" {
		return name + " (" + s + ")"
	}
	return s
}
