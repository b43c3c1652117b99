package device

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// SPPUUID is the Serial Port Profile service class.
var SPPUUID = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")

// bluetoothBaseUUIDSuffix completes 16- and 32-bit SIG short forms.
const bluetoothBaseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// ParseServiceUUID parses a service identifier. An empty string selects SPPUUID.
// Accepts full 128-bit UUIDs (with or without dashes, optional braces) and 16/32-bit
// SIG short forms with an optional 0x prefix ("1101", "0x1101").
func ParseServiceUUID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SPPUUID, nil
	}

	short := strings.TrimPrefix(strings.ToLower(s), "0x")
	switch len(short) {
	case 4:
		short = "0000" + short
		fallthrough
	case 8:
		if !isHex(short) {
			return uuid.Nil, &Error{Kind: InvalidService, Msg: s}
		}
		return uuid.MustParse(short + bluetoothBaseUUIDSuffix), nil
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", &Error{Kind: InvalidService, Msg: s}, err)
	}
	return u, nil
}

// FormatServiceUUID renders u in the upper-case dashed form used by Android and BlueZ logs.
func FormatServiceUUID(u uuid.UUID) string {
	return strings.ToUpper(u.String())
}

// NormalizeAddress validates a Bluetooth device address and returns it as
// upper-case colon-separated hex ("AA:BB:CC:DD:EE:FF").
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", &Error{Kind: InvalidAddress, Msg: "address is empty"}
	}
	hw, err := net.ParseMAC(addr)
	if err != nil || len(hw) != 6 {
		return "", &Error{Kind: InvalidAddress, Msg: addr}
	}
	return strings.ToUpper(hw.String()), nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
