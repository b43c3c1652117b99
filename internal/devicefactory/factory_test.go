package devicefactory

import (
	"testing"

	"github.com/srg/sppbridge/internal/config"
	"github.com/srg/sppbridge/internal/device/serialport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdapter_Serial(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendSerial
	cfg.SerialPorts = []config.SerialPort{{Address: "00:11:22:33:44:55", Path: "/dev/rfcomm0", Paired: true}}

	a, err := NewAdapter(cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &serialport.Adapter{}, a)
}

func TestNewAdapter_SerialTableError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendSerial
	cfg.SerialPorts = []config.SerialPort{{Address: "bogus", Path: "/dev/rfcomm0"}}

	_, err := NewAdapter(cfg, nil)
	assert.Error(t, err)
}

func TestNewAdapter_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "usb"

	_, err := NewAdapter(cfg, nil)
	assert.ErrorContains(t, err, `unknown backend "usb"`)
}
