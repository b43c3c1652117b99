// Package devicefactory selects and constructs the device.Adapter backend.
package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/config"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/device/serialport"
)

// AdapterFactory creates the adapter described by cfg.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = NewAdapter

// NewAdapter builds the backend named by cfg.Backend. A radio that cannot be
// reached yields an error matching device.ErrAdapterUnavailable.
func NewAdapter(cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	switch cfg.Backend {
	case config.BackendSerial:
		a, err := serialport.New(cfg.Ports(), logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.BackendBlueZ, "":
		return newBlueZ(cfg.Adapter, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
