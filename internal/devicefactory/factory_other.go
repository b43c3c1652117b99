//go:build !linux

package devicefactory

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/device"
)

func newBlueZ(name string, logger *logrus.Logger) (device.Adapter, error) {
	return nil, fmt.Errorf("%w: BlueZ is not available on %s, use the serial backend", device.ErrAdapterUnavailable, runtime.GOOS)
}
