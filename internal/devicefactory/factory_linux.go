//go:build linux

package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/device/bluez"
)

func newBlueZ(name string, logger *logrus.Logger) (device.Adapter, error) {
	a, err := bluez.New(name, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}
