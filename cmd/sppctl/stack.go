package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sppbridge/internal/config"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/devicefactory"
	"github.com/srg/sppbridge/internal/discovery"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/permission"
	"github.com/srg/sppbridge/internal/session"
)

// stack is everything a command needs to talk to the radio.
type stack struct {
	cfg      *config.Config
	logger   *logrus.Logger
	adapter  device.Adapter // nil when no radio is available
	hub      *events.Multi
	scanner  *discovery.Scanner
	sessions *session.Manager
}

// newStack loads the configuration named by --config and opens the backend it
// selects. A missing radio is not an error here: scans come back empty and
// connects fail with adapter_unavailable.
func newStack(cmd *cobra.Command) (*stack, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	var adapter device.Adapter
	a, err := devicefactory.AdapterFactory(cfg, logger)
	switch {
	case errors.Is(err, device.ErrAdapterUnavailable):
		logger.WithError(err).Warn("Bluetooth adapter is not available")
	case err != nil:
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	default:
		adapter = a
	}

	gate := permission.NewGate(cfg.Platform(), logger)
	hub := events.NewMulti()

	return &stack{
		cfg:      cfg,
		logger:   logger,
		adapter:  adapter,
		hub:      hub,
		scanner:  discovery.NewScanner(adapter, gate, logger),
		sessions: session.NewManager(adapter, gate, hub, cfg.SessionOptions(), logger),
	}, nil
}

// Close drops any open session and releases the adapter.
func (s *stack) Close() {
	if err := s.sessions.Disconnect(); err != nil {
		s.logger.WithError(err).Warn("Disconnect failed")
	}
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			s.logger.WithError(err).Debug("Failed to close adapter")
		}
	}
}
