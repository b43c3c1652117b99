// Package discovery enumerates paired devices and runs a bounded inquiry for
// nearby ones, merging both into one ordered result.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/permission"
)

// ProgressCallback is called when the scan phase changes.
type ProgressCallback func(phase string)

const (
	PhaseScanning   = "Scanning"
	PhaseProcessing = "Processing results"
)

// Source tells where a device was first seen.
type Source string

const (
	SourceBonded  Source = "bonded"
	SourceInquiry Source = "inquiry"
)

// Found is published for each device added to a result.
type Found struct {
	Source     Source
	Descriptor device.Descriptor
}

// ScanOptions configures a scan. Zero durations fall back to the defaults.
type ScanOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	AllowList    []string
	BlockList    []string
}

const (
	DefaultTimeout      = 8 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// DefaultScanOptions returns the standard 8s inquiry polled every 250ms.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Scanner runs discovery against one adapter.
type Scanner struct {
	adapter device.Adapter
	gate    *permission.Gate
	found   *events.RingChannel[Found]
	logger  *logrus.Logger
}

// NewScanner creates a Scanner. A nil adapter behaves as an absent radio and
// a nil gate skips permission checks.
func NewScanner(adapter device.Adapter, gate *permission.Gate, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		adapter: adapter,
		gate:    gate,
		found:   events.NewRingChannel[Found](100),
		logger:  logger,
	}
}

// Found returns a channel of devices as they are added. Old entries are
// overwritten when nobody reads.
func (s *Scanner) Found() <-chan Found {
	return s.found.C()
}

// Scan enumerates bonded devices, then runs inquiry until the adapter reports
// it finished, opts.Timeout passes or ctx is done. Inquiry is cancelled and
// the found-subscription closed on every exit path. A missing radio yields an
// empty result and no error.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progress ProgressCallback) (*Result, error) {
	opts = withDefaults(opts)
	if progress == nil {
		progress = func(string) {}
	}
	result := newResult()

	if s.adapter == nil {
		s.logger.Warn("No Bluetooth adapter, returning empty scan result")
		return result, nil
	}
	if s.gate != nil {
		if err := s.gate.Ensure(ctx, s.gate.ScanRequirement()); err != nil {
			return nil, err
		}
	}

	s.logger.WithField("timeout", opts.Timeout).Info("Starting discovery...")
	progress(PhaseScanning)

	bonded, err := s.adapter.BondedDevices(ctx)
	switch {
	case errors.Is(err, device.ErrAdapterUnavailable):
		s.logger.WithError(err).Warn("Adapter unavailable, returning empty scan result")
		return result, nil
	case err != nil:
		s.logger.WithError(err).Warn("Failed to list bonded devices")
	}
	for _, rd := range bonded {
		s.add(result, rd, SourceBonded, opts)
	}

	var mu sync.Mutex
	closed := false
	sub, err := s.adapter.Subscribe(func(rd device.RemoteDevice) {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			s.add(result, rd, SourceInquiry, opts)
		}
	})
	if err != nil {
		return s.softFail(result, fmt.Errorf("failed to subscribe to inquiry results: %w", err))
	}
	defer func() {
		if err := s.adapter.CancelDiscovery(); err != nil {
			s.logger.WithError(err).Debug("Failed to cancel inquiry")
		}
		mu.Lock()
		closed = true
		mu.Unlock()
		if err := sub.Close(); err != nil {
			s.logger.WithError(err).Debug("Failed to close inquiry subscription")
		}
	}()

	// A stale inquiry left by another client would make StartDiscovery fail.
	if err := s.adapter.CancelDiscovery(); err != nil {
		s.logger.WithError(err).Debug("Failed to cancel stale inquiry")
	}
	if err := s.adapter.StartDiscovery(ctx); err != nil {
		return s.softFail(result, fmt.Errorf("failed to start inquiry: %w", err))
	}

	s.waitInquiry(ctx, opts)

	progress(PhaseProcessing)
	s.logger.WithField("device_count", result.Len()).Info("Discovery completed")
	return result, nil
}

func (s *Scanner) softFail(result *Result, err error) (*Result, error) {
	if errors.Is(err, device.ErrAdapterUnavailable) {
		s.logger.WithError(err).Warn("Adapter unavailable during scan")
		return result, nil
	}
	return nil, err
}

func (s *Scanner) waitInquiry(ctx context.Context, opts *ScanOptions) {
	timeout := time.NewTimer(opts.Timeout)
	defer timeout.Stop()
	poll := time.NewTicker(opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.WithError(ctx.Err()).Debug("Inquiry interrupted")
			return
		case <-timeout.C:
			s.logger.Debug("Inquiry timed out")
			return
		case <-poll.C:
			if !s.adapter.IsDiscovering() {
				s.logger.Debug("Inquiry finished")
				return
			}
		}
	}
}

func (s *Scanner) add(result *Result, rd device.RemoteDevice, source Source, opts *ScanOptions) {
	d, err := device.ReadDescriptor(rd)
	if err != nil {
		s.logger.WithError(err).WithField("source", source).Debug("Skipping unreadable device")
		return
	}
	if !included(d.Address, opts) {
		return
	}
	if !result.add(d) {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device":  d.DisplayName(),
		"address": d.Address,
		"source":  source,
	}).Info("Discovered device")
	s.found.Send(Found{Source: source, Descriptor: d})
}

// included applies the block and allow lists.
func included(address string, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if sameAddress(address, blocked) {
			return false
		}
	}
	if len(opts.AllowList) == 0 {
		return true
	}
	for _, allowed := range opts.AllowList {
		if sameAddress(address, allowed) {
			return true
		}
	}
	return false
}

func sameAddress(normalized, other string) bool {
	o, err := device.NormalizeAddress(other)
	return err == nil && o == normalized
}

func withDefaults(opts *ScanOptions) *ScanOptions {
	if opts == nil {
		return DefaultScanOptions()
	}
	o := *opts
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return &o
}
