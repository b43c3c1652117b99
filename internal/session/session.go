// Package session owns the single serial session: connect, write, disconnect
// and the background reader that turns inbound bytes into events.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/codec"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/permission"
	"github.com/srg/sppbridge/internal/servicedb"
)

// Options tunes a Manager. Zero fields take the tag defaults.
type Options struct {
	ReadBufferSize int           `default:"1024"`
	ConnectTimeout time.Duration `default:"30s"`
	// StopTimeout bounds how long Disconnect waits for the reader to exit.
	StopTimeout time.Duration `default:"2s"`
	// DefaultService is used when Connect gets no service UUID. Empty means SPP.
	DefaultService string
}

// session is one open socket plus its reader state.
type session struct {
	address string
	service uuid.UUID
	socket  device.Socket
	input   io.ReadCloser
	output  device.OutputStream

	reading atomic.Bool // reader Idle -> Running guard
	closing atomic.Bool // set by Disconnect before teardown
	stopped chan struct{}

	writeMu sync.Mutex
}

// Manager holds at most one session. All methods are safe for concurrent use.
type Manager struct {
	adapter device.Adapter
	gate    *permission.Gate
	sink    events.Sink
	opts    Options
	logger  *logrus.Logger

	mu         sync.Mutex // guards the fields below; never held across I/O
	current    *session
	connecting bool
	cancelDial context.CancelFunc
	gen        uint64 // bumped by Disconnect; a Connect that sees it move gives up
}

// errConnectAborted reports a Connect overtaken by Disconnect.
var errConnectAborted = fmt.Errorf("disconnected while connecting: %w", context.Canceled)

// NewManager creates a Manager. A nil gate skips permission checks, a nil
// sink discards events and a nil logger means logrus.New().
func NewManager(adapter device.Adapter, gate *permission.Gate, sink events.Sink, opts *Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = events.Discard
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)

	return &Manager{
		adapter: adapter,
		gate:    gate,
		sink:    sink,
		opts:    o,
		logger:  logger,
	}
}

// Connect opens a session to address on the given service (empty selects the
// default). It fails with *device.ConnectError and keeps no state on failure.
// A second Connect while a session is open is rejected with ErrAlreadyConnected.
func (m *Manager) Connect(ctx context.Context, address, service string) error {
	addr, err := device.NormalizeAddress(address)
	if err != nil {
		return &device.ConnectError{Address: address, Err: err}
	}
	if service == "" {
		service = m.opts.DefaultService
	}
	svc, err := device.ParseServiceUUID(service)
	if err != nil {
		return &device.ConnectError{Address: addr, Err: err}
	}
	if m.adapter == nil {
		return &device.ConnectError{Address: addr, Err: device.ErrAdapterUnavailable}
	}
	if m.gate != nil {
		if err := m.gate.Ensure(ctx, m.gate.ConnectRequirement()); err != nil {
			return &device.ConnectError{Address: addr, Err: err}
		}
	}

	m.mu.Lock()
	if m.current != nil || m.connecting {
		busy := m.current
		m.mu.Unlock()
		msg := "connect in progress"
		if busy != nil {
			msg = "session open to " + busy.address
		}
		return &device.ConnectError{Address: addr, Err: fmt.Errorf("%w: %s", device.ErrAlreadyConnected, msg)}
	}
	m.connecting = true
	gen := m.gen
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.cancelDial = nil
		m.mu.Unlock()
	}()

	log := m.logger.WithFields(logrus.Fields{
		"address": addr,
		"service": servicedb.Describe(svc),
	})

	// Radios refuse to page while an inquiry is running.
	if err := m.adapter.CancelDiscovery(); err != nil {
		log.WithError(err).Debug("Failed to cancel inquiry before connect")
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return &device.ConnectError{Address: addr, Err: errConnectAborted}
	}
	m.cancelDial = cancel
	m.mu.Unlock()

	log.Info("Connecting...")
	sock, err := m.adapter.Dial(dialCtx, addr, device.DialOptions{Service: svc, Timeout: m.opts.ConnectTimeout})
	if err != nil {
		log.WithError(err).Warn("Connect failed")
		return &device.ConnectError{Address: addr, Err: err}
	}

	s := &session{
		address: addr,
		service: svc,
		socket:  sock,
		input:   sock.Input(),
		output:  sock.Output(),
		stopped: make(chan struct{}),
	}

	// The reader runs before s is published so Disconnect always finds one
	// to wait for.
	m.startReader(s)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		if err := m.stop(s); err != nil {
			log.WithError(err).Debug("Close errors after aborted connect")
		}
		log.Info("Connect aborted by disconnect")
		return &device.ConnectError{Address: addr, Err: errConnectAborted}
	}
	select {
	case <-s.stopped:
		// Lost before it was published; release skipped it.
		m.mu.Unlock()
		if err := closeStreams(s); err != nil {
			log.WithError(err).Debug("Close errors after reader stopped")
		}
	default:
		m.current = s
		m.mu.Unlock()
	}

	log.Info("Connected")
	return nil
}

// Write decodes a base64 payload and writes it with WriteBytes.
func (m *Manager) Write(ctx context.Context, encoded string) error {
	if err := ctx.Err(); err != nil {
		return &device.WriteError{Err: err}
	}
	data, err := codec.Decode(encoded)
	if err != nil {
		return &device.WriteError{Err: err}
	}
	return m.WriteBytes(data)
}

// WriteBytes writes all of data to the open session and flushes it.
// Short writes are retried until everything is written or an error occurs.
func (m *Manager) WriteBytes(data []byte) error {
	s := m.session()
	if s == nil {
		return &device.WriteError{Err: device.ErrNoSession}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for written < len(data) {
		n, err := s.output.Write(data[written:])
		written += n
		if err != nil {
			return &device.WriteError{Written: written, Err: err}
		}
		if n == 0 {
			return &device.WriteError{Written: written, Err: io.ErrShortWrite}
		}
	}
	if err := s.output.Flush(); err != nil {
		return &device.WriteError{Written: written, Err: err}
	}

	m.logger.WithFields(logrus.Fields{"address": s.address, "bytes": written}).Debug("Wrote to session")
	return nil
}

// Disconnect closes the session if there is one. The reader is stopped
// without a connectionLost event. Input, output and socket are each closed
// even if an earlier close fails; the session is forgotten either way.
// A Connect still in flight is cancelled and fails.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
	}
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	err := m.stop(s)
	log := m.logger.WithField("address", s.address)
	if err != nil {
		log.WithError(err).Warn("Disconnected with close errors")
		return &device.DisconnectError{Err: err}
	}
	log.Info("Disconnected")
	return nil
}

// IsConnected reports whether a session is open.
func (m *Manager) IsConnected() bool {
	return m.session() != nil
}

// Address returns the address of the open session, or "".
func (m *Manager) Address() string {
	if s := m.session(); s != nil {
		return s.address
	}
	return ""
}

func (m *Manager) session() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// release forgets s after its reader stopped on its own and closes it,
// unless Disconnect already took it.
func (m *Manager) release(s *session) {
	m.mu.Lock()
	owned := m.current == s
	if owned {
		m.current = nil
	}
	m.mu.Unlock()

	if !owned {
		return
	}
	if err := closeStreams(s); err != nil {
		m.logger.WithError(err).WithField("address", s.address).Debug("Close errors after reader stopped")
	}
}

// stop shuts the reader of s down quietly and closes its streams.
func (m *Manager) stop(s *session) error {
	s.closing.Store(true)
	s.reading.Store(false)
	err := closeStreams(s)

	select {
	case <-s.stopped:
	case <-time.After(m.opts.StopTimeout):
		m.logger.WithField("address", s.address).Warn("Reader did not stop after disconnect")
	}
	return err
}

func closeStreams(s *session) error {
	var errs []error
	if err := s.input.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close input: %w", err))
	}
	if err := s.output.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output: %w", err))
	}
	if err := s.socket.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close socket: %w", err))
	}
	return errors.Join(errs...)
}
