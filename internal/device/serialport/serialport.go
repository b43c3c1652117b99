// Package serialport implements device.Adapter over serial ports that the
// operating system has already bound to remote SPP devices, such as
// /dev/rfcommN on Linux or the outgoing COM port Windows creates per pairing.
package serialport

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/groutine"
	"github.com/tarm/serial"
)

// DefaultBaud is used for ports configured without a baud rate.
const DefaultBaud = 9600

// readTimeout bounds each blocking read so a closed input is noticed.
const readTimeout = 100 * time.Millisecond

// Port binds a device address to a local serial port.
type Port struct {
	Address string
	Path    string
	Baud    int
	Name    string
	// Paired ports are reported as bonded; the others only show up in a
	// scan when their device node exists.
	Paired bool
}

// Opener opens a serial port. It is a field so tests can avoid real hardware.
type Opener func(cfg *serial.Config) (io.ReadWriteCloser, error)

func openPort(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(cfg)
}

// Adapter is a device.Adapter over a fixed port table.
type Adapter struct {
	ports  map[string]Port
	order  []string
	logger *logrus.Logger

	// Open defaults to serial.OpenPort.
	Open Opener
	// Exists reports whether a device node is present; defaults to os.Stat.
	Exists func(path string) bool

	mu          sync.Mutex
	handlers    map[uint64]func(device.RemoteDevice)
	nextHandler uint64
	discovering bool
	run         uint64 // current discovery run; older runs drop out
	cancel      context.CancelFunc
	closed      bool
}

// New validates the port table and builds an Adapter.
func New(ports []Port, logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	a := &Adapter{
		ports:    make(map[string]Port, len(ports)),
		logger:   logger,
		Open:     openPort,
		Exists:   pathExists,
		handlers: make(map[uint64]func(device.RemoteDevice)),
	}
	for _, p := range ports {
		addr, err := device.NormalizeAddress(p.Address)
		if err != nil {
			return nil, fmt.Errorf("serial port %q: %w", p.Path, err)
		}
		if p.Path == "" {
			return nil, fmt.Errorf("serial port for %s has no path", addr)
		}
		if _, dup := a.ports[addr]; dup {
			return nil, fmt.Errorf("serial port table lists %s twice", addr)
		}
		if p.Baud <= 0 {
			p.Baud = DefaultBaud
		}
		p.Address = addr
		a.ports[addr] = p
		a.order = append(a.order, addr)
	}
	sort.Strings(a.order)
	return a, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type remote struct{ p Port }

func (r remote) Address() (string, error) { return r.p.Address, nil }
func (r remote) Name() (string, error)    { return r.p.Name, nil }

func (a *Adapter) BondedDevices(ctx context.Context) ([]device.RemoteDevice, error) {
	if err := a.usable(); err != nil {
		return nil, err
	}
	var out []device.RemoteDevice
	for _, addr := range a.order {
		if p := a.ports[addr]; p.Paired {
			out = append(out, remote{p})
		}
	}
	return out, nil
}

type subscription struct {
	a    *Adapter
	id   uint64
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.a.mu.Lock()
		delete(s.a.handlers, s.id)
		s.a.mu.Unlock()
	})
	return nil
}

func (a *Adapter) Subscribe(handler func(device.RemoteDevice)) (device.Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, device.ErrAdapterUnavailable
	}
	a.nextHandler++
	a.handlers[a.nextHandler] = handler
	return &subscription{a: a, id: a.nextHandler}, nil
}

// StartDiscovery checks the unpaired ports in the background and reports
// each one whose device node exists.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return device.ErrAdapterUnavailable
	}
	if a.discovering {
		return device.ErrDiscoveryBusy
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	a.run++
	run := a.run
	a.cancel = cancel
	a.discovering = true
	groutine.Go(scanCtx, "serial-scan", func(ctx context.Context) {
		defer a.finish(run)
		for _, addr := range a.order {
			p := a.ports[addr]
			if p.Paired || !a.Exists(p.Path) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			a.notify(remote{p})
		}
	})
	return nil
}

// finish ends discovery run unless CancelDiscovery or a newer run already did.
func (a *Adapter) finish(run uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run != run {
		return
	}
	a.discovering = false
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Adapter) notify(rd device.RemoteDevice) {
	a.mu.Lock()
	hs := make([]func(device.RemoteDevice), 0, len(a.handlers))
	for _, h := range a.handlers {
		hs = append(hs, h)
	}
	a.mu.Unlock()

	for _, h := range hs {
		h(rd)
	}
}

// CancelDiscovery stops the current run at once; a new one may start right away.
func (a *Adapter) CancelDiscovery() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.run++
	a.discovering = false
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	return nil
}

func (a *Adapter) IsDiscovering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovering
}

// Dial opens the port bound to address. The service UUID is fixed by the
// binding and only logged.
func (a *Adapter) Dial(ctx context.Context, address string, opts device.DialOptions) (device.Socket, error) {
	if err := a.usable(); err != nil {
		return nil, err
	}
	addr, err := device.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	p, ok := a.ports[addr]
	if !ok {
		return nil, &device.Error{Kind: device.InvalidAddress, Msg: addr + " has no serial port binding"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"address": addr,
		"port":    p.Path,
		"baud":    p.Baud,
		"service": opts.Service.String(),
	}).Debug("Opening serial port")

	rwc, err := a.Open(&serial.Config{Name: p.Path, Baud: p.Baud, ReadTimeout: readTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.Path, err)
	}
	return newPortSocket(rwc), nil
}

func (a *Adapter) usable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return device.ErrAdapterUnavailable
	}
	return nil
}

func (a *Adapter) Close() error {
	_ = a.CancelDiscovery()
	a.mu.Lock()
	a.closed = true
	a.handlers = map[uint64]func(device.RemoteDevice){}
	a.mu.Unlock()
	return nil
}
