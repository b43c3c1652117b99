package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/sppbridge/internal/device"
)

// FakeRemote is a device.RemoteDevice with canned answers.
type FakeRemote struct {
	Addr    string
	Label   string
	AddrErr error
	NameErr error
}

func (r *FakeRemote) Address() (string, error) { return r.Addr, r.AddrErr }
func (r *FakeRemote) Name() (string, error)    { return r.Label, r.NameErr }

// FakeAdapter is an in-memory device.Adapter.
//
// StartDiscovery delivers every Found device to the live subscriptions on a
// separate goroutine and then keeps reporting IsDiscovering for
// DiscoveryTime. A negative DiscoveryTime never ends inquiry on its own.
type FakeAdapter struct {
	mu sync.Mutex

	Bonded        []device.RemoteDevice
	Found         []device.RemoteDevice
	DiscoveryTime time.Duration

	Unavailable  bool
	BondedErr    error
	StartErr     error
	CancelErr    error
	DialErr      error
	SubscribeErr error

	// DialFunc replaces the default dialer that hands out fresh FakeSockets.
	DialFunc func(ctx context.Context, address string, opts device.DialOptions) (device.Socket, error)

	discovering bool
	generation  int
	handlers    map[int]func(device.RemoteDevice)
	nextHandler int

	sockets      []*FakeSocket
	dialed       []string
	dialOpts     []device.DialOptions
	startCalls   int
	cancelCalls  int
	closedSubs   int
	closeCalls   int
}

// NewFakeAdapter returns an adapter whose inquiry finishes after 20ms.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{DiscoveryTime: 20 * time.Millisecond}
}

func (a *FakeAdapter) BondedDevices(ctx context.Context) ([]device.RemoteDevice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Unavailable {
		return nil, device.ErrAdapterUnavailable
	}
	if a.BondedErr != nil {
		return nil, a.BondedErr
	}
	return append([]device.RemoteDevice(nil), a.Bonded...), nil
}

type fakeSubscription struct {
	a    *FakeAdapter
	id   int
	once sync.Once
}

func (s *fakeSubscription) Close() error {
	s.once.Do(func() {
		s.a.mu.Lock()
		defer s.a.mu.Unlock()
		delete(s.a.handlers, s.id)
		s.a.closedSubs++
	})
	return nil
}

func (a *FakeAdapter) Subscribe(handler func(device.RemoteDevice)) (device.Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SubscribeErr != nil {
		return nil, a.SubscribeErr
	}
	if a.handlers == nil {
		a.handlers = make(map[int]func(device.RemoteDevice))
	}
	a.nextHandler++
	a.handlers[a.nextHandler] = handler
	return &fakeSubscription{a: a, id: a.nextHandler}, nil
}

func (a *FakeAdapter) StartDiscovery(ctx context.Context) error {
	a.mu.Lock()
	a.startCalls++
	if a.Unavailable {
		a.mu.Unlock()
		return device.ErrAdapterUnavailable
	}
	if a.StartErr != nil {
		a.mu.Unlock()
		return a.StartErr
	}
	a.discovering = true
	a.generation++
	gen := a.generation
	found := append([]device.RemoteDevice(nil), a.Found...)
	linger := a.DiscoveryTime
	a.mu.Unlock()

	go func() {
		for _, rd := range found {
			for _, h := range a.liveHandlers() {
				h(rd)
			}
		}
		if linger < 0 {
			return
		}
		time.Sleep(linger)
		a.mu.Lock()
		if a.generation == gen {
			a.discovering = false
		}
		a.mu.Unlock()
	}()
	return nil
}

func (a *FakeAdapter) liveHandlers() []func(device.RemoteDevice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	hs := make([]func(device.RemoteDevice), 0, len(a.handlers))
	for id := 1; id <= a.nextHandler; id++ {
		if h, ok := a.handlers[id]; ok {
			hs = append(hs, h)
		}
	}
	return hs
}

func (a *FakeAdapter) CancelDiscovery() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelCalls++
	if a.CancelErr != nil {
		return a.CancelErr
	}
	a.discovering = false
	a.generation++
	return nil
}

func (a *FakeAdapter) IsDiscovering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discovering
}

func (a *FakeAdapter) Dial(ctx context.Context, address string, opts device.DialOptions) (device.Socket, error) {
	a.mu.Lock()
	a.dialed = append(a.dialed, address)
	a.dialOpts = append(a.dialOpts, opts)
	dialErr := a.DialErr
	dialFunc := a.DialFunc
	a.mu.Unlock()

	if dialErr != nil {
		return nil, dialErr
	}
	if dialFunc != nil {
		return dialFunc(ctx, address, opts)
	}

	sock := NewFakeSocket()
	a.mu.Lock()
	a.sockets = append(a.sockets, sock)
	a.mu.Unlock()
	return sock, nil
}

func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCalls++
	return nil
}

// Sockets returns the sockets handed out by the default dialer, oldest first.
func (a *FakeAdapter) Sockets() []*FakeSocket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeSocket(nil), a.sockets...)
}

// LastSocket returns the most recently dialled socket, or nil.
func (a *FakeAdapter) LastSocket() *FakeSocket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sockets) == 0 {
		return nil
	}
	return a.sockets[len(a.sockets)-1]
}

// Dialed returns every address passed to Dial.
func (a *FakeAdapter) Dialed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.dialed...)
}

// DialOptions returns the options passed to each Dial call.
func (a *FakeAdapter) DialOptions() []device.DialOptions {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]device.DialOptions(nil), a.dialOpts...)
}

func (a *FakeAdapter) StartCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startCalls
}

func (a *FakeAdapter) CancelCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelCalls
}

// ClosedSubscriptions counts subscriptions that were closed.
func (a *FakeAdapter) ClosedSubscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closedSubs
}

// ActiveSubscriptions counts subscriptions still registered.
func (a *FakeAdapter) ActiveSubscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handlers)
}

func (a *FakeAdapter) CloseCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeCalls
}
