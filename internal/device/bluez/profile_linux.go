//go:build linux

package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

// clientProfile is the exported org.bluez.Profile1 object. BlueZ calls
// NewConnection with the connected socket after Device1.ConnectProfile.
type clientProfile struct {
	service string

	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan int
}

func newClientProfile(service string) *clientProfile {
	return &clientProfile{service: service, waiters: make(map[dbus.ObjectPath]chan int)}
}

// expect registers interest in the next socket for dev.
func (p *clientProfile) expect(dev dbus.ObjectPath) <-chan int {
	ch := make(chan int, 1)
	p.mu.Lock()
	p.waiters[dev] = ch
	p.mu.Unlock()
	return ch
}

// forget drops the waiter for dev and closes a descriptor that raced in.
func (p *clientProfile) forget(dev dbus.ObjectPath, ch <-chan int) {
	p.mu.Lock()
	if cur, ok := p.waiters[dev]; ok && (<-chan int)(cur) == ch {
		delete(p.waiters, dev)
	}
	p.mu.Unlock()

	select {
	case fd := <-ch:
		_ = unix.Close(fd)
	default:
	}
}

func (p *clientProfile) Release() *dbus.Error { return nil }

func (p *clientProfile) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error { return nil }

func (p *clientProfile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	ch, ok := p.waiters[dev]
	if ok {
		delete(p.waiters, dev)
	}
	p.mu.Unlock()

	if !ok {
		_ = unix.Close(int(fd))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no pending connect"}}
	}
	ch <- int(fd)
	return nil
}
