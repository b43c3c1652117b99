package device

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// UnknownName is shown for devices that did not report a name.
const UnknownName = "Unknown"

// Descriptor identifies a remote serial device. It is a value type and never mutated.
type Descriptor struct {
	Address string  `json:"address"`
	Name    *string `json:"name"`
}

// NewDescriptor builds a Descriptor; an empty name is stored as absent.
func NewDescriptor(address, name string) Descriptor {
	d := Descriptor{Address: address}
	if name != "" {
		d.Name = &name
	}
	return d
}

// DisplayName returns the device name, or UnknownName when absent.
func (d Descriptor) DisplayName() string {
	if d.Name == nil || *d.Name == "" {
		return UnknownName
	}
	return *d.Name
}

// RemoteDevice is a device handle reported by an adapter. Reading either field may
// fail independently (stale object, revoked permission); callers treat such failures
// as per-item, not global.
type RemoteDevice interface {
	Address() (string, error)
	Name() (string, error)
}

// Subscription is a live device-found registration. Close is idempotent.
type Subscription interface {
	Close() error
}

// OutputStream is the writable half of a serial socket.
type OutputStream interface {
	io.WriteCloser
	Flush() error
}

// Socket is an open RFCOMM stream. Input, Output and the socket itself are closed
// independently; closing Input unblocks a pending Read.
type Socket interface {
	Input() io.ReadCloser
	Output() OutputStream
	Close() error
}

// DialOptions tunes Adapter.Dial.
type DialOptions struct {
	Service uuid.UUID
	Timeout time.Duration
}

// Adapter is the local Bluetooth radio.
type Adapter interface {
	// BondedDevices returns a synchronous snapshot of paired devices.
	BondedDevices(ctx context.Context) ([]RemoteDevice, error)

	// Subscribe registers handler for devices found during inquiry.
	// The handler may be called from any goroutine until the subscription is closed.
	Subscribe(handler func(RemoteDevice)) (Subscription, error)

	StartDiscovery(ctx context.Context) error
	CancelDiscovery() error
	IsDiscovering() bool

	// Dial resolves address and opens a stream socket against the service record.
	Dial(ctx context.Context, address string, opts DialOptions) (Socket, error)

	Close() error
}

// ReadDescriptor reads both fields of a RemoteDevice into a Descriptor.
// The address is normalized; a failing name read is reported as an error too.
func ReadDescriptor(rd RemoteDevice) (Descriptor, error) {
	addr, err := rd.Address()
	if err != nil {
		return Descriptor{}, err
	}
	addr, err = NormalizeAddress(addr)
	if err != nil {
		return Descriptor{}, err
	}
	name, err := rd.Name()
	if err != nil {
		return Descriptor{}, err
	}
	return NewDescriptor(addr, name), nil
}
