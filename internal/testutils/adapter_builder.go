package testutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/srg/sppbridge/internal/device"
)

// AdapterBuilder assembles a FakeAdapter with a fluent API.
//
//	adapter := testutils.NewAdapterBuilder().
//	    WithBonded("AA:BB:CC:DD:EE:01", "HC-05").
//	    WithFound("AA:BB:CC:DD:EE:03", "").
//	    Build()
type AdapterBuilder struct {
	bonded        []device.RemoteDevice
	found         []device.RemoteDevice
	discoveryTime *time.Duration
	unavailable   bool
}

func NewAdapterBuilder() *AdapterBuilder {
	return &AdapterBuilder{}
}

// WithBonded adds a paired device. An empty name is reported as absent.
func (b *AdapterBuilder) WithBonded(address, name string) *AdapterBuilder {
	b.bonded = append(b.bonded, &FakeRemote{Addr: address, Label: name})
	return b
}

// WithBrokenBonded adds a paired device whose name cannot be read.
func (b *AdapterBuilder) WithBrokenBonded(address string) *AdapterBuilder {
	b.bonded = append(b.bonded, &FakeRemote{Addr: address, NameErr: errors.New("remote device went away")})
	return b
}

// WithFound adds a device reported during inquiry.
func (b *AdapterBuilder) WithFound(address, name string) *AdapterBuilder {
	b.found = append(b.found, &FakeRemote{Addr: address, Label: name})
	return b
}

// WithDiscoveryTime sets how long inquiry keeps running; negative never ends.
func (b *AdapterBuilder) WithDiscoveryTime(d time.Duration) *AdapterBuilder {
	b.discoveryTime = &d
	return b
}

// Unavailable makes every radio call fail with device.ErrAdapterUnavailable.
func (b *AdapterBuilder) Unavailable() *AdapterBuilder {
	b.unavailable = true
	return b
}

type adapterJSON struct {
	Bonded []device.Descriptor `json:"bonded"`
	Found  []device.Descriptor `json:"found"`
}

// FromJSON adds devices from a document of the form
// {"bonded": [{"address": "...", "name": "..."}], "found": [...]}.
// Panics on invalid JSON since it is only used to set up test data.
func (b *AdapterBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdapterBuilder {
	var doc adapterJSON
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &doc); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	for _, d := range doc.Bonded {
		b.WithBonded(d.Address, nameOf(d))
	}
	for _, d := range doc.Found {
		b.WithFound(d.Address, nameOf(d))
	}
	return b
}

func nameOf(d device.Descriptor) string {
	if d.Name == nil {
		return ""
	}
	return *d.Name
}

func (b *AdapterBuilder) Build() *FakeAdapter {
	a := NewFakeAdapter()
	a.Bonded = append(a.Bonded, b.bonded...)
	a.Found = append(a.Found, b.found...)
	a.Unavailable = b.unavailable
	if b.discoveryTime != nil {
		a.DiscoveryTime = *b.discoveryTime
	}
	return a
}
