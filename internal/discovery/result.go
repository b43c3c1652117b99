package discovery

import (
	"encoding/json"
	"sync"

	"github.com/srg/sppbridge/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Result is the ordered, address-deduplicated outcome of a scan.
// Bonded devices come first, then devices in the order inquiry reported them.
type Result struct {
	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[string, device.Descriptor]
}

func newResult() *Result {
	return &Result{devices: orderedmap.New[string, device.Descriptor]()}
}

// add inserts d unless its address is already present and reports whether it did.
func (r *Result) add(d device.Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices.Get(d.Address); exists {
		return false
	}
	r.devices.Set(d.Address, d)
	return true
}

func (r *Result) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Len()
}

// Get looks a device up by normalized address.
func (r *Result) Get(address string) (device.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Get(address)
}

// Descriptors returns the devices in result order.
func (r *Result) Descriptors() []device.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]device.Descriptor, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// MarshalJSON renders {"devices": [{"address": ..., "name": ...}]}.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Devices []device.Descriptor `json:"devices"`
	}{Devices: r.Descriptors()})
}
