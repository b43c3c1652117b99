// Package bluez implements device.Adapter on top of the BlueZ D-Bus API.
// RFCOMM sockets are obtained by registering a client Profile1 for the
// requested service and asking the device to connect it; BlueZ hands the
// connected socket back as a file descriptor.
package bluez

import (
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName = "org.bluez"

	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	objectManagerIface  = "org.freedesktop.DBus.ObjectManager"
	propertiesIface     = "org.freedesktop.DBus.Properties"

	profileManagerPath = dbus.ObjectPath("/org/bluez")
	profileBasePath    = "/org/sppbridge/profile"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// adapterPath returns the object path of a local adapter such as "hci0".
func adapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

// devicePath returns the object path BlueZ uses for address under adapter.
func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

// addressFromPath recovers the address from a device object path.
func addressFromPath(p dbus.ObjectPath) (string, bool) {
	s := string(p)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return "", false
	}
	addr := strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
	if len(addr) != 17 {
		return "", false
	}
	return addr, true
}

// remoteDevice is a snapshot of a Device1 object.
type remoteDevice struct {
	path    dbus.ObjectPath
	address string
	name    string
}

func (d *remoteDevice) Address() (string, error) {
	if d.address == "" {
		return "", fmt.Errorf("device %s has no address", d.path)
	}
	return d.address, nil
}

func (d *remoteDevice) Name() (string, error) { return d.name, nil }

// deviceFromProps builds a remoteDevice from Device1 properties.
// Alias is used when Name is absent; BlueZ derives Alias from the address
// in that case, so it is ignored when it only repeats the address.
func deviceFromProps(p dbus.ObjectPath, props map[string]dbus.Variant) *remoteDevice {
	d := &remoteDevice{path: p}
	if v, ok := stringProp(props, "Address"); ok {
		d.address = v
	} else if a, ok := addressFromPath(p); ok {
		d.address = a
	}
	if v, ok := stringProp(props, "Name"); ok {
		d.name = v
	} else if v, ok := stringProp(props, "Alias"); ok && !sameAsAddress(v, d.address) {
		d.name = v
	}
	return d
}

func sameAsAddress(alias, address string) bool {
	return strings.EqualFold(strings.ReplaceAll(alias, "-", ":"), address)
}

func stringProp(props map[string]dbus.Variant, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok && s != ""
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

func belongsTo(props map[string]dbus.Variant, adapter dbus.ObjectPath) bool {
	v, ok := props["Adapter"]
	if !ok {
		return false
	}
	p, _ := v.Value().(dbus.ObjectPath)
	return p == adapter
}

// pairedDevices extracts the bonded devices of adapter from a
// GetManagedObjects reply, ordered by object path.
func pairedDevices(objs managedObjects, adapter dbus.ObjectPath) []*remoteDevice {
	var out []*remoteDevice
	for p, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !belongsTo(props, adapter) || !boolProp(props, "Paired") {
			continue
		}
		out = append(out, deviceFromProps(p, props))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// profilePath is where the client profile for service is exported.
func profilePath(service string) dbus.ObjectPath {
	return dbus.ObjectPath(profileBasePath + "/p" + strings.ReplaceAll(strings.ToLower(service), "-", ""))
}
