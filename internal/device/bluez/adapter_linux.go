//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/groutine"
)

// Adapter is a device.Adapter backed by one BlueZ adapter object.
type Adapter struct {
	conn   *dbus.Conn
	name   string
	path   dbus.ObjectPath
	logger *logrus.Logger

	devices *hashmap.Map[dbus.ObjectPath, *remoteDevice]

	mu          sync.Mutex
	handlers    map[uint64]func(device.RemoteDevice)
	nextHandler uint64
	profiles    map[string]*clientProfile
	signals     chan *dbus.Signal
	closed      bool
}

// New connects to the system bus and binds to the adapter called name
// ("hci0"). A missing or powered-off adapter yields device.ErrAdapterUnavailable.
func New(name string, logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %v", device.ErrAdapterUnavailable, err)
	}

	a := &Adapter{
		conn:     conn,
		name:     name,
		path:     adapterPath(name),
		logger:   logger,
		devices:  hashmap.New[dbus.ObjectPath, *remoteDevice](),
		handlers: make(map[uint64]func(device.RemoteDevice)),
		profiles: make(map[string]*clientProfile),
	}

	powered, err := a.adapterProp("Powered")
	if err != nil {
		_ = conn.Close()
		var de dbus.Error
		if errors.As(err, &de) && de.Name == "org.freedesktop.DBus.Error.UnknownObject" {
			return nil, fmt.Errorf("%w: no adapter %s", device.ErrAdapterUnavailable, name)
		}
		return nil, NormalizeError(err)
	}
	if on, _ := powered.Value().(bool); !on {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: adapter %s is powered off", device.ErrAdapterUnavailable, name)
	}

	if err := a.watchSignals(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.WithField("adapter", name).Debug("BlueZ adapter ready")
	return a, nil
}

func (a *Adapter) adapterObject() dbus.BusObject {
	return a.conn.Object(busName, a.path)
}

func (a *Adapter) adapterProp(prop string) (dbus.Variant, error) {
	return a.adapterObject().GetProperty(adapterIface + "." + prop)
}

func (a *Adapter) BondedDevices(ctx context.Context) ([]device.RemoteDevice, error) {
	var objs managedObjects
	call := a.conn.Object(busName, "/").CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, NormalizeError(call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode managed objects: %w", err)
	}

	paired := pairedDevices(objs, a.path)
	out := make([]device.RemoteDevice, 0, len(paired))
	for _, d := range paired {
		a.devices.Set(d.path, d)
		out = append(out, d)
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

// watchSignals subscribes to new device objects and to property changes of
// known ones; a device already cached by BlueZ only reports the latter when
// inquiry sees it again.
func (a *Adapter) watchSignals() error {
	if err := a.conn.AddMatchSignal(
		dbus.WithMatchInterface(objectManagerIface),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return fmt.Errorf("add InterfacesAdded match: %w", err)
	}
	if err := a.conn.AddMatchSignal(
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(a.path),
	); err != nil {
		return fmt.Errorf("add PropertiesChanged match: %w", err)
	}

	a.signals = make(chan *dbus.Signal, 64)
	a.conn.Signal(a.signals)
	groutine.Go(context.Background(), "bluez-signals", func(ctx context.Context) {
		for sig := range a.signals {
			a.dispatch(sig)
		}
	})
	return nil
}

func (a *Adapter) dispatch(sig *dbus.Signal) {
	switch sig.Name {
	case objectManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return
		}
		p, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceIface]
		if !ok || !belongsTo(props, a.path) {
			return
		}
		d := deviceFromProps(p, props)
		a.devices.Set(p, d)
		a.notify(d)

	case propertiesIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		if iface != deviceIface {
			return
		}
		if _, seen := changed["RSSI"]; !seen {
			return
		}
		d, ok := a.devices.Get(sig.Path)
		if !ok {
			d = a.lookup(sig.Path)
			if d == nil {
				return
			}
		}
		if name, ok := stringProp(changed, "Name"); ok {
			d = &remoteDevice{path: d.path, address: d.address, name: name}
			a.devices.Set(sig.Path, d)
		}
		a.notify(d)
	}
}

// lookup reads a device object that was not seen before.
func (a *Adapter) lookup(p dbus.ObjectPath) *remoteDevice {
	var props map[string]dbus.Variant
	if err := a.conn.Object(busName, p).Call(propertiesIface+".GetAll", 0, deviceIface).Store(&props); err != nil {
		a.logger.WithError(err).WithField("path", p).Debug("Failed to read device properties")
		return nil
	}
	d := deviceFromProps(p, props)
	a.devices.Set(p, d)
	return d
}

func (a *Adapter) notify(d *remoteDevice) {
	a.mu.Lock()
	hs := make([]func(device.RemoteDevice), 0, len(a.handlers))
	for _, h := range a.handlers {
		hs = append(hs, h)
	}
	a.mu.Unlock()

	for _, h := range hs {
		h(d)
	}
}

// StartDiscovery starts a BR/EDR inquiry.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	filter := map[string]interface{}{"Transport": "bredr"}
	if err := a.adapterObject().CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		a.logger.WithError(err).Debug("SetDiscoveryFilter failed, continuing unfiltered")
	}
	if err := a.adapterObject().CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		return NormalizeError(err)
	}
	return nil
}

// CancelDiscovery stops inquiry; stopping when none runs is not an error.
func (a *Adapter) CancelDiscovery() error {
	if !a.IsDiscovering() {
		return nil
	}
	if err := a.adapterObject().Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
		var de dbus.Error
		if errors.As(err, &de) && de.Name == "org.bluez.Error.Failed" && !a.IsDiscovering() {
			return nil
		}
		return NormalizeError(err)
	}
	return nil
}

func (a *Adapter) IsDiscovering() bool {
	v, err := a.adapterProp("Discovering")
	if err != nil {
		return false
	}
	on, _ := v.Value().(bool)
	return on
}

// Dial connects the service profile of address and returns the RFCOMM socket
// BlueZ hands over.
func (a *Adapter) Dial(ctx context.Context, address string, opts device.DialOptions) (device.Socket, error) {
	addr, err := device.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	service := opts.Service.String()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	profile, err := a.profile(service)
	if err != nil {
		return nil, err
	}

	devPath := devicePath(a.path, addr)
	if _, known := a.devices.Get(devPath); !known && a.lookup(devPath) == nil {
		return nil, fmt.Errorf("%w: %s is not known to %s, scan or pair it first", device.ErrInvalidAddress, addr, a.name)
	}

	fdCh := profile.expect(devPath)
	log := a.logger.WithFields(logrus.Fields{"address": addr, "service": service})
	log.Debug("ConnectProfile")

	start := time.Now()
	call := a.conn.Object(busName, devPath).CallWithContext(ctx, deviceIface+".ConnectProfile", 0, service)
	if call.Err != nil {
		profile.forget(devPath, fdCh)
		return nil, NormalizeError(call.Err)
	}

	select {
	case fd := <-fdCh:
		log.WithField("elapsed", time.Since(start)).Debug("RFCOMM socket received")
		sock, err := newFDSocket(fd, "rfcomm:"+addr)
		if err != nil {
			return nil, err
		}
		return sock, nil
	case <-ctx.Done():
		profile.forget(devPath, fdCh)
		_ = a.conn.Object(busName, devPath).Call(deviceIface+".DisconnectProfile", 0, service).Err
		return nil, fmt.Errorf("waiting for RFCOMM socket: %w", ctx.Err())
	}
}

// profile exports and registers the client profile for service once.
func (a *Adapter) profile(service string) (*clientProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, device.ErrAdapterUnavailable
	}
	if p, ok := a.profiles[service]; ok {
		return p, nil
	}

	p := newClientProfile(service)
	path := profilePath(service)
	if err := a.conn.Export(p, path, profileIface); err != nil {
		return nil, fmt.Errorf("export profile: %w", err)
	}
	opts := map[string]dbus.Variant{
		"Role":        dbus.MakeVariant("client"),
		"Name":        dbus.MakeVariant("sppbridge"),
		"AutoConnect": dbus.MakeVariant(false),
	}
	call := a.conn.Object(busName, profileManagerPath).Call(profileManagerIface+".RegisterProfile", 0, path, service, opts)
	if call.Err != nil {
		_ = a.conn.Export(nil, path, profileIface)
		return nil, fmt.Errorf("register profile %s: %w", service, NormalizeError(call.Err))
	}
	a.profiles[service] = p
	return p, nil
}

// Close unregisters profiles, drops signal matches and closes the bus connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	profiles := a.profiles
	a.profiles = map[string]*clientProfile{}
	a.handlers = map[uint64]func(device.RemoteDevice){}
	a.mu.Unlock()

	pm := a.conn.Object(busName, profileManagerPath)
	for service := range profiles {
		path := profilePath(service)
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, path).Err
		_ = a.conn.Export(nil, path, profileIface)
	}
	if a.signals != nil {
		a.conn.RemoveSignal(a.signals)
		close(a.signals)
	}
	return a.conn.Close()
}
