// Package device provides the Bluetooth Classic serial-port (RFCOMM/SPP) data model
// and the contracts every radio backend implements.
//
// This package defines:
//   - Descriptor, the value type produced by discovery
//   - Adapter, the platform radio abstraction (bonded devices, inquiry, RFCOMM dial)
//   - Socket and OutputStream, the byte streams of an open serial connection
//   - the error taxonomy shared by discovery, session and plugin layers
//
// Concrete adapters live in sub-packages (bluez, serialport) and are selected
// by the devicefactory package.
package device
