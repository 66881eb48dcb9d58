package adapter

import (
	"github.com/sergev/tmcl/config"

	"go.bug.st/serial/enumerator"
)

// Factory opens a bus for the given device configuration.
// The port details are nil for adapters which are not serial ports,
// or when the port was named explicitly in the configuration.
type Factory func(dev config.Device, portDetails *enumerator.PortDetails) (Bus, error)

// Info contains information about an adapter type
type Info struct {
	Name      string
	VendorID  uint16
	ProductID uint16
	USB       bool // raw USB device, not a serial port
	Factory   Factory
}

var registeredAdapters []Info

// RegisterAdapter registers a serial port adapter with its VID/PID
func RegisterAdapter(name string, vendorID, productID uint16, factory Factory) {
	registeredAdapters = append(registeredAdapters, Info{
		Name:      name,
		VendorID:  vendorID,
		ProductID: productID,
		Factory:   factory,
	})
}

// RegisterUSBAdapter registers an adapter that doesn't use serial ports
func RegisterUSBAdapter(name string, vendorID, productID uint16, factory Factory) {
	registeredAdapters = append(registeredAdapters, Info{
		Name:      name,
		VendorID:  vendorID,
		ProductID: productID,
		USB:       true,
		Factory:   factory,
	})
}

// RegisterInterfaceAdapter registers an adapter addressed by a network
// interface name only, like SocketCAN
func RegisterInterfaceAdapter(name string, factory Factory) {
	registeredAdapters = append(registeredAdapters, Info{
		Name:    name,
		Factory: factory,
	})
}

// Adapters returns all registered adapters in registration order
func Adapters() []Info {
	list := make([]Info, len(registeredAdapters))
	copy(list, registeredAdapters)
	return list
}

// Lookup finds the first registered adapter with the given name
func Lookup(name string) (Info, bool) {
	for _, info := range registeredAdapters {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}
