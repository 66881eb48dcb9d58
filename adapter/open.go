package adapter

import (
	"fmt"
	"strconv"

	"github.com/sergev/tmcl/config"

	"go.bug.st/serial/enumerator"
)

// Open opens the bus described by the device configuration.
// When no adapter is named, the serial ports are scanned for a known
// VID/PID first, then USB-only adapters are tried.
func Open(dev config.Device) (Bus, error) {
	if dev.Adapter != "" {
		info, ok := Lookup(dev.Adapter)
		if !ok {
			return nil, fmt.Errorf("unknown adapter %q", dev.Adapter)
		}
		bus, err := info.Factory(dev, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s adapter: %w", info.Name, err)
		}
		return bus, nil
	}
	return findAdapter(dev)
}

// findAdapter attempts to find and initialize a registered adapter
// Returns the initialized bus or an error if none is found
func findAdapter(dev config.Device) (Bus, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	// Try registered serial port adapters
	for _, port := range ports {
		info, ok := matchPort(port)
		if !ok {
			continue
		}
		bus, err := info.Factory(dev, port)
		if err != nil {
			continue // Try next port
		}
		return bus, nil
	}

	// Try registered USB-only adapters (like candleLight)
	for _, info := range registeredAdapters {
		if !info.USB {
			continue
		}
		bus, err := info.Factory(dev, nil)
		if err == nil && bus != nil {
			return bus, nil
		}
	}

	return nil, ErrNotFound
}

// matchPort returns the serial adapter registered for the VID/PID of a port
func matchPort(port *enumerator.PortDetails) (Info, bool) {
	if port == nil || !port.IsUSB {
		return Info{}, false
	}
	portVID, err := strconv.ParseUint(port.VID, 16, 16)
	if err != nil {
		return Info{}, false
	}
	portPID, err := strconv.ParseUint(port.PID, 16, 16)
	if err != nil {
		return Info{}, false
	}
	for _, info := range registeredAdapters {
		if info.USB || (info.VendorID == 0 && info.ProductID == 0) {
			continue
		}
		if uint16(portVID) == info.VendorID && uint16(portPID) == info.ProductID {
			return info, true
		}
	}
	return Info{}, false
}

// PortAdapter returns the name of the registered adapter matching a serial
// port, or an empty string
func PortAdapter(port *enumerator.PortDetails) string {
	info, ok := matchPort(port)
	if !ok {
		return ""
	}
	return info.Name
}
