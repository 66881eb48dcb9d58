package adapter

import (
	"errors"
	"testing"

	"github.com/sergev/tmcl/config"

	"go.bug.st/serial/enumerator"
)

func TestCheckFrame(t *testing.T) {
	tests := []struct {
		frame Frame
		ok    bool
	}{
		{Frame{ID: 1, Data: make([]byte, 7)}, true},
		{Frame{ID: 0x7ff, Data: make([]byte, 8)}, true},
		{Frame{ID: 0x800}, false},
		{Frame{ID: 0x800, Extended: true}, true},
		{Frame{ID: 0x1fffffff, Extended: true}, true},
		{Frame{ID: 0x20000000, Extended: true}, false},
		{Frame{ID: 1, Data: make([]byte, 9)}, false},
	}
	for _, tt := range tests {
		err := CheckFrame(tt.frame)
		if (err == nil) != tt.ok {
			t.Errorf("CheckFrame(%v) = %v, expected ok=%v", tt.frame, err, tt.ok)
		}
	}
	if err := CheckFrame(Frame{Data: make([]byte, 9)}); !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("CheckFrame() error = %v, expected ErrFrameTooLong", err)
	}
}

func TestFrameString(t *testing.T) {
	if s := (Frame{ID: 2, Data: []byte{1, 100}}).String(); s != "002#01 64" {
		t.Errorf("String() = %q", s)
	}
	if s := (Frame{ID: 0x12345, Extended: true}).String(); s != "00012345#" {
		t.Errorf("String() = %q", s)
	}
}

// withAdapters replaces the registry for the duration of a test
func withAdapters(t *testing.T) {
	t.Helper()
	saved := registeredAdapters
	registeredAdapters = nil
	t.Cleanup(func() { registeredAdapters = saved })
}

func TestRegistry(t *testing.T) {
	withAdapters(t)
	var opened []string
	factory := func(name string) Factory {
		return func(dev config.Device, port *enumerator.PortDetails) (Bus, error) {
			opened = append(opened, name)
			return nil, errors.New("no hardware")
		}
	}
	RegisterAdapter("serial", 0x16d0, 0x117e, factory("serial"))
	RegisterUSBAdapter("usb", 0x1d50, 0x606f, factory("usb"))
	RegisterInterfaceAdapter("iface", factory("iface"))

	if n := len(Adapters()); n != 3 {
		t.Fatalf("Adapters() returned %d entries, expected 3", n)
	}
	info, ok := Lookup("usb")
	if !ok || !info.USB || info.VendorID != 0x1d50 {
		t.Errorf("Lookup(usb) = %+v, %v", info, ok)
	}
	if _, ok := Lookup("none"); ok {
		t.Errorf("Lookup(none) succeeded")
	}

	port := &enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "16D0", PID: "117E"}
	if name := PortAdapter(port); name != "serial" {
		t.Errorf("PortAdapter() = %q, expected serial", name)
	}
	other := &enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1d50", PID: "606f"}
	if name := PortAdapter(other); name != "" {
		t.Errorf("PortAdapter() matched USB-only adapter %q", name)
	}

	// Explicitly named adapters bypass the scan
	_, err := Open(config.Device{Adapter: "iface"})
	if err == nil || len(opened) != 1 || opened[0] != "iface" {
		t.Errorf("Open(iface) = %v, opened %v", err, opened)
	}
	if _, err := Open(config.Device{Adapter: "missing"}); err == nil {
		t.Errorf("Open(missing) succeeded")
	}
}
