//go:build !linux

package socketcan

import (
	"github.com/sergev/tmcl/adapter"
	"github.com/sergev/tmcl/config"

	"go.bug.st/serial/enumerator"
)

// Bus is not available outside Linux
type Bus struct{}

func init() {
	adapter.RegisterInterfaceAdapter("socketcan", func(dev config.Device, _ *enumerator.PortDetails) (adapter.Bus, error) {
		return nil, ErrNotSupported
	})
}

// Open always fails with ErrNotSupported
func Open(iface string) (*Bus, error) {
	return nil, ErrNotSupported
}

func (b *Bus) WriteFrame(f adapter.Frame) error  { return ErrNotSupported }
func (b *Bus) ReadFrame() (adapter.Frame, error) { return adapter.Frame{}, ErrNotSupported }
func (b *Bus) Close() error                      { return nil }
