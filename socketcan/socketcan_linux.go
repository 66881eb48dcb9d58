//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sergev/tmcl/adapter"
	"github.com/sergev/tmcl/config"

	"go.bug.st/serial/enumerator"
	"golang.org/x/sys/unix"
)

// pollInterval bounds how long ReadFrame takes to notice Close
const pollInterval = 100 * time.Millisecond

// Bus is a raw CAN socket bound to one interface
type Bus struct {
	fd    int
	iface string

	rmu    sync.Mutex // held by the reader while it uses fd
	wmu    sync.Mutex
	mu     sync.Mutex
	closed bool
}

func init() {
	adapter.RegisterInterfaceAdapter("socketcan", func(dev config.Device, _ *enumerator.PortDetails) (adapter.Bus, error) {
		iface := dev.Port
		if iface == "" {
			iface = "can0"
		}
		replyID := uint32(dev.ReplyID)
		if replyID == 0 {
			replyID = 2
		}
		bus, err := Open(iface)
		if err != nil {
			return nil, err
		}
		if err := bus.SetFilter(replyID, dev.Extended); err != nil {
			bus.Close()
			return nil, err
		}
		return bus, nil
	})
}

// Open binds a raw CAN socket to the interface. The bitrate is set
// on the interface itself, with `ip link set can0 type can bitrate ...`.
func Open(iface string) (*Bus, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: interface %s: %w", iface, err)
	}
	if ifi.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("socketcan: interface %s is down", iface)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: failed to create socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: failed to bind to %s: %w", iface, err)
	}
	return &Bus{fd: fd, iface: iface}, nil
}

// SetFilter makes the kernel deliver only data frames with the given id
func (b *Bus) SetFilter(id uint32, extended bool) error {
	filter := filterFor(id, extended)
	err := unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, []unix.CanFilter{
		{Id: filter.id, Mask: filter.mask},
	})
	if err != nil {
		return fmt.Errorf("socketcan: failed to set filter: %w", err)
	}
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// WriteFrame transmits one frame
func (b *Bus) WriteFrame(f adapter.Frame) error {
	buf, err := marshalFrame(f)
	if err != nil {
		return err
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()
	if b.isClosed() {
		return adapter.ErrClosed
	}
	n, err := unix.Write(b.fd, buf[:])
	if err != nil {
		return fmt.Errorf("socketcan: write failed: %w", err)
	}
	if n != canFrameSize {
		return fmt.Errorf("socketcan: short write (%d bytes)", n)
	}
	return nil
}

// ReadFrame waits for the next data frame on the interface
func (b *Bus) ReadFrame() (adapter.Frame, error) {
	buf := make([]byte, canFrameSize)
	for {
		f, ok, err := b.readOnce(buf)
		if ok || err != nil {
			return f, err
		}
	}
}

// readOnce waits up to pollInterval for one frame.
// Close leaves the socket open while rmu is held.
func (b *Bus) readOnce(buf []byte) (adapter.Frame, bool, error) {
	b.rmu.Lock()
	defer b.rmu.Unlock()
	if b.isClosed() {
		return adapter.Frame{}, false, adapter.ErrClosed
	}

	pfd := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(pollInterval.Milliseconds()))
	if errors.Is(err, unix.EINTR) || n == 0 {
		return adapter.Frame{}, false, nil
	}
	if err != nil {
		return adapter.Frame{}, false, fmt.Errorf("socketcan: poll error: %w", err)
	}

	n, err = unix.Read(b.fd, buf)
	if err != nil {
		return adapter.Frame{}, false, fmt.Errorf("socketcan: read failed: %w", err)
	}
	f, err := unmarshalFrame(buf[:n])
	if errors.Is(err, errSkip) {
		return adapter.Frame{}, false, nil
	}
	return f, true, err
}

// Close closes the socket. It waits for a blocked ReadFrame to give up,
// at most pollInterval.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.rmu.Lock()
	defer b.rmu.Unlock()
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return unix.Close(b.fd)
}
