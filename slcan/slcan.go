// Package slcan talks to serial-line CAN adapters speaking the LAWICEL
// ASCII protocol, like CANable and USBtin.
package slcan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sergev/tmcl/adapter"
	"github.com/sergev/tmcl/config"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	CANableVendorID  = 0x16d0 // MCS Electronics
	CANableProductID = 0x117e // CANable slcan firmware
	USBtinVendorID   = 0x04d8 // Microchip
	USBtinProductID  = 0x000a // USBtin
)

// Protocol bytes
const (
	CR  = '\r'
	BEL = '\a' // error response
)

// readTimeout bounds how long ReadFrame takes to notice Close
const readTimeout = 100 * time.Millisecond

var (
	ErrBitrate  = errors.New("slcan: unsupported bitrate")
	ErrResponse = errors.New("slcan: adapter rejected command")
	ErrSyntax   = errors.New("slcan: malformed frame")
)

// errSkip marks lines which carry no data frame
var errSkip = errors.New("slcan: not a data frame")

// Bus is an slcan adapter on a serial port
type Bus struct {
	port serial.Port
	name string
	line []byte // partial line received, owned by the reader

	wmu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func init() {
	adapter.RegisterAdapter("slcan", CANableVendorID, CANableProductID, newBus)
	adapter.RegisterAdapter("slcan", USBtinVendorID, USBtinProductID, newBus)
}

func newBus(dev config.Device, portDetails *enumerator.PortDetails) (adapter.Bus, error) {
	name := dev.Port
	if name == "" && portDetails != nil {
		name = portDetails.Name
	}
	if name == "" {
		return nil, errors.New("slcan: no serial port given")
	}
	bus, err := Open(name, dev.Bitrate)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// bitrateCode returns the S command argument for a bitrate
func bitrateCode(bitrate int) (byte, error) {
	switch bitrate {
	case 10000:
		return '0', nil
	case 20000:
		return '1', nil
	case 50000:
		return '2', nil
	case 100000:
		return '3', nil
	case 125000:
		return '4', nil
	case 250000:
		return '5', nil
	case 500000:
		return '6', nil
	case 800000:
		return '7', nil
	case 0, 1000000:
		return '8', nil
	}
	return 0, fmt.Errorf("%w: %d", ErrBitrate, bitrate)
}

// Open opens the serial port, sets the bitrate and opens the CAN channel
func Open(portName string, bitrate int) (*Bus, error) {
	code, err := bitrateCode(bitrate)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	b := &Bus{port: port, name: portName}

	// The channel may still be open from an earlier session
	b.command([]byte{'C', CR})
	port.ResetInputBuffer()

	if err := b.command([]byte{'S', code, CR}); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}
	if err := b.command([]byte{'O', CR}); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to open CAN channel: %w", err)
	}
	return b, nil
}

// command sends a setup command and waits for its CR or BEL response.
// Only used before any frame is received.
func (b *Bus) command(cmd []byte) error {
	if _, err := b.port.Write(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	deadline := time.Now().Add(time.Second)
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		n, err := b.port.Read(buf)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if n == 0 {
			continue
		}
		switch buf[0] {
		case CR:
			return nil
		case BEL:
			return ErrResponse
		}
	}
	return fmt.Errorf("%w: no response to %q", ErrResponse, cmd[0])
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// WriteFrame transmits one frame
func (b *Bus) WriteFrame(f adapter.Frame) error {
	line, err := encodeFrame(f)
	if err != nil {
		return err
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()
	if b.isClosed() {
		return adapter.ErrClosed
	}
	if _, err := b.port.Write(line); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame returns the next data frame received by the adapter.
// Transmit confirmations and error responses are skipped.
func (b *Bus) ReadFrame() (adapter.Frame, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexAny(b.line, "\r\a"); i >= 0 {
			line := b.line[:i]
			f, err := parseFrame(line)
			if errors.Is(err, ErrSyntax) {
				// Line noise on the serial link, not fatal for the bus
				slog.Warn("dropped malformed line", "port", b.name, "line", string(line))
			}
			b.line = append(b.line[:0], b.line[i+1:]...)
			if err != nil {
				continue
			}
			return f, nil
		}

		if b.isClosed() {
			return adapter.Frame{}, adapter.ErrClosed
		}
		n, err := b.port.Read(buf)
		if err != nil {
			if b.isClosed() || errors.Is(err, io.EOF) {
				return adapter.Frame{}, adapter.ErrClosed
			}
			return adapter.Frame{}, fmt.Errorf("failed to read from %s: %w", b.name, err)
		}
		b.line = append(b.line, buf[:n]...)
	}
}

// Close closes the CAN channel and the serial port
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wmu.Lock()
	defer b.wmu.Unlock()
	b.port.Write([]byte{'C', CR})
	return b.port.Close()
}

// encodeFrame formats a data frame as tiiiLdd..\r or TiiiiiiiiLdd..\r
func encodeFrame(f adapter.Frame) ([]byte, error) {
	if err := adapter.CheckFrame(f); err != nil {
		return nil, fmt.Errorf("slcan: %w", err)
	}
	var line []byte
	if f.Extended {
		line = fmt.Appendf(nil, "T%08X%d", f.ID, len(f.Data))
	} else {
		line = fmt.Appendf(nil, "t%03X%d", f.ID, len(f.Data))
	}
	for _, b := range f.Data {
		line = fmt.Appendf(line, "%02X", b)
	}
	return append(line, CR), nil
}

// parseFrame decodes one received line without its terminator.
// Remote frames, confirmations (z, Z) and empty lines return errSkip.
func parseFrame(line []byte) (adapter.Frame, error) {
	if len(line) == 0 {
		return adapter.Frame{}, errSkip
	}

	var idLen int
	var f adapter.Frame
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		f.Extended = true
	default:
		return adapter.Frame{}, errSkip
	}
	if len(line) < 1+idLen+1 {
		return adapter.Frame{}, fmt.Errorf("%w: %q", ErrSyntax, line)
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return adapter.Frame{}, fmt.Errorf("%w: %q", ErrSyntax, line)
	}
	f.ID = uint32(id)

	dlc := int(line[1+idLen] - '0')
	data := line[2+idLen:]
	if dlc < 0 || dlc > 8 || len(data) < 2*dlc {
		return adapter.Frame{}, fmt.Errorf("%w: %q", ErrSyntax, line)
	}
	f.Data = make([]byte, dlc)
	for i := range f.Data {
		v, err := strconv.ParseUint(string(data[2*i:2*i+2]), 16, 8)
		if err != nil {
			return adapter.Frame{}, fmt.Errorf("%w: %q", ErrSyntax, line)
		}
		f.Data[i] = byte(v)
	}
	if err := adapter.CheckFrame(f); err != nil {
		return adapter.Frame{}, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	return f, nil
}
