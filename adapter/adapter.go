package adapter

import (
	"errors"
	"fmt"
)

// Frame is a single CAN frame as seen by the driver
type Frame struct {
	ID       uint32 // 11-bit or 29-bit identifier, without flag bits
	Extended bool   // true for 29-bit identifiers
	Data     []byte // 0..8 payload bytes
}

// IDLength returns the identifier length in bits (11 or 29)
func (f Frame) IDLength() int {
	if f.Extended {
		return 29
	}
	return 11
}

func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#% X", f.ID, f.Data)
	}
	return fmt.Sprintf("%03X#% X", f.ID, f.Data)
}

// Bus is the transport used by the TMCL driver.
// ReadFrame blocks until a frame arrives; after Close it returns ErrClosed.
// WriteFrame and ReadFrame may be called from different goroutines.
type Bus interface {
	WriteFrame(frame Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

var (
	ErrClosed       = errors.New("bus closed")
	ErrFrameTooLong = errors.New("frame data longer than 8 bytes")
	ErrNotFound     = errors.New("no supported CAN adapter found")
)

// CheckFrame validates the payload length and identifier range of a frame
func CheckFrame(f Frame) error {
	if len(f.Data) > 8 {
		return ErrFrameTooLong
	}
	if !f.Extended && f.ID > 0x7ff {
		return fmt.Errorf("standard identifier 0x%x out of range", f.ID)
	}
	if f.ID > 0x1fffffff {
		return fmt.Errorf("extended identifier 0x%x out of range", f.ID)
	}
	return nil
}
