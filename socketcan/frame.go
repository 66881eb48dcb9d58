// Package socketcan implements the CAN bus on Linux SocketCAN interfaces,
// like can0 of a Raspberry Pi CAN hat or a candleLight adapter bound to
// the gs_usb kernel driver.
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sergev/tmcl/adapter"
)

// Flag bits of the can_id field (from linux/can.h)
const (
	CAN_EFF_FLAG = 0x80000000 // extended frame format
	CAN_RTR_FLAG = 0x40000000 // remote transmission request
	CAN_ERR_FLAG = 0x20000000 // error message frame

	CAN_SFF_MASK = 0x000007ff
	CAN_EFF_MASK = 0x1fffffff
)

// canFrameSize is sizeof(struct can_frame)
const canFrameSize = 16

var (
	ErrNotSupported = errors.New("socketcan: not supported on this platform")
	ErrShortFrame   = errors.New("socketcan: short frame")
)

// errSkip marks frames which carry no data for the driver
var errSkip = errors.New("socketcan: remote or error frame")

// canFilter is struct can_filter
type canFilter struct {
	id   uint32
	mask uint32
}

// filterFor matches data frames with exactly the given identifier
func filterFor(id uint32, extended bool) canFilter {
	if extended {
		return canFilter{id: id | CAN_EFF_FLAG, mask: CAN_EFF_FLAG | CAN_RTR_FLAG | CAN_EFF_MASK}
	}
	return canFilter{id: id, mask: CAN_EFF_FLAG | CAN_RTR_FLAG | CAN_SFF_MASK}
}

// marshalFrame encodes a frame as struct can_frame
func marshalFrame(f adapter.Frame) ([canFrameSize]byte, error) {
	var buf [canFrameSize]byte
	if err := adapter.CheckFrame(f); err != nil {
		return buf, fmt.Errorf("socketcan: %w", err)
	}
	id := f.ID
	if f.Extended {
		id |= CAN_EFF_FLAG
	}
	binary.NativeEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)
	return buf, nil
}

// unmarshalFrame decodes struct can_frame. Remote and error frames
// return errSkip.
func unmarshalFrame(buf []byte) (adapter.Frame, error) {
	if len(buf) < canFrameSize {
		return adapter.Frame{}, ErrShortFrame
	}
	id := binary.NativeEndian.Uint32(buf[0:4])
	if id&(CAN_RTR_FLAG|CAN_ERR_FLAG) != 0 {
		return adapter.Frame{}, errSkip
	}
	dlc := int(buf[4])
	if dlc > 8 {
		dlc = 8
	}

	f := adapter.Frame{Data: append([]byte(nil), buf[8:8+dlc]...)}
	if id&CAN_EFF_FLAG != 0 {
		f.Extended = true
		f.ID = id & CAN_EFF_MASK
	} else {
		f.ID = id & CAN_SFF_MASK
	}
	return f, nil
}
