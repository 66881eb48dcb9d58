// Package tmcl drives Trinamic motor modules (TMCM-3212 and similar)
// speaking TMCL in direct mode over a CAN bus.
package tmcl

import (
	"encoding/binary"
	"fmt"
)

// FrameSize is the data length of TMCL request and reply frames on CAN
const FrameSize = 7

// Command codes
const (
	CMD_ROR  = 1   // rotate right
	CMD_ROL  = 2   // rotate left
	CMD_MST  = 3   // motor stop
	CMD_MVP  = 4   // move to position
	CMD_SAP  = 5   // set axis parameter
	CMD_GAP  = 6   // get axis parameter
	CMD_STAP = 7   // store axis parameter
	CMD_SGP  = 9   // set global parameter
	CMD_GGP  = 10  // get global parameter
	CMD_RFS  = 13  // reference search
	CMD_SIO  = 14  // set output
	CMD_GIO  = 15  // get input
	CMD_TPRE = 138 // request target position reached event
)

// MVP types
const (
	MVP_ABS = 0
	MVP_REL = 1
)

// RFS types
const (
	RFS_START  = 0
	RFS_STOP   = 1
	RFS_STATUS = 2
)

// Reply status codes
const (
	STATUS_CHECKSUM      = 1
	STATUS_INVALID_CMD   = 2
	STATUS_WRONG_TYPE    = 3
	STATUS_INVALID_VALUE = 4
	STATUS_EEPROM_LOCKED = 5
	STATUS_NOT_AVAILABLE = 6
	STATUS_OK            = 100
	STATUS_LOADED        = 101
	STATUS_EVENT         = 128
)

// NumMotors is the number of axes addressable on one module
const NumMotors = 3

// AllPorts selects every port of a GPIO bank at once
const AllPorts = 255

// Request is one TMCL command in direct mode
type Request struct {
	Device  uint8 // module address, also the CAN id it listens on
	Command uint8
	Type    uint8
	Motor   uint8 // motor or bank number
	Value   int32
}

func (r Request) String() string {
	return fmt.Sprintf("cmd %d type %d motor %d value %d", r.Command, r.Type, r.Motor, r.Value)
}

// Reply is a decoded reply frame
type Reply struct {
	Device  uint8
	Status  uint8
	Command uint8
	Value   int32
}

// IsTargetReached reports whether the reply is the target position reached event
func (r Reply) IsTargetReached() bool {
	return r.Status == STATUS_EVENT && r.Command == CMD_TPRE
}

// MotorMask returns the bitmask of axes carried by a target position reached event
func (r Reply) MotorMask() uint8 {
	return uint8(r.Value)
}

// Encode builds the CAN payload of a request:
// byte 0: command
// byte 1: type
// byte 2: motor/bank
// bytes 3-6: value (int32, big-endian)
func Encode(r Request) [FrameSize]byte {
	var data [FrameSize]byte
	data[0] = r.Command
	data[1] = r.Type
	data[2] = r.Motor
	binary.BigEndian.PutUint32(data[3:7], uint32(r.Value))
	return data
}

// Decode parses a reply payload:
// byte 0: module address
// byte 1: status
// byte 2: command
// bytes 3-6: value (int32, big-endian)
// Returns false when the payload is not a TMCL reply.
func Decode(data []byte) (Reply, bool) {
	if len(data) != FrameSize {
		return Reply{}, false
	}
	return Reply{
		Device:  data[0],
		Status:  data[1],
		Command: data[2],
		Value:   int32(binary.BigEndian.Uint32(data[3:7])),
	}, true
}
