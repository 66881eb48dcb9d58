package tmcl

import (
	"errors"
	"fmt"
)

// Errors reported by the module in the reply status byte
var (
	ErrChecksum           = errors.New("wrong checksum")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrWrongType          = errors.New("wrong type")
	ErrInvalidValue       = errors.New("invalid value")
	ErrEEPROMLocked       = errors.New("configuration EEPROM locked")
	ErrCommandUnavailable = errors.New("command not available")
	ErrNotDirectMode      = errors.New("command loaded into EEPROM, only direct mode is supported")
	ErrUnknownStatus      = errors.New("unknown TMCL status code")
)

// Errors raised by the driver itself
var (
	ErrTransmit       = errors.New("transmit failed")
	ErrTimeout        = errors.New("timeout")
	ErrReferenceCheck = errors.New("reference search status check failed")
	ErrClosed         = errors.New("driver closed")
	ErrBusFailed      = errors.New("bus failed")
	ErrInvalidMotor   = errors.New("invalid motor number")
)

// StatusError is a non-OK status returned by the module
type StatusError struct {
	Device  uint8
	Command uint8
	Status  uint8
}

func (e *StatusError) Error() string {
	if e.Unwrap() == ErrUnknownStatus {
		return fmt.Sprintf("TMCL error: %s %d (command %d)", ErrUnknownStatus, e.Status, e.Command)
	}
	return fmt.Sprintf("TMCL error: %s (command %d)", e.Unwrap(), e.Command)
}

// Unwrap returns the sentinel error for the status code
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case STATUS_CHECKSUM:
		return ErrChecksum
	case STATUS_INVALID_CMD:
		return ErrInvalidCommand
	case STATUS_WRONG_TYPE:
		return ErrWrongType
	case STATUS_INVALID_VALUE:
		return ErrInvalidValue
	case STATUS_EEPROM_LOCKED:
		return ErrEEPROMLocked
	case STATUS_NOT_AVAILABLE:
		return ErrCommandUnavailable
	case STATUS_LOADED:
		return ErrNotDirectMode
	}
	return ErrUnknownStatus
}

// statusError converts a reply status to an error, nil for OK
func statusError(r Reply) error {
	if r.Status == STATUS_OK {
		return nil
	}
	return &StatusError{Device: r.Device, Command: r.Command, Status: r.Status}
}

// TimeoutError is returned when no completion arrived before the deadline
type TimeoutError struct {
	Command uint8
	Type    uint8
	Motor   uint8
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout %d/%d/%d", e.Type, e.Command, e.Motor)
}

// Is makes errors.Is(err, ErrTimeout) match
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
