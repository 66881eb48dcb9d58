package tmcl

import "fmt"

// Commands of TMCL direct mode, see the TMCM-3212 TMCL firmware manual.
// Each accepts an optional callback. Without it the returned Call
// delivers the result; with it the callback does and nil is returned.

// axis builds a request for one motor, rejecting motor numbers the
// module doesn't have
func (d *Driver) axis(command, typ, motor uint8, value int32, cbs []Callback) *Call {
	req := Request{Device: d.device, Command: command, Type: typ, Motor: motor, Value: value}
	if motor >= NumMotors {
		return d.fail(req, fmt.Errorf("%w: %d", ErrInvalidMotor, motor), cbs)
	}
	return d.do(req, cbs)
}

// RotateRight starts the motor turning right at the given velocity
func (d *Driver) RotateRight(motor uint8, velocity int32, cb ...Callback) *Call {
	return d.axis(CMD_ROR, 0, motor, velocity, cb)
}

// RotateLeft starts the motor turning left at the given velocity
func (d *Driver) RotateLeft(motor uint8, velocity int32, cb ...Callback) *Call {
	return d.axis(CMD_ROL, 0, motor, velocity, cb)
}

// Stop stops the motor
func (d *Driver) Stop(motor uint8, cb ...Callback) *Call {
	return d.axis(CMD_MST, 0, motor, 0, cb)
}

// MoveTo moves the motor to an absolute position.
// Completes when the module reports the target position reached.
func (d *Driver) MoveTo(motor uint8, position int32, cb ...Callback) *Call {
	return d.axis(CMD_MVP, MVP_ABS, motor, position, cb)
}

// MoveBy moves the motor by an offset from its current target.
// Completes when the module reports the target position reached.
func (d *Driver) MoveBy(motor uint8, offset int32, cb ...Callback) *Call {
	return d.axis(CMD_MVP, MVP_REL, motor, offset, cb)
}

// SetAxisParameter writes a parameter of one axis, like maximum speed
// or current. Requests for the same module are serialized.
func (d *Driver) SetAxisParameter(motor, param uint8, value int32, cb ...Callback) *Call {
	return d.axis(CMD_SAP, param, motor, value, cb)
}

// GetAxisParameter reads a parameter of one axis; the value comes
// with the result.
func (d *Driver) GetAxisParameter(motor, param uint8, cb ...Callback) *Call {
	return d.axis(CMD_GAP, param, motor, 0, cb)
}

// StoreAxisParameter saves the current value of a parameter in EEPROM
func (d *Driver) StoreAxisParameter(motor, param uint8, cb ...Callback) *Call {
	return d.axis(CMD_STAP, param, motor, 0, cb)
}

// SetGlobalParameter writes a global parameter in bank 0,
// the only bank needed in direct mode
func (d *Driver) SetGlobalParameter(param uint8, value int32, cb ...Callback) *Call {
	return d.do(Request{Device: d.device, Command: CMD_SGP, Type: param, Value: value}, cb)
}

// GetGlobalParameter reads a global parameter from bank 0
func (d *Driver) GetGlobalParameter(param uint8, cb ...Callback) *Call {
	return d.do(Request{Device: d.device, Command: CMD_GGP, Type: param}, cb)
}

// ReferenceSearch homes the motor.
// Completes only when the search has finished entirely.
func (d *Driver) ReferenceSearch(motor uint8, cb ...Callback) *Call {
	return d.axis(CMD_RFS, RFS_START, motor, 0, cb)
}

// StopReferenceSearch aborts a reference search
func (d *Driver) StopReferenceSearch(motor uint8, cb ...Callback) *Call {
	return d.axis(CMD_RFS, RFS_STOP, motor, 0, cb)
}

// ReferenceSearchStatus returns zero when no reference search is active
func (d *Driver) ReferenceSearchStatus(motor uint8, cb ...Callback) *Call {
	return d.axis(CMD_RFS, RFS_STATUS, motor, 0, cb)
}

// SetIO sets an output of a bank (bank 2: digital outputs).
// Port AllPorts sets all outputs of the bank at once from a bit vector.
func (d *Driver) SetIO(port, bank uint8, level int32, cb ...Callback) *Call {
	return d.do(Request{Device: d.device, Command: CMD_SIO, Type: port, Motor: bank, Value: level}, cb)
}

// GetIO reads a port of a bank:
// bank 0: digital inputs
// bank 1: analog inputs (0..65535)
// bank 2: digital outputs
// Port AllPorts on a digital bank returns a bit vector of all ports.
// The ENABLE input is port 10 of bank 0.
func (d *Driver) GetIO(port, bank uint8, cb ...Callback) *Call {
	return d.do(Request{Device: d.device, Command: CMD_GIO, Type: port, Motor: bank}, cb)
}
