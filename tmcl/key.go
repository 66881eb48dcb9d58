package tmcl

import (
	"fmt"
	"time"
)

// Scope tells whether a correlation key includes the axis
type Scope uint8

const (
	// DeviceScope requests are serialized per module and command
	DeviceScope Scope = iota
	// AxisScope requests complete on the target reached event of one axis
	AxisScope
)

// Key identifies the completion a request is waiting for
type Key struct {
	Scope   Scope
	Device  uint8
	Command uint8
	Axis    uint8 // only meaningful for AxisScope
}

func (k Key) String() string {
	if k.Scope == AxisScope {
		return fmt.Sprintf("%d/%d/axis%d", k.Device, k.Command, k.Axis)
	}
	return fmt.Sprintf("%d/%d", k.Device, k.Command)
}

// waitsForTarget reports whether a request completes on the target
// reached event rather than on its reply
func waitsForTarget(r Request) bool {
	return r.Command == CMD_MVP || (r.Command == CMD_RFS && r.Type == RFS_START)
}

// keyOf derives the correlation key of a request
func keyOf(r Request) Key {
	if waitsForTarget(r) {
		return Key{Scope: AxisScope, Device: r.Device, Command: r.Command, Axis: r.Motor}
	}
	return Key{Scope: DeviceScope, Device: r.Device, Command: r.Command}
}

// axisKey is the key of a move or reference search on one axis
func axisKey(device, command, axis uint8) Key {
	return Key{Scope: AxisScope, Device: device, Command: command, Axis: axis}
}

// replyKey is the key a reply frame is routed to
func replyKey(r Reply) Key {
	return Key{Scope: DeviceScope, Device: r.Device, Command: r.Command}
}

// timeoutFor returns the deadline of a request
func (o *Options) timeoutFor(r Request) time.Duration {
	if waitsForTarget(r) {
		return o.MotionTimeout
	}
	return o.Timeout
}
