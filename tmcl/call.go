package tmcl

import (
	"context"
	"sync/atomic"
)

// Callback receives the result of a command.
// For moves and reference search it fires when the axis is done, not on
// the command reply.
type Callback func(value int32, err error)

// Call is a pending command. It completes exactly once.
type Call struct {
	Request Request

	done     chan struct{}
	resolved atomic.Bool
	value    int32
	err      error
	callback Callback
	hook     Callback // internal completion, run by the driver under its lock
}

func newCall(req Request, cb Callback) *Call {
	return &Call{
		Request:  req,
		done:     make(chan struct{}),
		callback: cb,
	}
}

// complete stores the result. Only the first call has an effect;
// it returns false for every later one.
func (c *Call) complete(value int32, err error) bool {
	if !c.resolved.CompareAndSwap(false, true) {
		return false
	}
	c.value = value
	c.err = err
	close(c.done)
	return true
}

// Done returns a channel which is closed when the call completes
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the call completes and returns its value
func (c *Call) Result() (int32, error) {
	<-c.done
	return c.value, c.err
}

// Err blocks until the call completes and returns its error
func (c *Call) Err() error {
	<-c.done
	return c.err
}

// Wait waits for the result or for the context to end.
// Giving up on the context does not cancel the command.
func (c *Call) Wait(ctx context.Context) (int32, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
