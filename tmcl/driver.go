package tmcl

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sergev/tmcl/adapter"
)

// Default timeouts
const (
	DefaultTimeout       = 5 * time.Second
	DefaultMotionTimeout = 300 * time.Second
)

// DefaultReplyID is the CAN id the module replies to unless configured otherwise
const DefaultReplyID = 2

// Options configures a Driver
type Options struct {
	ReplyID       uint32        // CAN id of replies from the module
	Extended      bool          // use 29-bit identifiers
	Timeout       time.Duration // deadline of ordinary commands
	MotionTimeout time.Duration // deadline of moves and reference search
	Logger        *slog.Logger

	// OnError receives failures which have no caller to report to,
	// like a failed transmit of the event setup command.
	OnError func(err error)
}

// DefaultOptions returns the options of a TMCM module at factory settings
func DefaultOptions() Options {
	return Options{
		ReplyID:       DefaultReplyID,
		Timeout:       DefaultTimeout,
		MotionTimeout: DefaultMotionTimeout,
	}
}

// entry is the one request in flight for a key
type entry struct {
	key      Key
	req      Request
	call     *Call
	timer    *time.Timer
	checking bool // reference search status read outstanding
	recheck  bool // target reached again while checking
}

type pending struct {
	req  Request
	call *Call
}

// outgoing is a frame waiting for the writer; entry is nil for
// fire-and-forget frames
type outgoing struct {
	frame adapter.Frame
	entry *entry
}

// Driver talks to one TMCL module on a CAN bus.
// All methods are safe for concurrent use.
type Driver struct {
	bus    adapter.Bus
	device uint8
	opts   Options
	log    *slog.Logger

	mu       sync.Mutex
	inflight map[Key]*entry
	queues   map[Key][]pending
	awaiting map[Key][]*entry // transmitted requests waiting for their reply, by reply key
	closed   bool

	outbox    *fifo[outgoing]
	callbacks *fifo[func()]
	wg        sync.WaitGroup
}

// NewDriver starts a driver for the module with the given address.
// It asks the module to send target position reached events for all axes.
func NewDriver(bus adapter.Bus, device uint8, opts Options) *Driver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MotionTimeout <= 0 {
		opts.MotionTimeout = DefaultMotionTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Driver{
		bus:       bus,
		device:    device,
		opts:      opts,
		log:       logger.With("device", device),
		inflight:  make(map[Key]*entry),
		queues:    make(map[Key][]pending),
		awaiting:  make(map[Key][]*entry),
		outbox:    newFifo[outgoing](),
		callbacks: newFifo[func()](),
	}

	d.wg.Add(2)
	go d.readLoop()
	go d.writeLoop()
	go d.dispatchLoop()

	// Enable target position reached events, not tracked
	setup := Request{Device: device, Command: CMD_TPRE, Type: 1, Motor: 0, Value: 0xff}
	d.outbox.push(outgoing{frame: d.frame(setup)})
	return d
}

// Device returns the module address
func (d *Driver) Device() uint8 {
	return d.device
}

// Close fails every outstanding request with ErrClosed and closes the bus.
// Must not be called from a Callback.
func (d *Driver) Close() error {
	d.shutdown(ErrClosed)
	err := d.bus.Close()
	d.wg.Wait()
	return err
}

// Submit sends a raw request to the module. The device address of the
// request is replaced with the driver's one. Without a callback the
// returned Call delivers the result; with one, the result goes to the
// callback and nil is returned.
func (d *Driver) Submit(req Request, cb ...Callback) *Call {
	req.Device = d.device
	if waitsForTarget(req) && req.Motor >= NumMotors {
		return d.fail(req, fmt.Errorf("%w: %d", ErrInvalidMotor, req.Motor), cb)
	}
	return d.do(req, cb)
}

func (d *Driver) do(req Request, cbs []Callback) *Call {
	var cb Callback
	if len(cbs) > 0 {
		cb = cbs[0]
	}
	call := newCall(req, cb)

	d.mu.Lock()
	d.submit(req, call)
	d.mu.Unlock()

	if cb != nil {
		return nil
	}
	return call
}

// fail completes a request that was rejected before reaching the bus
func (d *Driver) fail(req Request, err error, cbs []Callback) *Call {
	var cb Callback
	if len(cbs) > 0 {
		cb = cbs[0]
	}
	call := newCall(req, cb)

	d.mu.Lock()
	d.finish(call, 0, err)
	d.mu.Unlock()

	if cb != nil {
		return nil
	}
	return call
}

// submit transmits a request, or queues it behind the one in flight
// for the same key. Called with d.mu held.
func (d *Driver) submit(req Request, call *Call) {
	if d.closed {
		d.finish(call, 0, ErrClosed)
		return
	}

	key := keyOf(req)
	if _, busy := d.inflight[key]; busy {
		d.queues[key] = append(d.queues[key], pending{req: req, call: call})
		return
	}

	e := &entry{key: key, req: req, call: call}
	d.inflight[key] = e
	rk := replyKeyOf(e)
	d.awaiting[rk] = append(d.awaiting[rk], e)
	e.timer = time.AfterFunc(d.opts.timeoutFor(req), func() {
		d.expire(e)
	})
	d.outbox.push(outgoing{frame: d.frame(req), entry: e})
}

// resolve completes the entry if it is still in flight, then transmits
// the next queued request for its key. Returns false for a stale entry.
// Called with d.mu held.
func (d *Driver) resolve(e *entry, value int32, err error) bool {
	if d.inflight[e.key] != e {
		return false
	}
	delete(d.inflight, e.key)
	e.timer.Stop()
	d.dropAwaiting(e)

	if q := d.queues[e.key]; len(q) > 0 {
		next := q[0]
		if len(q) == 1 {
			delete(d.queues, e.key)
		} else {
			d.queues[e.key] = q[1:]
		}
		d.submit(next.req, next.call)
	}
	d.finish(e.call, value, err)
	return true
}

// finish completes a call and schedules its callback.
// Internal hooks run at once, with d.mu held.
func (d *Driver) finish(call *Call, value int32, err error) {
	if !call.complete(value, err) {
		return
	}
	if call.hook != nil {
		call.hook(value, err)
		return
	}
	if call.callback == nil {
		return
	}
	cb := call.callback
	if !d.callbacks.push(func() { cb(value, err) }) {
		go cb(value, err)
	}
}

// expire is run by the request timer
func (d *Driver) expire(e *entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := &TimeoutError{Command: e.req.Command, Type: e.req.Type, Motor: e.req.Motor}
	if d.resolve(e, 0, err) {
		d.log.Warn("request timed out", "key", e.key, "request", e.req)
	}
}

// transmitFailed is run by the writer when the bus rejects a frame
func (d *Driver) transmitFailed(e *entry, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resolve(e, 0, fmt.Errorf("%w: %w", ErrTransmit, err))
}

// replyKeyOf is the key of the reply frame a request gets on transmission.
// Moves and searches share it with other requests of the same command.
func replyKeyOf(e *entry) Key {
	return Key{Scope: DeviceScope, Device: e.key.Device, Command: e.key.Command}
}

// dropAwaiting forgets a request which no longer expects its reply
func (d *Driver) dropAwaiting(e *entry) {
	rk := replyKeyOf(e)
	q := d.awaiting[rk]
	for i, x := range q {
		if x == e {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(d.awaiting, rk)
	} else {
		d.awaiting[rk] = q
	}
}

// takeReply matches a reply to the oldest transmitted request with the
// same command; the module answers in order. For moves and searches the
// reply is only an acknowledge: a good status is swallowed, a bad one
// fails the request. Called with d.mu held.
func (d *Driver) takeReply(r Reply) {
	rk := replyKey(r)
	q := d.awaiting[rk]
	if len(q) == 0 {
		d.log.Debug("dropped reply without request", "status", r.Status, "command", r.Command)
		return
	}
	e := q[0]
	if len(q) == 1 {
		delete(d.awaiting, rk)
	} else {
		d.awaiting[rk] = q[1:]
	}

	err := statusError(r)
	switch {
	case err != nil:
		d.resolve(e, 0, err)
	case e.key.Scope == DeviceScope:
		d.resolve(e, r.Value, nil)
	}
}

// handleFrame routes one received frame
func (d *Driver) handleFrame(f adapter.Frame) {
	if f.ID != d.opts.ReplyID || f.Extended != d.opts.Extended {
		return
	}
	r, ok := Decode(f.Data)
	if !ok {
		return
	}
	d.log.Debug("received", "frame", f)

	d.mu.Lock()
	defer d.mu.Unlock()

	if r.IsTargetReached() {
		d.targetReached(r)
		return
	}
	d.takeReply(r)
}

// targetReached completes moves, and checks reference searches, for
// every axis flagged in the event. Called with d.mu held.
func (d *Driver) targetReached(r Reply) {
	mask := r.MotorMask()
	for axis := uint8(0); axis < NumMotors; axis++ {
		if mask&(1<<axis) == 0 {
			continue
		}
		if e := d.inflight[axisKey(r.Device, CMD_MVP, axis)]; e != nil {
			d.resolve(e, 0, nil)
		}
		if e := d.inflight[axisKey(r.Device, CMD_RFS, axis)]; e != nil {
			d.checkReference(e)
		}
	}
}

// checkReference reads the reference search status of the entry's axis.
// The search is only complete when the status reads zero; the module
// reports target reached several times while searching.
// Called with d.mu held.
func (d *Driver) checkReference(e *entry) {
	if e.checking {
		e.recheck = true
		return
	}
	e.checking = true
	e.recheck = false

	req := Request{Device: e.req.Device, Command: CMD_RFS, Type: RFS_STATUS, Motor: e.req.Motor}
	call := newCall(req, nil)
	call.hook = func(value int32, err error) {
		e.checking = false
		if d.closed || d.inflight[e.key] != e {
			return
		}
		switch {
		case err != nil:
			d.resolve(e, 0, fmt.Errorf("%w: %w", ErrReferenceCheck, err))
		case value == 0:
			d.resolve(e, 0, nil)
		case e.recheck:
			d.checkReference(e)
		default:
			d.log.Debug("reference search still active", "motor", e.req.Motor, "status", value)
		}
	}
	d.submit(req, call)
}

// shutdown fails everything outstanding and stops accepting requests
func (d *Driver) shutdown(cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	for key, e := range d.inflight {
		e.timer.Stop()
		delete(d.inflight, key)
		d.finish(e.call, 0, cause)
		for _, p := range d.queues[key] {
			d.finish(p.call, 0, cause)
		}
		delete(d.queues, key)
	}
	d.awaiting = make(map[Key][]*entry)
	d.outbox.close()
	d.callbacks.close()
}

func (d *Driver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// reportError delivers a failure with no caller to the error surface
func (d *Driver) reportError(err error) {
	d.log.Error("background error", "err", err)
	if d.opts.OnError == nil {
		return
	}
	onError := d.opts.OnError
	if !d.callbacks.push(func() { onError(err) }) {
		go onError(err)
	}
}

// frame builds the CAN frame of a request
func (d *Driver) frame(req Request) adapter.Frame {
	data := Encode(req)
	return adapter.Frame{
		ID:       uint32(req.Device),
		Extended: d.opts.Extended,
		Data:     data[:],
	}
}

func (d *Driver) readLoop() {
	defer d.wg.Done()
	for {
		f, err := d.bus.ReadFrame()
		if err != nil {
			if errors.Is(err, adapter.ErrClosed) || d.isClosed() {
				return
			}
			err = fmt.Errorf("%w: %w", ErrBusFailed, err)
			d.reportError(err)
			d.shutdown(err)
			return
		}
		d.handleFrame(f)
	}
}

func (d *Driver) writeLoop() {
	defer d.wg.Done()
	for {
		out, ok := d.outbox.pop()
		if !ok {
			return
		}
		if d.isClosed() {
			continue
		}
		err := d.bus.WriteFrame(out.frame)
		if err == nil {
			d.log.Debug("sent", "frame", out.frame)
			continue
		}
		if out.entry == nil {
			d.reportError(fmt.Errorf("%w: %w", ErrTransmit, err))
			continue
		}
		d.transmitFailed(out.entry, err)
	}
}

// dispatchLoop runs callbacks one at a time in completion order
func (d *Driver) dispatchLoop() {
	for {
		fn, ok := d.callbacks.pop()
		if !ok {
			return
		}
		fn()
	}
}
