// Package gsusb drives USB-to-CAN adapters with candleLight firmware
// (gs_usb protocol) directly through libusb, without the kernel driver.
package gsusb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/sergev/tmcl/adapter"
	"github.com/sergev/tmcl/config"

	"go.bug.st/serial/enumerator"
)

const (
	VendorID  = 0x1d50 // OpenMoko
	ProductID = 0x606f // candleLight / gs_usb
)

// USB interface and endpoints
const (
	Interface       = 0
	EndpointBulkIn  = 0x81
	EndpointBulkOut = 0x02

	requestOut = 0x41 // USB_DIR_OUT | USB_TYPE_VENDOR | USB_RECIP_INTERFACE
	requestIn  = 0xc1 // USB_DIR_IN | USB_TYPE_VENDOR | USB_RECIP_INTERFACE

	ControlTimeout = time.Second
	readTimeout    = 100 * time.Millisecond
)

// Vendor requests
const (
	BREQ_HOST_FORMAT = 0
	BREQ_BITTIMING   = 1
	BREQ_MODE        = 2
	BREQ_BERR        = 3
	BREQ_BT_CONST    = 4
)

// Channel modes
const (
	MODE_RESET = 0
	MODE_START = 1
)

// Flag bits of the can_id field, same as SocketCAN
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x000007ff
	CAN_EFF_MASK = 0x1fffffff
)

// hostFrameSize is sizeof(struct gs_host_frame) for classic CAN
const hostFrameSize = 20

// rxEchoID marks frames received from the bus; other values are echoes
// of our own transmissions
const rxEchoID = 0xffffffff

// ticksPerBit is the number of time quanta per bit, sample point 87.5%
const ticksPerBit = 16

var (
	ErrNotFound = errors.New("gsusb: candleLight device not found")
	ErrBitrate  = errors.New("gsusb: bitrate not reachable")
	errSkip     = errors.New("gsusb: not a received data frame")
)

// btConst holds the bit timing limits reported by the device
type btConst struct {
	Feature  uint32
	FclkCAN  uint32
	Tseg1Min uint32
	Tseg1Max uint32
	Tseg2Min uint32
	Tseg2Max uint32
	SJWMax   uint32
	BRPMin   uint32
	BRPMax   uint32
	BRPInc   uint32
}

// bitTiming is struct gs_device_bittiming
type bitTiming struct {
	PropSeg   uint32
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	SJW       uint32
	BRP       uint32
}

// Bus is channel 0 of a candleLight adapter
type Bus struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	done    func()
	bulkOut *gousb.OutEndpoint
	bulkIn  *gousb.InEndpoint

	wmu     sync.Mutex
	pending [][]byte // frames of the last bulk transfer not yet returned

	mu     sync.Mutex
	closed bool
}

func init() {
	adapter.RegisterUSBAdapter("gsusb", VendorID, ProductID, func(dev config.Device, _ *enumerator.PortDetails) (adapter.Bus, error) {
		bus, err := Open(dev.Bitrate)
		if err != nil {
			return nil, err
		}
		return bus, nil
	})
}

// Open finds the first candleLight adapter, sets the bitrate and starts
// the channel
func Open(bitrate int) (*Bus, error) {
	if bitrate == 0 {
		bitrate = 1000000
	}
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == VendorID && uint16(desc.Product) == ProductID
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, ErrNotFound
	}

	// Use the first matching device
	dev := devs[0]
	for i := 1; i < len(devs); i++ {
		devs[i].Close()
	}
	dev.ControlTimeout = ControlTimeout
	dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to get config 1: %w", err)
	}
	intf, err := cfg.Interface(Interface, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", Interface, err)
	}
	done := func() {
		intf.Close()
		cfg.Close()
	}

	b := &Bus{ctx: ctx, dev: dev, intf: intf, done: done}
	b.bulkOut, err = intf.OutEndpoint(EndpointBulkOut)
	if err != nil {
		b.release()
		return nil, fmt.Errorf("failed to open bulk out endpoint: %w", err)
	}
	b.bulkIn, err = intf.InEndpoint(EndpointBulkIn)
	if err != nil {
		b.release()
		return nil, fmt.Errorf("failed to open bulk in endpoint: %w", err)
	}

	if err := b.start(bitrate); err != nil {
		b.release()
		return nil, err
	}
	return b, nil
}

// start configures channel 0 and puts it on the bus
func (b *Bus) start(bitrate int) error {
	// Byte order handshake, the device always uses little endian
	format := binary.LittleEndian.AppendUint32(nil, 0x0000beef)
	if err := b.controlOut(BREQ_HOST_FORMAT, 1, format); err != nil {
		return fmt.Errorf("failed to set host format: %w", err)
	}
	if err := b.controlOut(BREQ_MODE, 0, modeRequest(MODE_RESET)); err != nil {
		return fmt.Errorf("failed to reset channel: %w", err)
	}

	buf := make([]byte, 40)
	n, err := b.dev.Control(requestIn, BREQ_BT_CONST, 0, Interface, buf)
	if err != nil {
		return fmt.Errorf("failed to read bit timing limits: %w", err)
	}
	limits, err := parseBTConst(buf[:n])
	if err != nil {
		return err
	}
	timing, err := calcBitTiming(limits, bitrate)
	if err != nil {
		return err
	}
	if err := b.controlOut(BREQ_BITTIMING, 0, timing.marshal()); err != nil {
		return fmt.Errorf("failed to set bit timing: %w", err)
	}
	if err := b.controlOut(BREQ_MODE, 0, modeRequest(MODE_START)); err != nil {
		return fmt.Errorf("failed to start channel: %w", err)
	}
	return nil
}

// controlOut performs a vendor control transfer to the device
func (b *Bus) controlOut(request uint8, value uint16, data []byte) error {
	_, err := b.dev.Control(requestOut, request, value, Interface, data)
	if err != nil {
		return fmt.Errorf("control transfer failed: %w", err)
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
	buf, err := marshalHostFrame(f)
	if err != nil {
		return err
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()
	if b.isClosed() {
		return adapter.ErrClosed
	}
	if _, err := b.bulkOut.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame returns the next frame received from the bus. Echoes of
// transmitted frames are dropped.
func (b *Bus) ReadFrame() (adapter.Frame, error) {
	buf := make([]byte, b.bulkIn.Desc.MaxPacketSize)
	for {
		for len(b.pending) > 0 {
			raw := b.pending[0]
			b.pending = b.pending[1:]
			f, err := unmarshalHostFrame(raw)
			if err == nil {
				return f, nil
			}
		}

		if b.isClosed() {
			return adapter.Frame{}, adapter.ErrClosed
		}
		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		n, err := b.bulkIn.ReadContext(ctx, buf)
		expired := ctx.Err() != nil
		cancel()
		if err != nil {
			if expired {
				continue
			}
			if b.isClosed() {
				return adapter.Frame{}, adapter.ErrClosed
			}
			return adapter.Frame{}, fmt.Errorf("failed to read frame: %w", err)
		}
		for off := 0; off+hostFrameSize <= n; off += hostFrameSize {
			b.pending = append(b.pending, append([]byte(nil), buf[off:off+hostFrameSize]...))
		}
	}
}

// Close stops the channel and releases the device
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
	b.controlOut(BREQ_MODE, 0, modeRequest(MODE_RESET))
	return b.release()
}

func (b *Bus) release() error {
	if b.done != nil {
		b.done()
	}
	if b.dev != nil {
		b.dev.Close()
	}
	return b.ctx.Close()
}

// modeRequest builds struct gs_device_mode
func modeRequest(mode uint32) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, mode)
	return binary.LittleEndian.AppendUint32(buf, 0) // flags
}

func parseBTConst(data []byte) (btConst, error) {
	var c btConst
	if len(data) < 40 {
		return c, fmt.Errorf("gsusb: short bit timing constants (%d bytes)", len(data))
	}
	u := func(i int) uint32 { return binary.LittleEndian.Uint32(data[4*i:]) }
	c = btConst{
		Feature:  u(0),
		FclkCAN:  u(1),
		Tseg1Min: u(2),
		Tseg1Max: u(3),
		Tseg2Min: u(4),
		Tseg2Max: u(5),
		SJWMax:   u(6),
		BRPMin:   u(7),
		BRPMax:   u(8),
		BRPInc:   u(9),
	}
	return c, nil
}

// calcBitTiming splits a bit into ticksPerBit quanta: one sync quantum,
// 13 before and 2 after the sample point
func calcBitTiming(c btConst, bitrate int) (bitTiming, error) {
	if bitrate <= 0 || c.FclkCAN == 0 {
		return bitTiming{}, fmt.Errorf("%w: %d", ErrBitrate, bitrate)
	}
	quantum := uint32(bitrate) * ticksPerBit
	if c.FclkCAN%quantum != 0 {
		return bitTiming{}, fmt.Errorf("%w: %d with %d Hz clock", ErrBitrate, bitrate, c.FclkCAN)
	}
	t := bitTiming{
		PropSeg:   1,
		PhaseSeg1: 12,
		PhaseSeg2: 2,
		SJW:       1,
		BRP:       c.FclkCAN / quantum,
	}
	tseg1 := t.PropSeg + t.PhaseSeg1
	switch {
	case t.BRP < c.BRPMin || t.BRP > c.BRPMax:
		return bitTiming{}, fmt.Errorf("%w: prescaler %d out of range", ErrBitrate, t.BRP)
	case tseg1 < c.Tseg1Min || tseg1 > c.Tseg1Max:
		return bitTiming{}, fmt.Errorf("%w: tseg1 %d out of range", ErrBitrate, tseg1)
	case t.PhaseSeg2 < c.Tseg2Min || t.PhaseSeg2 > c.Tseg2Max:
		return bitTiming{}, fmt.Errorf("%w: tseg2 %d out of range", ErrBitrate, t.PhaseSeg2)
	}
	return t, nil
}

func (t bitTiming) marshal() []byte {
	var buf []byte
	for _, v := range []uint32{t.PropSeg, t.PhaseSeg1, t.PhaseSeg2, t.SJW, t.BRP} {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

// marshalHostFrame builds struct gs_host_frame for channel 0
func marshalHostFrame(f adapter.Frame) ([hostFrameSize]byte, error) {
	var buf [hostFrameSize]byte
	if err := adapter.CheckFrame(f); err != nil {
		return buf, fmt.Errorf("gsusb: %w", err)
	}
	id := f.ID
	if f.Extended {
		id |= CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], 0) // echo_id
	binary.LittleEndian.PutUint32(buf[4:8], id)
	buf[8] = byte(len(f.Data))
	copy(buf[12:], f.Data)
	return buf, nil
}

// unmarshalHostFrame decodes a frame received from the bus. Echoes,
// remote and error frames return errSkip.
func unmarshalHostFrame(buf []byte) (adapter.Frame, error) {
	if len(buf) < hostFrameSize {
		return adapter.Frame{}, fmt.Errorf("gsusb: short frame (%d bytes)", len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != rxEchoID {
		return adapter.Frame{}, errSkip
	}
	id := binary.LittleEndian.Uint32(buf[4:8])
	if id&(CAN_RTR_FLAG|CAN_ERR_FLAG) != 0 {
		return adapter.Frame{}, errSkip
	}
	dlc := int(buf[8])
	if dlc > 8 {
		dlc = 8
	}

	f := adapter.Frame{Data: append([]byte(nil), buf[12:12+dlc]...)}
	if id&CAN_EFF_FLAG != 0 {
		f.Extended = true
		f.ID = id & CAN_EFF_MASK
	} else {
		f.ID = id & CAN_SFF_MASK
	}
	return f, nil
}
