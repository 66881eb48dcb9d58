package gsusb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/sergev/tmcl/adapter"
)

// candleLight limits of an STM32F072 at 48 MHz
var candleLight = btConst{
	FclkCAN:  48000000,
	Tseg1Min: 1,
	Tseg1Max: 16,
	Tseg2Min: 1,
	Tseg2Max: 8,
	SJWMax:   4,
	BRPMin:   1,
	BRPMax:   1024,
	BRPInc:   1,
}

func TestCalcBitTiming(t *testing.T) {
	tests := []struct {
		bitrate int
		brp     uint32
	}{
		{1000000, 3},
		{500000, 6},
		{250000, 12},
		{125000, 24},
		{10000, 300},
	}
	for _, tt := range tests {
		timing, err := calcBitTiming(candleLight, tt.bitrate)
		if err != nil {
			t.Fatalf("calcBitTiming(%d) returned error: %v", tt.bitrate, err)
		}
		if timing.BRP != tt.brp {
			t.Errorf("calcBitTiming(%d) prescaler = %d, expected %d", tt.bitrate, timing.BRP, tt.brp)
		}
		if total := 1 + timing.PropSeg + timing.PhaseSeg1 + timing.PhaseSeg2; total != ticksPerBit {
			t.Errorf("calcBitTiming(%d) has %d quanta per bit", tt.bitrate, total)
		}
	}
}

func TestCalcBitTimingErrors(t *testing.T) {
	for _, bitrate := range []int{0, 333333, 800000} {
		if _, err := calcBitTiming(candleLight, bitrate); !errors.Is(err, ErrBitrate) {
			t.Errorf("calcBitTiming(%d) error = %v, expected ErrBitrate", bitrate, err)
		}
	}

	narrow := candleLight
	narrow.Tseg1Max = 8
	if _, err := calcBitTiming(narrow, 1000000); !errors.Is(err, ErrBitrate) {
		t.Errorf("calcBitTiming() with tseg1 limit 8: error = %v, expected ErrBitrate", err)
	}
}

func TestParseBTConst(t *testing.T) {
	var data []byte
	for i := uint32(0); i < 10; i++ {
		data = binary.LittleEndian.AppendUint32(data, i+1)
	}
	c, err := parseBTConst(data)
	if err != nil {
		t.Fatalf("parseBTConst() returned error: %v", err)
	}
	if c.Feature != 1 || c.FclkCAN != 2 || c.BRPInc != 10 {
		t.Errorf("parseBTConst() = %+v", c)
	}
	if _, err := parseBTConst(data[:36]); err == nil {
		t.Errorf("parseBTConst() accepted 36 bytes")
	}
}

func TestBitTimingMarshal(t *testing.T) {
	got := bitTiming{PropSeg: 1, PhaseSeg1: 12, PhaseSeg2: 2, SJW: 1, BRP: 3}.marshal()
	want := []byte{1, 0, 0, 0, 12, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 3, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("marshal() = % x, expected % x", got, want)
	}
}

func TestHostFrame(t *testing.T) {
	f := adapter.Frame{ID: 1, Data: []byte{6, 1, 0, 0, 0, 0, 0}}
	buf, err := marshalHostFrame(f)
	if err != nil {
		t.Fatalf("marshalHostFrame() returned error: %v", err)
	}
	want := [hostFrameSize]byte{0, 0, 0, 0, 1, 0, 0, 0, 7, 0, 0, 0, 6, 1, 0, 0, 0, 0, 0, 0}
	if buf != want {
		t.Errorf("marshalHostFrame() = % x, expected % x", buf, want)
	}

	// Transmitted frames come back as echoes and are skipped
	if _, err := unmarshalHostFrame(buf[:]); !errors.Is(err, errSkip) {
		t.Errorf("echo: error = %v, expected errSkip", err)
	}

	binary.LittleEndian.PutUint32(buf[0:4], rxEchoID)
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	got, err := unmarshalHostFrame(buf[:])
	if err != nil {
		t.Fatalf("unmarshalHostFrame() returned error: %v", err)
	}
	if got.ID != 2 || got.Extended || !bytes.Equal(got.Data, f.Data) {
		t.Errorf("unmarshalHostFrame() = %v", got)
	}
}

func TestHostFrameExtended(t *testing.T) {
	buf, err := marshalHostFrame(adapter.Frame{ID: 0x1234567, Extended: true})
	if err != nil {
		t.Fatalf("marshalHostFrame() returned error: %v", err)
	}
	if id := binary.LittleEndian.Uint32(buf[4:8]); id != 0x1234567|CAN_EFF_FLAG {
		t.Errorf("can_id = %#x", id)
	}

	binary.LittleEndian.PutUint32(buf[0:4], rxEchoID)
	got, err := unmarshalHostFrame(buf[:])
	if err != nil || got.ID != 0x1234567 || !got.Extended {
		t.Errorf("unmarshalHostFrame() = %v, %v", got, err)
	}

	binary.LittleEndian.PutUint32(buf[4:8], CAN_ERR_FLAG)
	if _, err := unmarshalHostFrame(buf[:]); !errors.Is(err, errSkip) {
		t.Errorf("error frame: error = %v, expected errSkip", err)
	}
	if _, err := unmarshalHostFrame(buf[:12]); err == nil {
		t.Errorf("unmarshalHostFrame() accepted 12 bytes")
	}
}
