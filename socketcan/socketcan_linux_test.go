//go:build linux

package socketcan

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sergev/tmcl/adapter"

	"golang.org/x/sys/unix"
)

// pairBus returns a Bus on one end of a packet socket pair, and the
// other end for injecting frames
func pairBus(t *testing.T) (*Bus, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return &Bus{fd: fds[0], iface: "pair"}, fds[1]
}

func TestReadFrameFromSocket(t *testing.T) {
	b, peer := pairBus(t)
	defer b.Close()

	buf, err := marshalFrame(adapter.Frame{ID: 2, Data: []byte{1, 100, 4, 0, 0, 0, 1}})
	if err != nil {
		t.Fatalf("marshalFrame() returned error: %v", err)
	}
	if _, err := unix.Write(peer, buf[:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := b.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() returned error: %v", err)
	}
	if f.ID != 2 || !bytes.Equal(f.Data, []byte{1, 100, 4, 0, 0, 0, 1}) {
		t.Errorf("ReadFrame() = %v", f)
	}
}

func TestCloseWaitsForReader(t *testing.T) {
	b, _ := pairBus(t)

	result := make(chan error, 1)
	go func() {
		_, err := b.ReadFrame()
		result <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	// The reader has left the socket before it was closed
	if b.rmu.TryLock() {
		b.rmu.Unlock()
	} else {
		t.Errorf("reader still holds the socket after Close()")
	}
	select {
	case err := <-result:
		if !errors.Is(err, adapter.ErrClosed) {
			t.Errorf("ReadFrame() error = %v, expected ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("ReadFrame() did not return after Close()")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() returned error: %v", err)
	}
}
