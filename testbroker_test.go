package goamqp

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ewaters/goamqp/protocol"
)

// fakeBroker plays the server side of an AMQP handshake/session over an
// in-memory net.Pipe, so engine tests exercise the real framing and
// Sync-Gate logic without a reachable broker.
type fakeBroker struct {
	conn   net.Conn
	frames chan protocol.Frame
}

// newFakeBroker returns the client-facing end of the pipe (to be handed to
// Connection via the dial test seam) and the fakeBroker driving the other
// end.
func newFakeBroker(t *testing.T) (net.Conn, *fakeBroker) {
	t.Helper()
	client, broker := net.Pipe()
	fb := &fakeBroker{conn: broker, frames: make(chan protocol.Frame, 64)}
	go fb.readLoop(t)
	t.Cleanup(fb.close)
	return client, fb
}

func (fb *fakeBroker) readLoop(t *testing.T) {
	preface := make([]byte, len(protocol.Preface))
	if _, err := io.ReadFull(fb.conn, preface); err != nil {
		return
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := fb.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			frames, rest, derr := protocol.Decode(buf)
			if derr != nil {
				return
			}
			buf = rest
			for _, f := range frames {
				select {
				case fb.frames <- f:
				default:
					t.Errorf("fakeBroker: frame buffer full, dropping %T", f)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// next waits up to timeout for the next frame received from the client.
func (fb *fakeBroker) next(t *testing.T, timeout time.Duration) protocol.Frame {
	t.Helper()
	select {
	case f := <-fb.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("fakeBroker: timed out waiting for a frame")
		return nil
	}
}

// nextMethod waits for the next frame and requires it to be a method frame,
// returning the decoded Method.
func (fb *fakeBroker) nextMethod(t *testing.T, timeout time.Duration) protocol.Method {
	t.Helper()
	f := fb.next(t, timeout)
	mf, ok := f.(*protocol.MethodFrame)
	if !ok {
		t.Fatalf("fakeBroker: expected a method frame, got %T", f)
	}
	return mf.Method
}

// send writes f to the client.
func (fb *fakeBroker) send(t *testing.T, f protocol.Frame) {
	t.Helper()
	if err := protocol.Encode(fb.conn, f); err != nil {
		t.Fatalf("fakeBroker: encode %T: %v", f, err)
	}
}

func (fb *fakeBroker) close() {
	_ = fb.conn.Close()
}

const testTimeout = 2 * time.Second

// handshake drives the standard Connection.Start -> StartOk -> Tune ->
// TuneOk -> Open -> OpenOk exchange from the broker side, as a test
// convenience for tests whose focus is past the handshake.
func (fb *fakeBroker) handshake(t *testing.T) {
	t.Helper()
	fb.send(t, &protocol.MethodFrame{Method: &protocol.ConnectionStartMethod{
		VersionMajor: 0,
		VersionMinor: 9,
		Mechanisms:   "AMQPLAIN",
		Locales:      "en_US",
	}})
	if _, ok := fb.nextMethod(t, testTimeout).(*protocol.ConnectionStartOkMethod); !ok {
		t.Fatalf("fakeBroker: expected Connection.StartOk")
	}

	fb.send(t, &protocol.MethodFrame{Method: &protocol.ConnectionTuneMethod{
		ChannelMax: 0,
		FrameMax:   131072,
		Heartbeat:  0,
	}})
	if _, ok := fb.nextMethod(t, testTimeout).(*protocol.ConnectionTuneOkMethod); !ok {
		t.Fatalf("fakeBroker: expected Connection.TuneOk")
	}

	if _, ok := fb.nextMethod(t, testTimeout).(*protocol.ConnectionOpenMethod); !ok {
		t.Fatalf("fakeBroker: expected Connection.Open")
	}
	fb.send(t, &protocol.MethodFrame{Method: &protocol.ConnectionOpenOkMethod{}})
}

// openChannel drains a Channel.Open on id and confirms it.
func (fb *fakeBroker) openChannel(t *testing.T, id uint16) {
	t.Helper()
	m := fb.nextMethod(t, testTimeout)
	if _, ok := m.(*protocol.ChannelOpenMethod); !ok {
		t.Fatalf("fakeBroker: expected Channel.Open, got %T", m)
	}
	fb.send(t, &protocol.MethodFrame{Channel: id, Method: &protocol.ChannelOpenOkMethod{}})
}
