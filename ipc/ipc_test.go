package ipc

import (
	"encoding/binary"
	"errors"
	"testing"

	"spindle/hal"
	"spindle/kernel"
)

func newTestRouter(t *testing.T) (*kernel.Scheduler, *Router) {
	t.Helper()
	s := kernel.New(hal.NewCoopCPU(), hal.NewHeapMemory(0), kernel.Config{})
	s.Bootstrap("boot", 32)
	return s, NewRouter(s, nil)
}

func TestSetPayloadTooLarge(t *testing.T) {
	var msg Message
	if err := msg.SetPayload(make([]byte, MaxMessageBytes+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("SetPayload() error = %v, want %v", err, ErrPayloadTooLarge)
	}
	if err := msg.SetPayload([]byte("hi")); err != nil {
		t.Fatalf("SetPayload() error = %v", err)
	}
	if got := string(msg.Payload()); got != "hi" {
		t.Fatalf("Payload() = %q, want hi", got)
	}
}

func TestOpenTwice(t *testing.T) {
	_, r := newTestRouter(t)

	if _, err := r.Open(EPLogger, 4); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := r.Open(EPLogger, 4); !errors.Is(err, ErrEndpointInUse) {
		t.Fatalf("Open() again error = %v, want %v", err, ErrEndpointInUse)
	}
	if _, err := r.Open(EPConsumer, 0); !errors.Is(err, kernel.ErrInvalidCapacity) {
		t.Fatalf("Open(depth 0) error = %v, want %v", err, kernel.ErrInvalidCapacity)
	}
}

func TestSendToMissingEndpoint(t *testing.T) {
	_, r := newTestRouter(t)

	if err := r.Send(Message{To: EPMonitor}); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("Send() error = %v, want %v", err, ErrNoEndpoint)
	}
	p, _ := r.Open(EPMonitor, 1)
	p.Close()
	if _, err := r.TrySend(Message{To: EPMonitor}); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("TrySend() after Close error = %v, want %v", err, ErrNoEndpoint)
	}
}

func TestTrySendFullInbox(t *testing.T) {
	_, r := newTestRouter(t)
	p, _ := r.Open(EPLogger, 2)

	for i := 0; i < 2; i++ {
		if ok, err := r.TrySend(Message{To: EPLogger}); !ok || err != nil {
			t.Fatalf("TrySend() = %v, %v at slot %d, want true, nil", ok, err, i)
		}
	}
	if ok, _ := r.TrySend(Message{To: EPLogger}); ok {
		t.Fatalf("TrySend() on full inbox = true, want false")
	}
	if got := p.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
}

func TestUrgentIsReceivedFirst(t *testing.T) {
	_, r := newTestRouter(t)
	p, _ := r.Open(EPLogger, 4)

	r.Send(Message{To: EPLogger, Kind: KindLog})
	r.Urgent(Message{To: EPLogger, Kind: KindPing})

	if msg := p.Receive(); msg.Kind != KindPing {
		t.Fatalf("Receive().Kind = %d, want %d", msg.Kind, KindPing)
	}
}

func TestCallReply(t *testing.T) {
	s, r := newTestRouter(t)

	server, err := r.Open(EPConsumer, 4)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_, err = s.Go("doubler", 10, func() {
		for i := 0; i < 3; i++ {
			req := server.Receive()
			var out [4]byte
			binary.LittleEndian.PutUint32(out[:], 2*binary.LittleEndian.Uint32(req.Payload()))
			server.Reply(req, out[:])
		}
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	client, err := r.OpenAny(1)
	if err != nil {
		t.Fatalf("OpenAny() error = %v", err)
	}
	if client.Endpoint() < EPDynamic {
		t.Fatalf("OpenAny() endpoint = %d, want >= %d", client.Endpoint(), EPDynamic)
	}

	for _, v := range []uint32{1, 20, 300} {
		var in [4]byte
		binary.LittleEndian.PutUint32(in[:], v)
		reply, err := client.Call(EPConsumer, in[:])
		if err != nil {
			t.Fatalf("Call(%d) error = %v", v, err)
		}
		if got := binary.LittleEndian.Uint32(reply.Payload()); got != 2*v {
			t.Fatalf("Call(%d) = %d, want %d", v, got, 2*v)
		}
		if reply.From != EPConsumer {
			t.Fatalf("reply.From = %d, want %d", reply.From, EPConsumer)
		}
	}
}

func TestSharedBufferWaitNewer(t *testing.T) {
	s, _ := newTestRouter(t)
	b := NewSharedBuffer(s)

	var got string
	_, err := s.Go("reader", 10, func() {
		seq, _ := b.Read(nil)
		dst := make([]byte, 16)
		_, n := b.WaitNewer(seq, dst)
		got = string(dst[:n])
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	s.Yield()
	if got != "" {
		t.Fatalf("WaitNewer() returned before a write")
	}

	if seq := b.Write([]byte("frame")); seq != 1 {
		t.Fatalf("Write() seq = %d, want 1", seq)
	}
	s.Yield()
	if got != "frame" {
		t.Fatalf("reader got %q, want frame", got)
	}
}
