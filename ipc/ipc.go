// Package ipc carries fixed-size messages between threads over kernel
// message queues.
//
// Every endpoint owns one inbox. Requests and replies are plain messages; a
// reply carries the sequence number of the request it answers.
package ipc

import (
	"errors"
	"fmt"

	"spindle/kernel"
	"spindle/klog"
)

// MaxMessageBytes is the maximum payload size for IPC messages.
const MaxMessageBytes = 256

// Endpoint identifies a message destination.
type Endpoint uint8

const (
	EPKernel Endpoint = iota
	EPLogger
	EPProducer
	EPConsumer
	EPKeyboard
	EPMonitor

	// EPDynamic is the first endpoint handed out by Router.OpenAny.
	EPDynamic
)

type Kind uint8

const (
	KindLog Kind = iota + 1
	KindPing
	KindPong
	KindRequest
	KindReply
	KindNotifyShared
)

// Message is a fixed-size message envelope.
type Message struct {
	From Endpoint
	To   Endpoint
	Kind Kind
	Seq  uint32
	Len  uint16
	Data [MaxMessageBytes]byte
}

var (
	ErrNoEndpoint      = errors.New("ipc: no such endpoint")
	ErrEndpointInUse   = errors.New("ipc: endpoint already open")
	ErrPayloadTooLarge = errors.New("ipc: payload too large")
	ErrEndpointsFull   = errors.New("ipc: no free endpoint")
)

// SetPayload copies p into the message.
func (m *Message) SetPayload(p []byte) error {
	if len(p) > MaxMessageBytes {
		return fmt.Errorf("%d bytes: %w", len(p), ErrPayloadTooLarge)
	}
	m.Len = uint16(copy(m.Data[:], p))
	return nil
}

// Payload returns the used part of Data.
func (m *Message) Payload() []byte { return m.Data[:m.Len] }

// Port is an open endpoint and its inbox.
type Port struct {
	r     *Router
	ep    Endpoint
	inbox *kernel.MessageQueue[Message]
	seq   uint32
}

func (p *Port) Endpoint() Endpoint { return p.ep }

// Receive blocks until a message arrives.
func (p *Port) Receive() Message { return p.inbox.Receive() }

func (p *Port) TryReceive() (Message, bool) { return p.inbox.TryReceive() }

// Pending returns the number of queued messages.
func (p *Port) Pending() int { return p.inbox.Len() }

// Send sends kind/payload to the endpoint to, blocking while its inbox is
// full.
func (p *Port) Send(to Endpoint, kind Kind, payload []byte) error {
	msg := Message{From: p.ep, To: to, Kind: kind}
	if err := msg.SetPayload(payload); err != nil {
		return err
	}
	return p.r.Send(msg)
}

// Call sends a request and waits for the matching reply. The port must not
// receive other traffic while a call is outstanding; unrelated messages are
// dropped.
func (p *Port) Call(to Endpoint, payload []byte) (Message, error) {
	p.seq++
	req := Message{From: p.ep, To: to, Kind: KindRequest, Seq: p.seq}
	if err := req.SetPayload(payload); err != nil {
		return Message{}, err
	}
	if err := p.r.Send(req); err != nil {
		return Message{}, err
	}
	for {
		msg := p.inbox.Receive()
		if msg.Kind == KindReply && msg.Seq == req.Seq {
			return msg, nil
		}
		p.r.log.Warnf("ipc: endpoint %d dropped kind %d seq %d while calling %d", p.ep, msg.Kind, msg.Seq, to)
	}
}

// Reply answers req with payload.
func (p *Port) Reply(req Message, payload []byte) error {
	msg := Message{From: p.ep, To: req.From, Kind: KindReply, Seq: req.Seq}
	if err := msg.SetPayload(payload); err != nil {
		return err
	}
	return p.r.Send(msg)
}

// Close detaches the endpoint. Queued messages are discarded.
func (p *Port) Close() {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	if p.r.ports[p.ep] == p {
		p.r.ports[p.ep] = nil
	}
}

// Router maps endpoints to ports.
type Router struct {
	s     *kernel.Scheduler
	log   *klog.Logger
	mu    *kernel.Mutex
	ports [256]*Port
	next  Endpoint
}

// NewRouter returns a router whose ports live on s. log may be nil.
func NewRouter(s *kernel.Scheduler, log *klog.Logger) *Router {
	return &Router{s: s, log: log, mu: s.NewMutex(), next: EPDynamic}
}

// Open creates the port for ep with an inbox of depth messages.
func (r *Router) Open(ep Endpoint, depth int) (*Port, error) {
	inbox, err := kernel.NewMessageQueue[Message](r.s, depth)
	if err != nil {
		return nil, fmt.Errorf("open endpoint %d: %w", ep, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ports[ep] != nil {
		return nil, fmt.Errorf("open endpoint %d: %w", ep, ErrEndpointInUse)
	}
	p := &Port{r: r, ep: ep, inbox: inbox}
	r.ports[ep] = p
	return p, nil
}

// OpenAny opens the next free dynamic endpoint.
func (r *Router) OpenAny(depth int) (*Port, error) {
	r.mu.Lock()
	start := r.next
	for r.ports[r.next] != nil {
		r.next++
		if r.next < EPDynamic {
			r.next = EPDynamic
		}
		if r.next == start {
			r.mu.Unlock()
			return nil, ErrEndpointsFull
		}
	}
	ep := r.next
	r.mu.Unlock()
	return r.Open(ep, depth)
}

func (r *Router) lookup(ep Endpoint) (*Port, error) {
	p := r.ports[ep]
	if p == nil {
		return nil, fmt.Errorf("endpoint %d: %w", ep, ErrNoEndpoint)
	}
	return p, nil
}

// Send delivers msg to msg.To, blocking while the inbox is full.
func (r *Router) Send(msg Message) error {
	p, err := r.lookup(msg.To)
	if err != nil {
		return err
	}
	p.inbox.Send(msg)
	return nil
}

// TrySend delivers msg without blocking. It is safe from interrupt
// handlers.
func (r *Router) TrySend(msg Message) (bool, error) {
	p, err := r.lookup(msg.To)
	if err != nil {
		return false, err
	}
	return p.inbox.TrySend(msg), nil
}

// Urgent puts msg at the front of the destination inbox.
func (r *Router) Urgent(msg Message) error {
	p, err := r.lookup(msg.To)
	if err != nil {
		return err
	}
	p.inbox.Jam(msg)
	return nil
}
