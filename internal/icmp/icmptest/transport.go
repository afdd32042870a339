// Package icmptest provides an in-memory icmp.Transport for tests.
package icmptest

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/postalsys/poping/internal/icmp"
	"golang.org/x/net/ipv4"
)

// Datagram is one queued receive result.
type Datagram struct {
	Data   []byte
	Source net.IP
	Err    error
}

// Sent is one datagram written through the transport.
type Sent struct {
	Data []byte
	Dst  net.IP
}

// Transport is an in-memory icmp.Transport. Receive blocks until a datagram
// is queued, the read deadline passes or the transport is closed.
type Transport struct {
	mu       sync.Mutex
	sent     []Sent
	sendErr  error
	deadline time.Time
	closed   bool

	// OnSend, when set, is called with every successful send. It runs
	// outside the transport lock and may queue datagrams.
	OnSend func(b []byte, dst net.IP)

	incoming chan Datagram
	wake     chan struct{}
	done     chan struct{}
}

var _ icmp.Transport = (*Transport)(nil)

// NewTransport creates an empty transport.
func NewTransport() *Transport {
	return &Transport{
		incoming: make(chan Datagram, 256),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push queues a datagram from src.
func (t *Transport) Push(b []byte, src net.IP) {
	t.incoming <- Datagram{Data: append([]byte(nil), b...), Source: src}
}

// PushError queues a receive error.
func (t *Transport) PushError(err error) {
	t.incoming <- Datagram{Err: err}
}

// FailSends makes every following Send return err.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// SentDatagrams returns a copy of everything sent so far.
func (t *Transport) SentDatagrams() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// Deadline returns the current read deadline.
func (t *Transport) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Send records b.
func (t *Transport) Send(b []byte, dst net.IP) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: send: %w", icmp.ErrTransport, net.ErrClosed)
	}
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		return 0, err
	}
	t.sent = append(t.sent, Sent{Data: append([]byte(nil), b...), Dst: dst})
	onSend := t.OnSend
	t.mu.Unlock()

	if onSend != nil {
		onSend(b, dst)
	}
	return len(b), nil
}

// Receive returns the next queued datagram.
func (t *Transport) Receive(b []byte) (int, net.IP, error) {
	for {
		t.mu.Lock()
		deadline := t.deadline
		t.mu.Unlock()

		var expired <-chan time.Time
		var timer *time.Timer
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, nil, fmt.Errorf("%w: receive: %w", icmp.ErrTransport, os.ErrDeadlineExceeded)
			}
			timer = time.NewTimer(wait)
			expired = timer.C
		}

		select {
		case d := <-t.incoming:
			stopTimer(timer)
			if d.Err != nil {
				return 0, nil, d.Err
			}
			return copy(b, d.Data), d.Source, nil
		case <-expired:
			return 0, nil, fmt.Errorf("%w: receive: %w", icmp.ErrTransport, os.ErrDeadlineExceeded)
		case <-t.wake:
			stopTimer(timer)
		case <-t.done:
			stopTimer(timer)
			return 0, nil, fmt.Errorf("%w: receive: %w", icmp.ErrTransport, net.ErrClosed)
		}
	}
}

// SetReadDeadline sets the deadline and wakes a blocked Receive.
func (t *Transport) SetReadDeadline(d time.Time) error {
	t.mu.Lock()
	t.deadline = d
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close unblocks Receive and fails later calls.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// EchoReply turns an encoded echo request into the matching reply bytes.
func EchoReply(request []byte) []byte {
	b := append([]byte(nil), request...)
	if len(b) >= icmp.HeaderLen {
		b[0] = byte(icmp.TypeEchoReply)
		icmp.SetChecksum(b)
	}
	return b
}

// WithIPv4Header prefixes an ICMP message with a minimal IPv4 header from src,
// the way a raw socket delivers it.
func WithIPv4Header(b []byte, src net.IP) []byte {
	h := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(b),
		TTL:      64,
		Protocol: icmp.ICMPv4ProtocolNumber,
		Src:      src.To4(),
		Dst:      net.IPv4(127, 0, 0, 1).To4(),
	}
	hdr, err := h.Marshal()
	if err != nil {
		panic(err)
	}
	return append(hdr, b...)
}

// Responder returns an OnSend hook that answers every request with its echo
// reply from dst, wrapped in an IPv4 header when raw is true.
func (t *Transport) Responder(raw bool) func(b []byte, dst net.IP) {
	return func(b []byte, dst net.IP) {
		reply := EchoReply(b)
		if raw {
			reply = WithIPv4Header(reply, dst)
		}
		t.Push(reply, dst)
	}
}
