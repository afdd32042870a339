package ping

import (
	"net"
	"sync"
	"time"

	"github.com/postalsys/poping/internal/icmp"
)

// State represents the state of a single echo exchange.
type State int

const (
	// StateIdle means the request has not been sent yet.
	StateIdle State = iota
	// StateSent means the request was written to the socket.
	StateSent
	// StateAwaitingReply means the client is blocked receiving.
	StateAwaitingReply
	// StateReported means a datagram was received and decoded.
	StateReported
	// StateFailed means the exchange ended with an error.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSent:
		return "SENT"
	case StateAwaitingReply:
		return "AWAITING_REPLY"
	case StateReported:
		return "REPORTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReported || s == StateFailed
}

// Exchange is one request/reply cycle. Transitions only move forward:
// Idle -> Sent -> AwaitingReply -> Reported, or to Failed from any
// non-terminal state.
type Exchange struct {
	mu sync.RWMutex

	Destination net.IP
	Request     *icmp.EchoMessage

	state       State
	err         error
	CreatedAt   time.Time
	SentAt      time.Time
	CompletedAt time.Time
}

// NewExchange creates an idle exchange for req to dst.
func NewExchange(dst net.IP, req *icmp.EchoMessage) *Exchange {
	return &Exchange{
		Destination: dst,
		Request:     req,
		state:       StateIdle,
		CreatedAt:   time.Now(),
	}
}

func (e *Exchange) advance(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != from {
		return false
	}
	e.state = to
	switch to {
	case StateSent:
		e.SentAt = time.Now()
	case StateReported:
		e.CompletedAt = time.Now()
	}
	return true
}

// MarkSent moves Idle to Sent.
func (e *Exchange) MarkSent() bool {
	return e.advance(StateIdle, StateSent)
}

// MarkAwaiting moves Sent to AwaitingReply.
func (e *Exchange) MarkAwaiting() bool {
	return e.advance(StateSent, StateAwaitingReply)
}

// MarkReported moves AwaitingReply to Reported.
func (e *Exchange) MarkReported() bool {
	return e.advance(StateAwaitingReply, StateReported)
}

// Fail moves any non-terminal state to Failed and records err.
func (e *Exchange) Fail(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return false
	}
	e.state = StateFailed
	e.err = err
	e.CompletedAt = time.Now()
	return true
}

// State returns the current state.
func (e *Exchange) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.state
}

// Err returns the failure recorded by Fail.
func (e *Exchange) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.err
}

// WasSent reports whether the request reached the transport.
func (e *Exchange) WasSent() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return !e.SentAt.IsZero()
}

// RTT returns the time between send and completion, or 0 if the exchange
// has not completed after a send.
func (e *Exchange) RTT() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.SentAt.IsZero() || e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.SentAt)
}
