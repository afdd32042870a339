// Package server implements the receive side: a loop that decodes every
// datagram arriving on an ICMP socket, hands echo messages to observers and
// optionally answers echo requests.
//
// The kernel answers echo requests on its own, so the server is observe-only
// unless Config.Reply is set.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/logging"
	"github.com/postalsys/poping/internal/metrics"
	"github.com/postalsys/poping/internal/recovery"
	"golang.org/x/time/rate"
)

// Config holds server configuration.
type Config struct {
	// Reply enables the responder: echo requests are answered with an echo
	// reply carrying the same identifier, sequence and payload.
	Reply bool

	// ReplyPayload, when non-nil, replaces the payload of every reply.
	ReplyPayload []byte

	// BufferSize is the size of the receive buffer allocated per datagram.
	BufferSize int

	// DiscardLogInterval is the minimum spacing between debug lines about
	// discarded datagrams. Discards are always counted.
	DiscardLogInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:         icmp.DefaultReceiveBufferSize,
		DiscardLogInterval: time.Second,
	}
}

// Stats is a snapshot of server counters.
type Stats struct {
	Received       uint64 `json:"received"`
	Observed       uint64 `json:"observed"`
	Discarded      uint64 `json:"discarded"`
	Replied        uint64 `json:"replied"`
	ReplyErrors    uint64 `json:"reply_errors"`
	ObserverPanics uint64 `json:"observer_panics"`
}

type counters struct {
	received       atomic.Uint64
	observed       atomic.Uint64
	discarded      atomic.Uint64
	replied        atomic.Uint64
	replyErrors    atomic.Uint64
	observerPanics atomic.Uint64
	suppressed     atomic.Uint64
}

// Server runs the receive loop over a transport.
type Server struct {
	transport icmp.Transport
	cfg       Config
	observers []Observer
	logger    *slog.Logger
	metrics   *metrics.Metrics

	discardLog *rate.Limiter
	counters   counters
	running    atomic.Bool
}

// New creates a server. A nil logger discards output; nil metrics disables
// recording.
func New(transport icmp.Transport, cfg Config, logger *slog.Logger, m *metrics.Metrics, observers ...Observer) *Server {
	cfg.BufferSize = icmp.SocketConfig{ReceiveBufferSize: cfg.BufferSize}.BufferSize()
	if logger == nil {
		logger = logging.NopLogger()
	}

	limit := rate.Inf
	if cfg.DiscardLogInterval > 0 {
		limit = rate.Every(cfg.DiscardLogInterval)
	}

	return &Server{
		transport:  transport,
		cfg:        cfg,
		observers:  observers,
		logger:     logger.With(logging.KeyComponent, "server"),
		metrics:    m,
		discardLog: rate.NewLimiter(limit, 1),
	}
}

// AddObserver registers o. It must be called before Run.
func (s *Server) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Run receives datagrams until ctx is cancelled or the transport fails.
// Decode failures discard the datagram and the loop continues. A transport
// failure is returned wrapped with icmp.ErrTransport. Cancelling ctx returns
// nil.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}
	defer s.running.Store(false)

	if err := s.transport.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: clear read deadline: %w", icmp.ErrTransport, err)
	}

	// Cancelling ctx forces the blocked read to return.
	stop := context.AfterFunc(ctx, func() {
		s.transport.SetReadDeadline(time.Now())
	})
	defer stop()

	if s.cfg.Reply {
		s.logger.Warn("echo responder enabled; the kernel may answer the same requests")
	}
	s.logger.Info("receive loop started", "observers", len(s.observers), "reply", s.cfg.Reply)

	for {
		buf := make([]byte, s.cfg.BufferSize)
		n, src, err := s.transport.Receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("receive loop stopped")
				return nil
			}
			if !errors.Is(err, icmp.ErrTransport) {
				err = fmt.Errorf("%w: %w", icmp.ErrTransport, err)
			}
			s.logger.Error("receive loop failed", logging.KeyError, err)
			return fmt.Errorf("receive loop: %w", err)
		}

		s.handle(ctx, buf[:n], src)
	}
}

func (s *Server) handle(ctx context.Context, b []byte, src net.IP) {
	s.counters.received.Add(1)
	if s.metrics != nil {
		s.metrics.RecordDatagram(len(b))
	}

	data := icmp.StripIPv4Header(b)
	msg, err := icmp.Decode(data)
	if err != nil {
		s.discard(src, len(data), err)
		return
	}

	obs := Observation{
		Source:     src,
		Type:       icmp.TypeOf(data),
		Identifier: msg.Identifier,
		Sequence:   msg.Sequence,
		Payload:    msg.Payload,
		Size:       len(data),
		ReceivedAt: time.Now(),
	}
	s.counters.observed.Add(1)
	if s.metrics != nil {
		s.metrics.RecordObservation(obs.Type.String())
	}

	for _, o := range s.observers {
		if recovery.Call(s.logger, "observer", func() { o.Observe(ctx, obs) }) {
			s.counters.observerPanics.Add(1)
			if s.metrics != nil {
				s.metrics.RecordObserverPanic()
			}
		}
	}

	if s.cfg.Reply && obs.Type == icmp.TypeEchoRequest {
		s.reply(msg, src)
	}
}

func (s *Server) discard(src net.IP, size int, err error) {
	s.counters.discarded.Add(1)
	reason := icmp.DecodeErrorReason(err)
	if s.metrics != nil {
		s.metrics.RecordDecodeError(reason)
	}

	if !s.discardLog.Allow() {
		s.counters.suppressed.Add(1)
		return
	}
	s.logger.Debug("datagram discarded",
		logging.KeySource, src,
		logging.KeySize, size,
		logging.KeyReason, reason,
		logging.KeyError, err,
		"suppressed", s.counters.suppressed.Swap(0))
}

func (s *Server) reply(req *icmp.EchoMessage, dst net.IP) {
	msg := icmp.NewEchoMessage(req.Identifier, req.Sequence, req.Payload)
	if s.cfg.ReplyPayload != nil {
		msg.SetPayload(s.cfg.ReplyPayload)
	}

	b := msg.Encode()
	b[0] = byte(icmp.TypeEchoReply)
	icmp.SetChecksum(b)

	if _, err := s.transport.Send(b, dst); err != nil {
		s.counters.replyErrors.Add(1)
		if s.metrics != nil {
			s.metrics.RecordReplyError()
		}
		s.logger.Warn("echo reply failed",
			logging.KeyDestination, dst,
			logging.KeySequence, req.Sequence,
			logging.KeyError, err)
		return
	}

	s.counters.replied.Add(1)
	if s.metrics != nil {
		s.metrics.RecordReplySent()
	}
	s.logger.Debug("echo reply sent",
		logging.KeyDestination, dst,
		logging.KeyIdentifier, logging.Hex16(req.Identifier),
		logging.KeySequence, req.Sequence)
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Received:       s.counters.received.Load(),
		Observed:       s.counters.observed.Load(),
		Discarded:      s.counters.discarded.Load(),
		Replied:        s.counters.replied.Load(),
		ReplyErrors:    s.counters.replyErrors.Load(),
		ObserverPanics: s.counters.observerPanics.Load(),
	}
}

// IsRunning reports whether Run is active.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}
