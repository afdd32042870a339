// Package ping implements the client side of an ICMP echo exchange: send one
// request, receive one datagram, decode and report it.
package ping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/logging"
	"github.com/postalsys/poping/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrTimeout is returned when no datagram arrives before Config.Timeout.
var ErrTimeout = errors.New("timed out waiting for echo reply")

// Config holds client configuration.
type Config struct {
	// Timeout bounds the wait for a reply. Zero blocks until a datagram
	// arrives or the context is cancelled.
	Timeout time.Duration

	// BufferSize is the size of the receive buffer allocated per exchange.
	BufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Second,
		BufferSize: icmp.DefaultReceiveBufferSize,
	}
}

// Reply is a datagram the client received and decoded.
type Reply struct {
	Message *icmp.EchoMessage
	Type    icmp.Type
	Source  net.IP
	Size    int
	RTT     time.Duration

	// Checksum is the verification sum over the received message, zero for
	// any reply that decoded.
	Checksum uint16
}

// Matches reports whether r carries the identifier and sequence of req.
// The client never calls it; a ping socket rewrites the identifier.
func (r *Reply) Matches(req *icmp.EchoMessage) bool {
	if r == nil || r.Message == nil || req == nil {
		return false
	}
	return r.Message.Identifier == req.Identifier && r.Message.Sequence == req.Sequence
}

// Client drives echo exchanges over a transport.
type Client struct {
	transport icmp.Transport
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewClient creates a client. A nil logger discards output; nil metrics
// disables recording.
func NewClient(transport icmp.Transport, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	cfg.BufferSize = icmp.SocketConfig{ReceiveBufferSize: cfg.BufferSize}.BufferSize()
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(logging.KeyComponent, "ping"),
		metrics:   m,
	}
}

// Ping sends msg to dst and decodes the first datagram received.
func (c *Client) Ping(ctx context.Context, dst net.IP, msg *icmp.EchoMessage) (*Reply, error) {
	return c.Do(ctx, NewExchange(dst, msg))
}

// Do runs ex to completion. It fails if ex is not idle.
func (c *Client) Do(ctx context.Context, ex *Exchange) (*Reply, error) {
	if ex.State() != StateIdle {
		return nil, fmt.Errorf("exchange is %s, not %s", ex.State(), StateIdle)
	}
	if err := ctx.Err(); err != nil {
		ex.Fail(err)
		return nil, err
	}

	b := ex.Request.Encode()
	n, err := c.transport.Send(b, ex.Destination)
	if err != nil {
		if !errors.Is(err, icmp.ErrTransport) {
			err = fmt.Errorf("%w: %w", icmp.ErrTransport, err)
		}
		return nil, c.fail(ex, fmt.Errorf("send echo request: %w", err))
	}
	ex.MarkSent()
	if c.metrics != nil {
		c.metrics.RecordRequestSent()
	}
	c.logger.Debug("echo request sent",
		logging.KeyDestination, ex.Destination,
		logging.KeyIdentifier, logging.Hex16(ex.Request.Identifier),
		logging.KeySequence, ex.Request.Sequence,
		logging.KeySize, n)

	buf := make([]byte, c.cfg.BufferSize)
	ex.MarkAwaiting()

	n, src, err := c.receive(ctx, buf)
	if err != nil {
		return nil, c.fail(ex, err)
	}

	data := icmp.StripIPv4Header(buf[:n])
	msg, err := icmp.Decode(data)
	if err != nil {
		return nil, c.fail(ex, fmt.Errorf("decode reply from %v: %w", src, err))
	}
	ex.MarkReported()

	reply := &Reply{
		Message:  msg,
		Type:     icmp.TypeOf(data),
		Source:   src,
		Size:     len(data),
		RTT:      ex.RTT(),
		Checksum: icmp.Checksum(data),
	}
	if c.metrics != nil {
		c.metrics.RecordReply(reply.RTT.Seconds())
	}
	c.logger.Debug("echo reply received",
		logging.KeySource, src,
		logging.KeyType, reply.Type,
		logging.KeyIdentifier, logging.Hex16(msg.Identifier),
		logging.KeySequence, msg.Sequence,
		logging.KeyRTT, reply.RTT)

	return reply, nil
}

func (c *Client) receive(ctx context.Context, buf []byte) (int, net.IP, error) {
	var deadline time.Time
	if c.cfg.Timeout > 0 {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	if err := c.transport.SetReadDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("%w: set read deadline: %w", icmp.ErrTransport, err)
	}

	// Cancelling ctx forces the blocked read to return.
	stop := context.AfterFunc(ctx, func() {
		c.transport.SetReadDeadline(time.Now())
	})
	defer stop()

	n, src, err := c.transport.Receive(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		if icmp.IsTimeout(err) {
			return 0, nil, fmt.Errorf("%w after %v", ErrTimeout, c.cfg.Timeout)
		}
		if !errors.Is(err, icmp.ErrTransport) {
			err = fmt.Errorf("%w: %w", icmp.ErrTransport, err)
		}
		return 0, nil, err
	}
	return n, src, nil
}

func (c *Client) fail(ex *Exchange, err error) error {
	ex.Fail(err)
	reason := FailureReason(err)
	if c.metrics != nil {
		c.metrics.RecordExchangeFailure(reason)
	}
	c.logger.Debug("echo exchange failed",
		logging.KeyDestination, ex.Destination,
		logging.KeySequence, ex.Request.Sequence,
		logging.KeyReason, reason,
		logging.KeyError, err)
	return err
}

// FailureReason maps an exchange error to a stable label.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, icmp.ErrTransport):
		return "transport"
	default:
		return icmp.DecodeErrorReason(err)
	}
}

// RunOptions configures a counted sequence of exchanges.
type RunOptions struct {
	// Count is the number of exchanges. Zero or less runs until ctx is done.
	Count int

	// Interval is the minimum spacing between requests. Zero sends
	// back to back.
	Interval time.Duration

	Identifier uint16

	// Sequence is the sequence number of the first request; each following
	// request increments it, wrapping at 65535.
	Sequence uint16

	Payload []byte
}

// Result is the outcome of one exchange in a run.
type Result struct {
	Sequence uint16
	Reply    *Reply
	Err      error
}

// Stats summarizes a run.
type Stats struct {
	Sent     int
	Received int
	Failed   int
	MinRTT   time.Duration
	AvgRTT   time.Duration
	MaxRTT   time.Duration

	total time.Duration
}

// Loss returns the fraction of sent requests without a decoded reply.
func (s Stats) Loss() float64 {
	if s.Sent == 0 {
		return 0
	}
	return float64(s.Sent-s.Received) / float64(s.Sent)
}

func (s *Stats) addRTT(rtt time.Duration) {
	s.Received++
	s.total += rtt
	if s.Received == 1 || rtt < s.MinRTT {
		s.MinRTT = rtt
	}
	if rtt > s.MaxRTT {
		s.MaxRTT = rtt
	}
	s.AvgRTT = s.total / time.Duration(s.Received)
}

// Run performs independent exchanges with dst as described by opts, calling
// onResult after each. Decode failures and timeouts are reported and the run
// continues; a transport failure ends it with that error. Cancelling ctx
// ends the run without error.
func (c *Client) Run(ctx context.Context, dst net.IP, opts RunOptions, onResult func(Result)) (Stats, error) {
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var stats Stats
	for i := 0; opts.Count <= 0 || i < opts.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return stats, nil
		}

		seq := opts.Sequence + uint16(i)
		ex := NewExchange(dst, icmp.NewEchoMessage(opts.Identifier, seq, opts.Payload))
		reply, err := c.Do(ctx, ex)
		if ex.WasSent() {
			stats.Sent++
		}
		if ctx.Err() != nil {
			return stats, nil
		}

		switch {
		case err == nil:
			stats.addRTT(reply.RTT)
		case errors.Is(err, icmp.ErrTransport):
			return stats, err
		default:
			stats.Failed++
		}

		if onResult != nil {
			onResult(Result{Sequence: seq, Reply: reply, Err: err})
		}
	}
	return stats, nil
}
