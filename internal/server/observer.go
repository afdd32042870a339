package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/logging"
)

// Observation is one decoded echo message seen by the server.
type Observation struct {
	Source     net.IP
	Type       icmp.Type
	Identifier uint16
	Sequence   uint16
	// Payload is shared by every observer and must not be modified.
	Payload    []byte
	Size       int
	ReceivedAt time.Time
}

// Observer receives every decoded echo message. Observe runs on the receive
// loop; a panic is recovered and logged.
type Observer interface {
	Observe(ctx context.Context, obs Observation)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, obs Observation)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, obs Observation) {
	f(ctx, obs)
}

// LogObserver logs one line per observation at info level.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver writing to logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// Observe logs obs.
func (o *LogObserver) Observe(ctx context.Context, obs Observation) {
	o.logger.InfoContext(ctx, "echo observed",
		logging.KeySource, obs.Source,
		logging.KeyType, obs.Type.String(),
		logging.KeyIdentifier, logging.Hex16(obs.Identifier),
		logging.KeySequence, obs.Sequence,
		logging.KeyPayload, string(obs.Payload),
		logging.KeySize, obs.Size)
}
