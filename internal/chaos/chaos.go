// Package chaos provides fault injection for the receive path. It wraps an
// icmp.Transport and drops, corrupts, truncates or delays datagrams so the
// decode-error handling of both flows can be exercised against a live socket.
package chaos

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/metrics"
)

// FaultType represents the type of fault to inject.
type FaultType int

const (
	// FaultNone means no fault was injected.
	FaultNone FaultType = iota - 1
	// FaultDrop discards a received datagram.
	FaultDrop
	// FaultCorrupt flips one bit of the ICMP message.
	FaultCorrupt
	// FaultTruncate cuts the ICMP message below its header length.
	FaultTruncate
	// FaultDelay holds a datagram back before returning it.
	FaultDelay
)

// String returns a human-readable name for the fault.
func (f FaultType) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultDrop:
		return "drop"
	case FaultCorrupt:
		return "corrupt"
	case FaultTruncate:
		return "truncate"
	case FaultDelay:
		return "delay"
	default:
		return "unknown"
	}
}

// FaultConfig configures fault injection behavior.
type FaultConfig struct {
	// Probability is the chance of fault injection (0.0 to 1.0).
	Probability float64

	// Type is the type of fault to inject.
	Type FaultType

	// MinDelay is the minimum delay to add for FaultDelay.
	MinDelay time.Duration

	// MaxDelay is the maximum delay to add for FaultDelay.
	MaxDelay time.Duration
}

// FaultInjector decides which fault, if any, applies to a datagram.
type FaultInjector struct {
	configs   []FaultConfig
	mu        sync.Mutex
	rng       *rand.Rand
	faultHits map[FaultType]int64
	metrics   *metrics.Metrics
}

// NewFaultInjector creates a new fault injector seeded from the clock.
func NewFaultInjector(configs ...FaultConfig) *FaultInjector {
	return NewSeededFaultInjector(time.Now().UnixNano(), configs...)
}

// NewSeededFaultInjector creates a fault injector with a fixed seed.
func NewSeededFaultInjector(seed int64, configs ...FaultConfig) *FaultInjector {
	return &FaultInjector{
		configs:   configs,
		rng:       rand.New(rand.NewSource(seed)),
		faultHits: make(map[FaultType]int64),
	}
}

// WithMetrics records every injected fault in m and returns f.
func (f *FaultInjector) WithMetrics(m *metrics.Metrics) *FaultInjector {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = m
	return f
}

// Next picks the fault for one datagram. Configs are tried in order; the
// first that fires wins. The delay is only set for FaultDelay.
func (f *FaultInjector) Next() (FaultType, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, cfg := range f.configs {
		if f.rng.Float64() < cfg.Probability {
			f.faultHits[cfg.Type]++
			if f.metrics != nil {
				f.metrics.RecordChaosFault(cfg.Type.String())
			}
			if cfg.Type == FaultDelay {
				return FaultDelay, f.randomDelay(cfg.MinDelay, cfg.MaxDelay)
			}
			return cfg.Type, 0
		}
	}

	return FaultNone, 0
}

// Intn returns a random int in [0, n) from the injector's source.
func (f *FaultInjector) Intn(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Intn(n)
}

// GetStats returns the fault injection statistics.
func (f *FaultInjector) GetStats() map[FaultType]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := make(map[FaultType]int64)
	for k, v := range f.faultHits {
		stats[k] = v
	}
	return stats
}

func (f *FaultInjector) randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(f.rng.Int63n(int64(max-min)))
}

// Transport wraps an icmp.Transport and applies injected faults to every
// datagram it receives. Sends pass through untouched.
type Transport struct {
	icmp.Transport
	injector *FaultInjector
	sleep    func(time.Duration)
}

var _ icmp.Transport = (*Transport)(nil)

// Wrap returns t with faults from injector applied on receive.
func Wrap(t icmp.Transport, injector *FaultInjector) *Transport {
	return &Transport{Transport: t, injector: injector, sleep: time.Sleep}
}

// Receive reads from the wrapped transport and applies one fault.
// Dropped datagrams are skipped and the next one is read.
func (t *Transport) Receive(b []byte) (int, net.IP, error) {
	for {
		n, src, err := t.Transport.Receive(b)
		if err != nil {
			return n, src, err
		}

		fault, delay := t.injector.Next()
		switch fault {
		case FaultDrop:
			continue
		case FaultCorrupt:
			off := messageOffset(b[:n])
			if n > off {
				i := off + t.injector.Intn(n-off)
				b[i] ^= 1 << t.injector.Intn(8)
			}
		case FaultTruncate:
			off := messageOffset(b[:n])
			if n > off {
				n = off + t.injector.Intn(min(n-off, icmp.HeaderLen))
			}
		case FaultDelay:
			t.sleep(delay)
		}
		return n, src, nil
	}
}

// messageOffset returns where the ICMP message starts inside a datagram.
func messageOffset(b []byte) int {
	return len(b) - len(icmp.StripIPv4Header(b))
}
