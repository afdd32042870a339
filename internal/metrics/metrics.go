// Package metrics provides Prometheus metrics for poping.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "poping"
)

// Metrics contains all Prometheus metrics for the client and server flows.
type Metrics struct {
	// Client metrics
	RequestsSent     prometheus.Counter
	RepliesReceived  prometheus.Counter
	ExchangeFailures *prometheus.CounterVec
	ExchangeRTT      prometheus.Histogram

	// Server metrics
	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	Observations      *prometheus.CounterVec
	RepliesSent       prometheus.Counter
	ReplyErrors       prometheus.Counter
	ObserverPanics    prometheus.Counter

	// Codec metrics
	DecodeErrors *prometheus.CounterVec

	// Store metrics
	StoreWrites *prometheus.CounterVec

	// Fault injection metrics
	ChaosFaults *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_requests_sent_total",
			Help:      "Total number of echo requests sent by the client",
		}),
		RepliesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_replies_received_total",
			Help:      "Total number of decoded replies received by the client",
		}),
		ExchangeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_failures_total",
			Help:      "Total client exchanges that failed, by reason",
		}, []string{"reason"}),
		ExchangeRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_rtt_seconds",
			Help:      "Histogram of echo round-trip time in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams read from the ICMP socket by the server",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the ICMP socket by the server",
		}),
		Observations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Total decoded echo messages observed, by ICMP type",
		}, []string{"type"}),
		RepliesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_replies_sent_total",
			Help:      "Total echo replies sent by the server responder",
		}),
		ReplyErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_reply_errors_total",
			Help:      "Total echo replies the responder failed to send",
		}),
		ObserverPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_panics_total",
			Help:      "Total panics recovered from observers",
		}),

		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total datagrams that failed to decode, by reason",
		}, []string{"reason"}),

		StoreWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Total observation store writes, by result",
		}, []string{"result"}),

		ChaosFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chaos_faults_total",
			Help:      "Total faults injected into received datagrams, by type",
		}, []string{"type"}),
	}
}

// RecordRequestSent records an echo request written to the socket.
func (m *Metrics) RecordRequestSent() {
	m.RequestsSent.Inc()
}

// RecordReply records a decoded reply and its round-trip time.
func (m *Metrics) RecordReply(rttSeconds float64) {
	m.RepliesReceived.Inc()
	m.ExchangeRTT.Observe(rttSeconds)
}

// RecordExchangeFailure records a failed client exchange.
func (m *Metrics) RecordExchangeFailure(reason string) {
	m.ExchangeFailures.WithLabelValues(reason).Inc()
}

// RecordDatagram records a datagram read by the server.
func (m *Metrics) RecordDatagram(bytes int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordObservation records a decoded echo message by type.
func (m *Metrics) RecordObservation(msgType string) {
	m.Observations.WithLabelValues(msgType).Inc()
}

// RecordDecodeError records a discarded datagram.
func (m *Metrics) RecordDecodeError(reason string) {
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

// RecordReplySent records a responder reply.
func (m *Metrics) RecordReplySent() {
	m.RepliesSent.Inc()
}

// RecordReplyError records a responder send failure.
func (m *Metrics) RecordReplyError() {
	m.ReplyErrors.Inc()
}

// RecordObserverPanic records a panic recovered from an observer.
func (m *Metrics) RecordObserverPanic() {
	m.ObserverPanics.Inc()
}

// RecordStoreWrite records an observation store write.
func (m *Metrics) RecordStoreWrite(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreWrites.WithLabelValues(result).Inc()
}

// RecordChaosFault records a fault injected into a received datagram.
func (m *Metrics) RecordChaosFault(faultType string) {
	m.ChaosFaults.WithLabelValues(faultType).Inc()
}
