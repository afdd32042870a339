package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}

	if m.RequestsSent == nil {
		t.Error("RequestsSent metric is nil")
	}
	if m.DecodeErrors == nil {
		t.Error("DecodeErrors metric is nil")
	}
	if m.ExchangeRTT == nil {
		t.Error("ExchangeRTT metric is nil")
	}
}

func TestRecordRequestAndReply(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRequestSent()
	m.RecordRequestSent()
	m.RecordReply(0.002)

	if got := testutil.ToFloat64(m.RequestsSent); got != 2 {
		t.Errorf("RequestsSent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RepliesReceived); got != 1 {
		t.Errorf("RepliesReceived = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ExchangeRTT); got != 1 {
		t.Errorf("ExchangeRTT series = %v, want 1", got)
	}
}

func TestRecordExchangeFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordExchangeFailure("timeout")
	m.RecordExchangeFailure("timeout")
	m.RecordExchangeFailure("bad_checksum")

	if got := testutil.ToFloat64(m.ExchangeFailures.WithLabelValues("timeout")); got != 2 {
		t.Errorf("ExchangeFailures[timeout] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ExchangeFailures.WithLabelValues("bad_checksum")); got != 1 {
		t.Errorf("ExchangeFailures[bad_checksum] = %v, want 1", got)
	}
}

func TestRecordDatagram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordDatagram(33)
	m.RecordDatagram(100)

	if got := testutil.ToFloat64(m.DatagramsReceived); got != 2 {
		t.Errorf("DatagramsReceived = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 133 {
		t.Errorf("BytesReceived = %v, want 133", got)
	}
}

func TestRecordObservationAndDecodeError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordObservation("echo-request")
	m.RecordObservation("echo-reply")
	m.RecordObservation("echo-request")
	m.RecordDecodeError("too_short")

	if got := testutil.ToFloat64(m.Observations.WithLabelValues("echo-request")); got != 2 {
		t.Errorf("Observations[echo-request] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Observations.WithLabelValues("echo-reply")); got != 1 {
		t.Errorf("Observations[echo-reply] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecodeErrors.WithLabelValues("too_short")); got != 1 {
		t.Errorf("DecodeErrors[too_short] = %v, want 1", got)
	}
}

func TestRecordResponder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordReplySent()
	m.RecordReplyError()
	m.RecordObserverPanic()

	if got := testutil.ToFloat64(m.RepliesSent); got != 1 {
		t.Errorf("RepliesSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReplyErrors); got != 1 {
		t.Errorf("ReplyErrors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ObserverPanics); got != 1 {
		t.Errorf("ObserverPanics = %v, want 1", got)
	}
}

func TestRecordStoreWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordStoreWrite(nil)
	m.RecordStoreWrite(nil)
	m.RecordStoreWrite(errors.New("disk full"))

	if got := testutil.ToFloat64(m.StoreWrites.WithLabelValues("ok")); got != 2 {
		t.Errorf("StoreWrites[ok] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StoreWrites.WithLabelValues("error")); got != 1 {
		t.Errorf("StoreWrites[error] = %v, want 1", got)
	}
}

func TestRecordChaosFault(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordChaosFault("drop")
	m.RecordChaosFault("drop")
	m.RecordChaosFault("corrupt")

	if got := testutil.ToFloat64(m.ChaosFaults.WithLabelValues("drop")); got != 2 {
		t.Errorf("ChaosFaults[drop] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChaosFaults.WithLabelValues("corrupt")); got != 1 {
		t.Errorf("ChaosFaults[corrupt] = %v, want 1", got)
	}
}

func TestDefault(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return the same instance")
	}
}
