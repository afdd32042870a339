package chaos

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/icmp/icmptest"
	"github.com/postalsys/poping/internal/metrics"
)

var src = net.IPv4(192, 0, 2, 5)

func TestFaultInjector_Basic(t *testing.T) {
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultDrop,
		Probability: 1.0, // Always inject
	})

	if fault, _ := injector.Next(); fault != FaultDrop {
		t.Errorf("Next() = %v, want drop", fault)
	}

	stats := injector.GetStats()
	if stats[FaultDrop] != 1 {
		t.Errorf("expected 1 drop hit, got %d", stats[FaultDrop])
	}
}

func TestFaultInjector_Metrics(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultCorrupt,
		Probability: 1.0,
	}).WithMetrics(m)

	for i := 0; i < 3; i++ {
		injector.Next()
	}

	if got := testutil.ToFloat64(m.ChaosFaults.WithLabelValues("corrupt")); got != 3 {
		t.Errorf("chaos faults[corrupt] = %v, want 3", got)
	}
	if hits := injector.GetStats()[FaultCorrupt]; hits != 3 {
		t.Errorf("expected 3 corrupt hits, got %d", hits)
	}
}

func TestFaultInjector_Probability(t *testing.T) {
	// 0% probability - should never inject
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultCorrupt,
		Probability: 0.0,
	})

	for i := 0; i < 100; i++ {
		if fault, _ := injector.Next(); fault != FaultNone {
			t.Fatalf("expected no fault with 0%% probability, got %v", fault)
		}
	}
}

func TestFaultInjector_FirstMatchWins(t *testing.T) {
	injector := NewFaultInjector(
		FaultConfig{Type: FaultTruncate, Probability: 1.0},
		FaultConfig{Type: FaultDrop, Probability: 1.0},
	)

	if fault, _ := injector.Next(); fault != FaultTruncate {
		t.Errorf("Next() = %v, want truncate", fault)
	}
	if injector.GetStats()[FaultDrop] != 0 {
		t.Error("later configs should not be counted")
	}
}

func TestFaultInjector_Delay(t *testing.T) {
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultDelay,
		Probability: 1.0,
		MinDelay:    10 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	})

	fault, delay := injector.Next()
	if fault != FaultDelay {
		t.Fatalf("Next() = %v, want delay", fault)
	}
	if delay < 10*time.Millisecond || delay > 20*time.Millisecond {
		t.Errorf("delay %v outside expected range [10ms, 20ms]", delay)
	}
}

func TestFaultType_String(t *testing.T) {
	tests := map[FaultType]string{
		FaultNone:     "none",
		FaultDrop:     "drop",
		FaultCorrupt:  "corrupt",
		FaultTruncate: "truncate",
		FaultDelay:    "delay",
		FaultType(42): "unknown",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("FaultType(%d).String() = %q, want %q", f, got, want)
		}
	}
}

func receiveOne(t *testing.T, tr *Transport) []byte {
	t.Helper()
	buf := make([]byte, icmp.DefaultReceiveBufferSize)
	n, _, err := tr.Receive(buf)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	return buf[:n]
}

func TestTransport_PassThrough(t *testing.T) {
	inner := icmptest.NewTransport()
	defer inner.Close()
	tr := Wrap(inner, NewFaultInjector())

	msg := icmp.NewEchoMessage(1, 2, []byte("clean")).Encode()
	inner.Push(msg, src)

	got := receiveOne(t, tr)
	if _, err := icmp.Decode(got); err != nil {
		t.Errorf("Decode() error = %v, want clean datagram", err)
	}
}

func TestTransport_Drop(t *testing.T) {
	inner := icmptest.NewTransport()
	defer inner.Close()

	injector := NewFaultInjector(FaultConfig{Type: FaultDrop, Probability: 1.0})
	tr := Wrap(inner, injector)

	inner.Push(icmp.NewEchoMessage(1, 1, nil).Encode(), src)
	inner.Push(icmp.NewEchoMessage(1, 2, nil).Encode(), src)
	inner.SetReadDeadline(time.Now().Add(50 * time.Millisecond))

	// Every datagram is dropped, so the read runs into the deadline.
	_, _, err := tr.Receive(make([]byte, 64))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Receive() error = %v, want deadline exceeded", err)
	}
	if hits := injector.GetStats()[FaultDrop]; hits != 2 {
		t.Errorf("expected 2 drop hits, got %d", hits)
	}
}

func TestTransport_CorruptIsDetected(t *testing.T) {
	inner := icmptest.NewTransport()
	defer inner.Close()
	tr := Wrap(inner, NewSeededFaultInjector(7, FaultConfig{Type: FaultCorrupt, Probability: 1.0}))

	for i := 0; i < 50; i++ {
		msg := icmp.NewEchoMessage(0x04D2, uint16(i), []byte("corrupt me"))
		inner.Push(icmptest.WithIPv4Header(msg.Encode(), src), src)

		got := receiveOne(t, tr)
		if _, err := icmp.Decode(icmp.StripIPv4Header(got)); !icmp.IsDecodeError(err) {
			t.Fatalf("iteration %d: Decode() error = %v, want a decode error", i, err)
		}
	}
}

func TestTransport_TruncateIsTooShort(t *testing.T) {
	inner := icmptest.NewTransport()
	defer inner.Close()
	tr := Wrap(inner, NewSeededFaultInjector(11, FaultConfig{Type: FaultTruncate, Probability: 1.0}))

	for i := 0; i < 20; i++ {
		inner.Push(icmp.NewEchoMessage(1, uint16(i), []byte("long enough payload")).Encode(), src)

		got := receiveOne(t, tr)
		if _, err := icmp.Decode(icmp.StripIPv4Header(got)); !errors.Is(err, icmp.ErrTooShort) {
			t.Fatalf("iteration %d: Decode() error = %v, want ErrTooShort", i, err)
		}
	}
}

func TestTransport_Delay(t *testing.T) {
	inner := icmptest.NewTransport()
	defer inner.Close()
	tr := Wrap(inner, NewFaultInjector(FaultConfig{
		Type:        FaultDelay,
		Probability: 1.0,
		MinDelay:    time.Second,
		MaxDelay:    time.Second,
	}))

	var slept time.Duration
	tr.sleep = func(d time.Duration) { slept += d }

	inner.Push(icmp.NewEchoMessage(1, 1, nil).Encode(), src)
	receiveOne(t, tr)

	if slept != time.Second {
		t.Errorf("slept %v, want 1s", slept)
	}
}

func TestTransport_ErrorsPassThrough(t *testing.T) {
	inner := icmptest.NewTransport()
	defer inner.Close()
	tr := Wrap(inner, NewFaultInjector(FaultConfig{Type: FaultDrop, Probability: 1.0}))

	boom := errors.New("boom")
	inner.PushError(boom)

	_, _, err := tr.Receive(make([]byte, 64))
	if !errors.Is(err, boom) {
		t.Errorf("Receive() error = %v, want boom", err)
	}
}

func TestTransport_SendUntouched(t *testing.T) {
	inner := icmptest.NewTransport()
	defer inner.Close()
	tr := Wrap(inner, NewFaultInjector(FaultConfig{Type: FaultCorrupt, Probability: 1.0}))

	b := icmp.NewEchoMessage(1, 1, []byte("out")).Encode()
	if _, err := tr.Send(b, src); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	sent := inner.SentDatagrams()
	if len(sent) != 1 || icmp.Checksum(sent[0].Data) != 0 {
		t.Errorf("sent datagram altered: %v", sent)
	}
}
