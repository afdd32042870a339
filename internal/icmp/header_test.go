package icmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"
)

func ipv4Prefixed(t *testing.T, icmpMsg []byte) []byte {
	t.Helper()

	hdr := ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(icmpMsg),
		TTL:      64,
		Protocol: ICMPv4ProtocolNumber,
		Src:      []byte{10, 0, 0, 1},
		Dst:      []byte{10, 0, 0, 2},
	}
	b, err := hdr.Marshal()
	require.NoError(t, err)
	return append(b, icmpMsg...)
}

func TestStripIPv4Header_IHL5(t *testing.T) {
	inner := NewEchoMessage(0x04D2, 1, []byte("hello")).Encode()
	buf := ipv4Prefixed(t, inner)
	require.Equal(t, byte(0x45), buf[0])

	got := StripIPv4Header(buf)

	assert.Equal(t, inner, got)
	// The result is a view into the input.
	assert.Same(t, &buf[20], &got[0])
}

func TestStripIPv4Header_FillerHeader(t *testing.T) {
	inner := NewEchoMessage(7, 8, []byte("payload")).Encode()
	buf := append([]byte{0x45}, make([]byte, 19)...)
	buf = append(buf, inner...)

	assert.Equal(t, inner, StripIPv4Header(buf))
}

func TestStripIPv4Header_WithOptions(t *testing.T) {
	inner := NewEchoMessage(1, 2, []byte("opts")).Encode()
	// IHL 6: 24-byte header with one word of options.
	buf := append([]byte{0x46}, make([]byte, 23)...)
	buf = append(buf, inner...)

	assert.Equal(t, inner, StripIPv4Header(buf))
}

func TestStripIPv4Header_PassThrough(t *testing.T) {
	bare := NewEchoMessage(1, 2, make([]byte, 24)).Encode()

	tests := []struct {
		name string
		in   []byte
	}{
		{"nil", nil},
		{"bare echo request", bare},
		{"version 6", append([]byte{0x60}, make([]byte, 39)...)},
		{"version 4 but shorter than header", append([]byte{0x45}, make([]byte, 10)...)},
		{"ihl below minimum", append([]byte{0x44}, make([]byte, 30)...)},
		{"ihl overruns buffer", append([]byte{0x4f}, make([]byte, 30)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripIPv4Header(tt.in)
			assert.Equal(t, tt.in, got)
			if len(tt.in) > 0 {
				assert.Same(t, &tt.in[0], &got[0])
			}
		})
	}
}

func TestStripIPv4Header_NonIPv4FirstNibble(t *testing.T) {
	for first := 0; first < 256; first++ {
		if first>>4 == 4 {
			continue
		}
		buf := append([]byte{byte(first)}, make([]byte, 40)...)
		assert.Equal(t, buf, StripIPv4Header(buf), "first byte 0x%02x", first)
	}
}

func TestStripIPv4Header_HeaderOnly(t *testing.T) {
	// IHL equal to the buffer length leaves an empty ICMP part, which
	// Decode then rejects as too short.
	buf := append([]byte{0x45}, make([]byte, 19)...)

	got := StripIPv4Header(buf)
	assert.Len(t, got, 0)

	_, err := Decode(got)
	assert.ErrorIs(t, err, ErrTooShort)
}
