package icmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint16
	}{
		{"empty", nil, 0xffff},
		{"single zero word", []byte{0, 0}, 0xffff},
		{"all ones word", []byte{0xff, 0xff}, 0x0000},
		{"odd length pads low byte", []byte{0x01}, 0xfeff},
		{"odd length three bytes", []byte{0x00, 0x01, 0xf2}, ^uint16(0x0001 + 0xf200)},
		// RFC 1071 section 3 example: 0001 f203 f4f5 f6f7 sums to ddf2.
		{"rfc1071 example", []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}, ^uint16(0xddf2)},
		{"carry folds", []byte{0xff, 0xff, 0x00, 0x01}, ^uint16(0x0001)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.in))
		})
	}
}

func TestChecksum_VerifiesToZero(t *testing.T) {
	b := []byte{0x08, 0x00, 0x00, 0x00, 0x12, 0x34, 0x00, 0x07, 'p', 'i', 'n', 'g', '!'}
	SetChecksum(b)

	assert.Equal(t, uint16(0), Checksum(b))
}

func TestChecksum_RepeatedFolding(t *testing.T) {
	// Enough 0xffff words to carry more than once past 16 bits.
	b := make([]byte, 2*70000)
	for i := range b {
		b[i] = 0xff
	}

	assert.Equal(t, uint16(0), Checksum(b))
}

func TestSetChecksum_ShortBufferUntouched(t *testing.T) {
	b := []byte{8, 0, 0xaa, 0xbb}
	SetChecksum(b)

	assert.Equal(t, []byte{8, 0, 0xaa, 0xbb}, b)
}

func TestSetChecksum_OverwritesStaleValue(t *testing.T) {
	b := NewEchoMessage(1, 1, []byte("x")).Encode()
	b[2], b[3] = 0x12, 0x34
	SetChecksum(b)

	assert.Equal(t, uint16(0), Checksum(b))
}
