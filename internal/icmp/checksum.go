package icmp

import "encoding/binary"

// Checksum computes the RFC 1071 Internet checksum over b.
//
// The same function computes and verifies: called on a message whose checksum
// field is zero it yields the value to store there, and called on a message
// as received it yields 0 when the stored checksum is correct.
func Checksum(b []byte) uint16 {
	var sum uint64

	n := len(b)
	if n&1 != 0 {
		n--
		sum += uint64(b[n]) << 8
	}

	for i := 0; i < n; i += 2 {
		sum += uint64(binary.BigEndian.Uint16(b[i : i+2]))
	}

	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}

	return ^uint16(sum)
}

// SetChecksum zeroes the checksum field of the ICMP message in b, computes the
// checksum over the whole message and writes it back big-endian.
// Buffers shorter than the ICMP header are left untouched.
func SetChecksum(b []byte) {
	if len(b) < HeaderLen {
		return
	}

	b[2], b[3] = 0, 0
	binary.BigEndian.PutUint16(b[2:4], Checksum(b))
}
