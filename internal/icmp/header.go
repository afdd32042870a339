package icmp

import "golang.org/x/net/ipv4"

// StripIPv4Header returns the ICMP part of a raw-socket read.
//
// Raw ICMPv4 sockets may deliver the datagram with its IPv4 header still
// attached. When b starts with something that looks like an IPv4 header whose
// IHL fits inside b, the suffix after the header is returned. In every other
// case b is returned unchanged and treated as a bare ICMP message. The result
// aliases b; nothing is copied.
func StripIPv4Header(b []byte) []byte {
	if len(b) < ipv4.HeaderLen || int(b[0]>>4) != ipv4.Version {
		return b
	}

	hdrLen := int(b[0]&0x0f) << 2
	if hdrLen < ipv4.HeaderLen || hdrLen > len(b) {
		return b
	}

	return b[hdrLen:]
}
