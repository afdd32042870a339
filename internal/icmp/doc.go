// Package icmp implements the ICMPv4 echo wire format and the socket it
// travels over.
//
// # Wire format
//
// An echo message is a fixed 8-byte header followed by an opaque payload,
// big-endian throughout:
//
//	0       1       2               4               6               8
//	+-------+-------+---------------+---------------+---------------+---------
//	| type  | code  |   checksum    |  identifier   |   sequence    | payload
//	+-------+-------+---------------+---------------+---------------+---------
//
// Type is 8 for a request and 0 for a reply; code is always 0. The checksum is
// the RFC 1071 one's-complement sum over the whole message, computed with the
// checksum field zeroed. Verifying a received message is the same sum over the
// bytes as received, which must come out as 0.
//
// # Raw sockets
//
// Raw ICMPv4 sockets ("ip4:icmp") may hand back datagrams with the IPv4 header
// in front of the ICMP message. StripIPv4Header removes it when present.
// Opening a raw socket needs root or CAP_NET_RAW on Linux:
//
//	sudo setcap cap_net_raw+ep ./poping
//
// Unprivileged ping sockets ("udp4") need the ping_group_range sysctl instead:
//
//	sysctl -w net.ipv4.ping_group_range="0 65535"
//
// The host kernel answers echo requests addressed to it before any user-space
// listener sees them, so a listener on a raw socket is an observer.
package icmp
