package icmp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	xicmp "golang.org/x/net/icmp"
)

// ICMPv4ProtocolNumber is the IANA protocol number for ICMP.
const ICMPv4ProtocolNumber = 1

// Socket networks accepted by Listen.
const (
	// NetworkRaw is a raw ICMPv4 socket. It sees every ICMP datagram
	// delivered to the host and needs root or CAP_NET_RAW.
	NetworkRaw = "ip4:icmp"
	// NetworkUnprivileged is a Linux datagram ping socket. It only sees
	// replies to its own requests and needs net.ipv4.ping_group_range.
	NetworkUnprivileged = "udp4"
)

// ErrTransport marks failures of the underlying socket. Both the client and
// the server treat them as fatal.
var ErrTransport = errors.New("icmp transport failure")

// Transport is the datagram boundary the client and server flows drive.
// Socket is the production implementation.
type Transport interface {
	// Send writes one ICMP message to dst and returns the bytes written.
	Send(b []byte, dst net.IP) (int, error)

	// Receive blocks for one datagram, writes it into b and returns its
	// length and source address.
	Receive(b []byte) (int, net.IP, error)

	// SetReadDeadline bounds the next Receive. The zero time removes the bound.
	SetReadDeadline(t time.Time) error

	// Close releases the socket.
	Close() error
}

// Socket is an ICMPv4 socket built on golang.org/x/net/icmp.
type Socket struct {
	conn    *xicmp.PacketConn
	network string
}

// Listen opens an ICMPv4 socket as described by cfg.
func Listen(cfg SocketConfig) (*Socket, error) {
	network := cfg.Network
	if network == "" {
		network = NetworkRaw
	}
	address := cfg.Address
	if address == "" {
		address = "0.0.0.0"
	}

	conn, err := xicmp.ListenPacket(network, address)
	if err != nil {
		if network == NetworkRaw && !HasRawSocketPrivilege() {
			return nil, fmt.Errorf("create raw ICMP socket (requires root or CAP_NET_RAW): %w", err)
		}
		return nil, fmt.Errorf("create ICMP socket: %w", err)
	}

	if cfg.TTL > 0 {
		if p := conn.IPv4PacketConn(); p != nil {
			if err := p.SetTTL(cfg.TTL); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set TTL %d: %w", cfg.TTL, err)
			}
		}
	}

	return &Socket{conn: conn, network: network}, nil
}

// Network returns the network the socket was opened on.
func (s *Socket) Network() string {
	return s.network
}

// LocalAddr returns the local address of the socket.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Send writes b to dst. Only IPv4 destinations are accepted.
func (s *Socket) Send(b []byte, dst net.IP) (int, error) {
	ip4 := dst.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("%w: destination %v is not an IPv4 address", ErrTransport, dst)
	}

	// Ping sockets are addressed like UDP sockets.
	var addr net.Addr = &net.IPAddr{IP: ip4}
	if s.network == NetworkUnprivileged {
		addr = &net.UDPAddr{IP: ip4}
	}

	n, err := s.conn.WriteTo(b, addr)
	if err != nil {
		return n, fmt.Errorf("%w: send to %v: %w", ErrTransport, ip4, err)
	}
	return n, nil
}

// Receive reads one datagram into b.
func (s *Socket) Receive(b []byte) (int, net.IP, error) {
	n, peer, err := s.conn.ReadFrom(b)
	if err != nil {
		return n, nil, fmt.Errorf("%w: receive: %w", ErrTransport, err)
	}
	return n, peerIP(peer), nil
}

// SetReadDeadline bounds the next Receive.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close closes the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}
