package icmp

// DefaultReceiveBufferSize is the per-datagram receive buffer. It covers a
// maximum-size IPv4 header plus a typical echo payload.
const DefaultReceiveBufferSize = 2048

// SocketConfig holds configuration for an ICMP socket.
type SocketConfig struct {
	// Network is NetworkRaw or NetworkUnprivileged.
	// Empty means NetworkRaw.
	Network string

	// Address is the local address to bind. Empty means 0.0.0.0.
	Address string

	// ReceiveBufferSize is the size of the buffer allocated for every read.
	// Datagrams longer than this are truncated by the kernel.
	ReceiveBufferSize int

	// TTL sets the IPv4 time-to-live of outgoing datagrams.
	// 0 keeps the system default.
	TTL int
}

// DefaultSocketConfig returns a SocketConfig with sensible defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Network:           NetworkRaw,
		Address:           "0.0.0.0",
		ReceiveBufferSize: DefaultReceiveBufferSize,
	}
}

// BufferSize returns the receive buffer size, falling back to the default.
func (c SocketConfig) BufferSize() int {
	if c.ReceiveBufferSize <= 0 {
		return DefaultReceiveBufferSize
	}
	return c.ReceiveBufferSize
}
