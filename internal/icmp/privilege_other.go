//go:build !linux

package icmp

import "os"

// HasRawSocketPrivilege reports whether the process runs as root.
// On Windows this is always false; raw sockets there need an elevated token
// which is only discovered when the socket is opened.
func HasRawSocketPrivilege() bool {
	return os.Geteuid() == 0
}
