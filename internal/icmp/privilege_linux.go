//go:build linux

package icmp

import (
	"os"

	"golang.org/x/sys/unix"
)

// HasRawSocketPrivilege reports whether the process can open raw ICMP
// sockets: it runs as root or holds CAP_NET_RAW in its effective set.
func HasRawSocketPrivilege() bool {
	if os.Geteuid() == 0 {
		return true
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	// Version 3 fills two data structs (capabilities 0-31 and 32-63).
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false
	}

	return data[unix.CAP_NET_RAW/32].Effective&(1<<(unix.CAP_NET_RAW%32)) != 0
}
