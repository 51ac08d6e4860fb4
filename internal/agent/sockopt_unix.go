//go:build unix

package agent

import (
	"net"
	"syscall"
)

// enableBroadcast sets SO_BROADCAST, without which sends to a directed
// broadcast address fail with EACCES.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
