//go:build unix

package bridge

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// init arranges for every socket listenConfig opens to have SO_REUSEADDR
// set before bind, so restarting the bridge doesn't have to wait out a
// previous socket's TIME_WAIT.
func init() {
	listenConfig.Control = func(network, address string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return sockErr
	}
}
