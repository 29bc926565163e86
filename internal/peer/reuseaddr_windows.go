//go:build windows

package peer

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setReuseAddr sets SO_REUSEADDR so the fixed self and liveness ports can be
// rebound right after a previous instance on this host went away.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
