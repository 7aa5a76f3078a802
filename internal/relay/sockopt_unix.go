//go:build unix

package relay

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl returns a net.ListenConfig control function that sizes the
// socket buffers, or nil when both sizes are left to the system.
func socketControl(readBuffer, writeBuffer int) func(network, address string, c syscall.RawConn) error {
	if readBuffer <= 0 && writeBuffer <= 0 {
		return nil
	}

	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if readBuffer > 0 {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, readBuffer); err != nil {
					opErr = fmt.Errorf("set SO_RCVBUF: %w", err)
					return
				}
			}
			if writeBuffer > 0 {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, writeBuffer); err != nil {
					opErr = fmt.Errorf("set SO_SNDBUF: %w", err)
				}
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
