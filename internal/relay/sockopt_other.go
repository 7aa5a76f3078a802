//go:build !unix

package relay

import "syscall"

// socketControl is a no-op on platforms without unix socket options; the
// system default buffer sizes are used.
func socketControl(readBuffer, writeBuffer int) func(network, address string, c syscall.RawConn) error {
	return nil
}
