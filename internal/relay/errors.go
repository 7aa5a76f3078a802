package relay

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/postalsys/wg-relay/internal/recovery"
)

// Relay errors
var (
	ErrShortWrite     = errors.New("short write")
	ErrAlreadyRunning = errors.New("relay already running")
	ErrNoTarget       = errors.New("target address is required")
	ErrInvalidWorkers = errors.New("worker count must be at least 1")
)

// ShortWriteError reports a datagram that was not sent in full. The socket
// either sends a datagram whole or fails, so this is an invariant
// violation rather than a condition to retry.
type ShortWriteError struct {
	Dest netip.AddrPort
	Sent int
	Want int
}

// Error implements error.
func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write to %s: sent %d of %d bytes", e.Dest, e.Sent, e.Want)
}

// Is matches ErrShortWrite.
func (e *ShortWriteError) Is(target error) bool {
	return target == ErrShortWrite
}

// errorType classifies a worker failure for metrics.
func errorType(err error) string {
	var pe *recovery.PanicError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrShortWrite):
		return "short_write"
	case errors.As(err, &pe):
		return "panic"
	default:
		return "io"
	}
}
