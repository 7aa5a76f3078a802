package relay

import (
	"time"

	"github.com/postalsys/wg-relay/internal/routing"
)

// Defaults for a relay with no explicit configuration.
const (
	DefaultBind       = "0.0.0.0:5678"
	DefaultWorkers    = 1
	DefaultBufferSize = 2048
)

// Config holds configuration for a relay server.
type Config struct {
	// Target is the address all peer traffic is forwarded to.
	// Must be set, see ResolveTarget.
	Target string

	// Bind is the local UDP address to listen on.
	Bind string

	// Workers is the number of concurrent receive loops. Must be >= 1.
	Workers int

	// BufferSize is the per-worker receive buffer. Longer datagrams are
	// truncated by the kernel and forwarded truncated.
	BufferSize int

	// ReadBuffer and WriteBuffer set SO_RCVBUF / SO_SNDBUF on the socket.
	// 0 keeps the system default.
	ReadBuffer  int
	WriteBuffer int

	// SessionValidTime is how long a session survives after its last
	// handshake initiation before a sweep may drop it.
	SessionValidTime time.Duration

	// ExposeSessions forces a locked session table so that Sessions can be
	// called from outside the workers, e.g. by the health server.
	ExposeSessions bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Bind:             DefaultBind,
		Workers:          DefaultWorkers,
		BufferSize:       DefaultBufferSize,
		SessionValidTime: routing.DefaultSessionValidTime,
	}
}

// concurrentTable reports whether the session table needs locking.
func (c *Config) concurrentTable() bool {
	return c.Workers > 1 || c.ExposeSessions
}
