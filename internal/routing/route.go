package routing

import (
	"net/netip"
	"time"

	"github.com/postalsys/wg-relay/internal/protocol"
)

// DropReason explains why a datagram was not forwarded.
type DropReason int

const (
	// DropNone means the datagram is forwarded.
	DropNone DropReason = iota
	// DropUnparseable means the datagram is not a WireGuard message.
	DropUnparseable
	// DropTargetInitiation means the target sent a message without a receiver index.
	DropTargetInitiation
	// DropUnknownReceiver means the target named a receiver with no session.
	DropUnknownReceiver
	// DropPeerResponse means a non-target address sent a handshake response.
	DropPeerResponse
)

// String returns a label for the reason, used in logs and metrics.
func (r DropReason) String() string {
	switch r {
	case DropNone:
		return "none"
	case DropUnparseable:
		return "unparseable"
	case DropTargetInitiation:
		return "target_initiation"
	case DropUnknownReceiver:
		return "unknown_receiver"
	case DropPeerResponse:
		return "peer_response"
	default:
		return "unknown"
	}
}

// Decision is the outcome of routing one datagram.
type Decision struct {
	// Dest is where to send the datagram; only valid when Reason is DropNone
	Dest netip.AddrPort

	// Reason is DropNone for forwarded datagrams
	Reason DropReason

	// Evicted counts sessions swept while handling an initiation
	Evicted int

	// Upserted is set when an initiation bound a new or refreshed session
	Upserted bool
}

// Forward reports whether the datagram should be sent.
func (d Decision) Forward() bool {
	return d.Reason == DropNone
}

// Route picks the destination for a classified message received from src.
//
// Traffic from the target is delivered to whichever peer owns the receiver
// index it names. Traffic from anyone else always goes to the target; a
// handshake initiation additionally (re)binds its sender index to src.
// Peers may never send handshake responses and the target may never
// initiate.
func Route(msg protocol.Message, src, target netip.AddrPort, table Table, now time.Time) Decision {
	if src == target {
		receiver, ok := msg.ReceiverIndex()
		if !ok {
			return Decision{Reason: DropTargetInitiation}
		}
		dest, ok := table.Lookup(receiver, now)
		if !ok {
			return Decision{Reason: DropUnknownReceiver}
		}
		return Decision{Dest: dest}
	}

	switch msg.Type {
	case protocol.TypeHandshakeInitiation:
		evicted := table.SweepAndUpsert(msg.Sender, src, now)
		return Decision{Dest: target, Evicted: evicted, Upserted: true}
	case protocol.TypeHandshakeResponse:
		return Decision{Reason: DropPeerResponse}
	default:
		return Decision{Dest: target}
	}
}

// Normalize unmaps IPv4-mapped IPv6 addresses so that the same endpoint
// compares equal whether it came from a dual-stack or an IPv4 socket.
func Normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
