// Package relay forwards WireGuard traffic between many peers and a single
// target over one UDP socket.
//
// Every datagram is classified by its cleartext header, routed with the
// shared session table and sent on unmodified. The relay never touches the
// Noise handshake or the encrypted payload.
//
// # Topology
//
// The relay is a star: whatever a peer sends goes to the target. Traffic
// from the target is delivered to the peer that owns the receiver index it
// names, learned from that peer's last handshake initiation.
//
//  1. Peer sends HANDSHAKE_INITIATION{sender=i}; relay binds i to the peer and forwards to the target
//  2. Target answers HANDSHAKE_RESPONSE{receiver=i}; relay looks up i and forwards to the peer
//  3. DATA and COOKIE flow the same way, keyed by receiver index
//
// # Workers
//
// A Server runs one or more workers over the same socket. Each worker owns
// its receive buffer and blocks only on receive. A worker stops on the
// first receive or send failure; with several workers the server waits for
// all of them and reports the first failure.
//
// # Thread Safety
//
// Server methods are safe for concurrent use. The session table is locked
// unless a single worker is its only user.
package relay
