package routing

import (
	"net/netip"
	"testing"
	"time"

	"github.com/postalsys/wg-relay/internal/protocol"
)

var (
	targetAddr = netip.MustParseAddrPort("203.0.113.10:51820")
	peerAddr   = netip.MustParseAddrPort("198.51.100.7:60000")
	otherPeer  = netip.MustParseAddrPort("198.51.100.8:60001")
)

// ============================================================================
// Route Tests
// ============================================================================

func TestRoute_PeerInitiationBindsSession(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)
	msg := protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 100}

	d := Route(msg, peerAddr, targetAddr, table, epoch)
	if !d.Forward() {
		t.Fatalf("initiation dropped: %s", d.Reason)
	}
	if d.Dest != targetAddr {
		t.Errorf("Dest = %s, want %s", d.Dest, targetAddr)
	}
	if !d.Upserted {
		t.Error("Upserted should be set for an initiation")
	}

	got, ok := table.Lookup(100, epoch)
	if !ok || got != peerAddr {
		t.Errorf("table[100] = %s, %v; want %s, true", got, ok, peerAddr)
	}
}

func TestRoute_TargetResponseReachesPeer(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)
	Route(protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 100}, peerAddr, targetAddr, table, epoch)

	msg := protocol.Message{Type: protocol.TypeHandshakeResponse, Sender: 999, Receiver: 100}
	d := Route(msg, targetAddr, targetAddr, table, epoch.Add(time.Second))
	if !d.Forward() {
		t.Fatalf("response dropped: %s", d.Reason)
	}
	if d.Dest != peerAddr {
		t.Errorf("Dest = %s, want %s", d.Dest, peerAddr)
	}
}

func TestRoute_TargetUnknownReceiver(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)

	msg := protocol.Message{Type: protocol.TypeHandshakeResponse, Sender: 999, Receiver: 5}
	d := Route(msg, targetAddr, targetAddr, table, epoch)
	if d.Forward() {
		t.Fatalf("response to unknown receiver forwarded to %s", d.Dest)
	}
	if d.Reason != DropUnknownReceiver {
		t.Errorf("Reason = %s, want %s", d.Reason, DropUnknownReceiver)
	}
}

func TestRoute_TargetMayNotInitiate(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)
	table.SweepAndUpsert(55, peerAddr, epoch)

	msg := protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 55}
	d := Route(msg, targetAddr, targetAddr, table, epoch)
	if d.Forward() {
		t.Fatal("initiation from target should be dropped")
	}
	if d.Reason != DropTargetInitiation {
		t.Errorf("Reason = %s, want %s", d.Reason, DropTargetInitiation)
	}
	if table.Len() != 1 {
		t.Errorf("table touched by target initiation, Len() = %d", table.Len())
	}
}

func TestRoute_PeerResponseAlwaysDropped(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)
	table.SweepAndUpsert(100, peerAddr, epoch)
	table.SweepAndUpsert(200, otherPeer, epoch)

	for _, receiver := range []uint32{100, 200, 300} {
		msg := protocol.Message{Type: protocol.TypeHandshakeResponse, Sender: 1, Receiver: receiver}
		d := Route(msg, otherPeer, targetAddr, table, epoch)
		if d.Forward() {
			t.Errorf("peer response (receiver=%d) forwarded to %s", receiver, d.Dest)
		}
		if d.Reason != DropPeerResponse {
			t.Errorf("Reason = %s, want %s", d.Reason, DropPeerResponse)
		}
	}
}

func TestRoute_PeerCookieAndDataGoToTarget(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)

	for _, typ := range []protocol.MessageType{protocol.TypeCookieReply, protocol.TypeTransportData} {
		d := Route(protocol.Message{Type: typ, Receiver: 12345}, peerAddr, targetAddr, table, epoch)
		if !d.Forward() || d.Dest != targetAddr {
			t.Errorf("%s from peer: Dest = %s, Reason = %s; want %s", typ, d.Dest, d.Reason, targetAddr)
		}
	}
	if table.Len() != 0 {
		t.Errorf("cookie/data must not create sessions, Len() = %d", table.Len())
	}
}

func TestRoute_TargetDataAndCookie(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)
	table.SweepAndUpsert(100, peerAddr, epoch)
	table.SweepAndUpsert(200, otherPeer, epoch)

	tests := []struct {
		name string
		msg  protocol.Message
		want netip.AddrPort
	}{
		{"data to first", protocol.Message{Type: protocol.TypeTransportData, Receiver: 100}, peerAddr},
		{"data to second", protocol.Message{Type: protocol.TypeTransportData, Receiver: 200}, otherPeer},
		{"cookie to second", protocol.Message{Type: protocol.TypeCookieReply, Receiver: 200}, otherPeer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Route(tt.msg, targetAddr, targetAddr, table, epoch)
			if !d.Forward() || d.Dest != tt.want {
				t.Errorf("Dest = %s, Reason = %s; want %s", d.Dest, d.Reason, tt.want)
			}
		})
	}
}

func TestRoute_InitiationSweepsExpired(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)
	Route(protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 7}, peerAddr, targetAddr, table, epoch)

	later := epoch.Add(DefaultSessionValidTime + time.Second)
	d := Route(protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 8}, otherPeer, targetAddr, table, later)
	if d.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", d.Evicted)
	}

	resp := protocol.Message{Type: protocol.TypeTransportData, Receiver: 7}
	if d := Route(resp, targetAddr, targetAddr, table, later); d.Forward() {
		t.Error("data for a swept session should be dropped")
	}
}

func TestRoute_ReinitiationMovesPeer(t *testing.T) {
	table := NewLockedTable(DefaultSessionValidTime)
	Route(protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 100}, peerAddr, targetAddr, table, epoch)
	Route(protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 100}, otherPeer, targetAddr, table, epoch.Add(time.Second))

	d := Route(protocol.Message{Type: protocol.TypeTransportData, Receiver: 100}, targetAddr, targetAddr, table, epoch.Add(2*time.Second))
	if d.Dest != otherPeer {
		t.Errorf("Dest = %s, want %s (last writer wins)", d.Dest, otherPeer)
	}
}

func TestDropReason_String(t *testing.T) {
	tests := []struct {
		reason DropReason
		want   string
	}{
		{DropNone, "none"},
		{DropUnparseable, "unparseable"},
		{DropTargetInitiation, "target_initiation"},
		{DropUnknownReceiver, "unknown_receiver"},
		{DropPeerResponse, "peer_response"},
		{DropReason(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("DropReason(%d).String() = %s, want %s", tt.reason, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	mapped := netip.MustParseAddrPort("[::ffff:203.0.113.10]:51820")
	if got := Normalize(mapped); got != targetAddr {
		t.Errorf("Normalize(%s) = %s, want %s", mapped, got, targetAddr)
	}
	if got := Normalize(addrC); got != addrC {
		t.Errorf("Normalize(%s) = %s, want unchanged", addrC, got)
	}
}
