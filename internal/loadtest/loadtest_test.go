package loadtest

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/postalsys/wg-relay/internal/protocol"
	"github.com/postalsys/wg-relay/internal/relay"
	"github.com/postalsys/wg-relay/internal/routing"
)

func startEchoTarget(t *testing.T) *EchoTarget {
	t.Helper()
	target, err := NewEchoTarget("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewEchoTarget failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		target.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return target
}

func startRelay(t *testing.T, target *EchoTarget, workers int) *relay.Server {
	t.Helper()
	cfg := relay.DefaultConfig()
	cfg.Target = target.Addr().String()
	cfg.Bind = "127.0.0.1:0"
	cfg.Workers = workers
	cfg.ExposeSessions = true

	s, err := relay.NewServer(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("relay Run() error = %v", err)
		}
	})
	return s
}

func TestEchoTarget_Handshake(t *testing.T) {
	target := startEchoTarget(t)

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(target.Addr()))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write(protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: 5}.Encode())

	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	msg, ok := protocol.Classify(buf[:n])
	if !ok || msg.Type != protocol.TypeHandshakeResponse {
		t.Fatalf("expected handshake response, got %v", msg)
	}
	if msg.Receiver != 5 || msg.Sender != 5|targetIndexBit {
		t.Errorf("unexpected indices: %v", msg)
	}
	if n != responseSize {
		t.Errorf("response size = %d, want %d", n, responseSize)
	}
}

func TestPeerLoadGenerator(t *testing.T) {
	target := startEchoTarget(t)
	s := startRelay(t, target, 2)
	addr := routing.Normalize(s.LocalAddr().(*net.UDPAddr).AddrPort())

	gen := NewPeerLoadGenerator(3, 256, 200*time.Millisecond)
	metrics, err := gen.Run(context.Background(), addr)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if metrics.Handshakes != 3 {
		t.Errorf("expected 3 handshakes, got %d (failures %d)", metrics.Handshakes, metrics.HandshakeFailures)
	}
	if metrics.PacketsEchoed == 0 {
		t.Error("expected at least one echoed packet")
	}
	if target.Received() < metrics.PacketsEchoed {
		t.Errorf("target received %d datagrams, fewer than %d echoed", target.Received(), metrics.PacketsEchoed)
	}
	if got := len(s.Sessions()); got != 3 {
		t.Errorf("relay sessions = %d, want 3", got)
	}
	t.Logf("Peer metrics: %s", metrics)
}

func TestPeerLoadGenerator_NoRelay(t *testing.T) {
	// Nothing listens here, so no handshake completes
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := routing.Normalize(conn.LocalAddr().(*net.UDPAddr).AddrPort())
	conn.Close()

	gen := NewPeerLoadGenerator(1, 64, 100*time.Millisecond)
	gen.timeout = 50 * time.Millisecond

	metrics, err := gen.Run(context.Background(), addr)
	if err == nil {
		t.Error("expected an error when no handshake completes")
	}
	if metrics.HandshakeFailures != 1 {
		t.Errorf("expected 1 handshake failure, got %d", metrics.HandshakeFailures)
	}
}

func TestSessionTableLoadTester(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		tester := NewSessionTableLoadTester(1000, concurrent)
		metrics, err := tester.Run()
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if metrics.TotalSessions != 1000 {
			t.Errorf("expected 1000 sessions, got %d", metrics.TotalSessions)
		}
		if metrics.Evicted != 0 {
			t.Errorf("expected no evictions, got %d", metrics.Evicted)
		}
		t.Logf("Session metrics (concurrent=%v): insert=%.2fms, lookup=%.2fns, rate=%.0f/s",
			concurrent, metrics.InsertionTimeMs, metrics.LookupTimeNs, metrics.LookupsPerSecond)
	}
}

func BenchmarkSessionTableLookup(b *testing.B) {
	table := routing.NewTable(true, routing.DefaultSessionValidTime)
	now := time.Now()
	addr := netip.MustParseAddrPort("198.51.100.7:51820")
	for i := 0; i < 1000; i++ {
		table.SweepAndUpsert(uint32(i), addr, now)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		table.Lookup(uint32(i%1000), now)
	}
}
