// Package loadtest provides load testing utilities for the relay.
package loadtest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/postalsys/wg-relay/internal/protocol"
	"github.com/postalsys/wg-relay/internal/routing"
)

// Sizes of real WireGuard handshake messages.
const (
	initiationSize = 148
	responseSize   = 92
)

// targetIndexBit marks indices chosen by the echo target so they never
// collide with peer indices.
const targetIndexBit = 1 << 31

// PeerMetrics contains metrics from peer load testing.
type PeerMetrics struct {
	Peers             int
	Handshakes        int64
	HandshakeFailures int64
	PacketsSent       int64
	PacketsEchoed     int64
	PacketsLost       int64
	BytesSent         int64
	AvgLatencyMs      float64
	MaxLatencyMs      float64
	MinLatencyMs      float64
	Duration          time.Duration
	PacketsPerSecond  float64
	ThroughputMBps    float64
}

// String summarises the run.
func (m *PeerMetrics) String() string {
	return fmt.Sprintf("peers=%d handshakes=%d/%d packets=%s echoed=%s lost=%d sent=%s rtt(avg/max)=%.2f/%.2fms rate=%.0f pkt/s",
		m.Peers, m.Handshakes, m.Handshakes+m.HandshakeFailures,
		humanize.Comma(m.PacketsSent), humanize.Comma(m.PacketsEchoed), m.PacketsLost,
		humanize.IBytes(uint64(m.BytesSent)), m.AvgLatencyMs, m.MaxLatencyMs, m.PacketsPerSecond)
}

// SessionMetrics contains metrics from session table load testing.
type SessionMetrics struct {
	TotalSessions    int
	InsertionTimeMs  float64
	LookupTimeNs     float64
	LookupsPerSecond float64
	Evicted          int
}

// PeerLoadGenerator simulates WireGuard peers talking through a relay.
// Every peer performs a handshake and then sends transport data until the
// duration elapses, waiting for each datagram to be echoed back.
type PeerLoadGenerator struct {
	peers    int
	dataSize int
	duration time.Duration
	timeout  time.Duration

	metrics PeerMetrics
	mu      sync.Mutex
}

// NewPeerLoadGenerator creates a new peer load generator.
func NewPeerLoadGenerator(peers, dataSize int, duration time.Duration) *PeerLoadGenerator {
	if dataSize < protocol.MinMessageSize {
		dataSize = protocol.MinMessageSize
	}
	return &PeerLoadGenerator{
		peers:    peers,
		dataSize: dataSize,
		duration: duration,
		timeout:  time.Second,
		metrics: PeerMetrics{
			Peers:        peers,
			MinLatencyMs: float64(^uint64(0) >> 1),
		},
	}
}

// Run executes the load test against the relay at relayAddr.
func (g *PeerLoadGenerator) Run(ctx context.Context, relayAddr netip.AddrPort) (*PeerMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, g.duration)
	defer cancel()

	var wg sync.WaitGroup
	startTime := time.Now()

	for i := 0; i < g.peers; i++ {
		wg.Add(1)
		go func(index uint32) {
			defer wg.Done()
			g.runPeer(ctx, relayAddr, index)
		}(uint32(i + 1))
	}

	wg.Wait()
	g.metrics.Duration = time.Since(startTime)

	if g.metrics.Duration > 0 {
		seconds := g.metrics.Duration.Seconds()
		g.metrics.PacketsPerSecond = float64(g.metrics.PacketsEchoed) / seconds
		g.metrics.ThroughputMBps = float64(g.metrics.BytesSent) / (1024 * 1024) / seconds
	}
	if g.metrics.PacketsEchoed > 0 {
		g.metrics.AvgLatencyMs = g.metrics.AvgLatencyMs / float64(g.metrics.PacketsEchoed)
	} else {
		g.metrics.MinLatencyMs = 0
	}

	if g.metrics.Handshakes == 0 && g.peers > 0 {
		return &g.metrics, errors.New("no peer completed a handshake")
	}
	return &g.metrics, nil
}

func (g *PeerLoadGenerator) runPeer(ctx context.Context, relayAddr netip.AddrPort, index uint32) {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(relayAddr))
	if err != nil {
		atomic.AddInt64(&g.metrics.HandshakeFailures, 1)
		return
	}
	defer conn.Close()

	// Unblock reads on cancel
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	remote, ok := g.handshake(conn, index)
	if !ok {
		atomic.AddInt64(&g.metrics.HandshakeFailures, 1)
		return
	}
	atomic.AddInt64(&g.metrics.Handshakes, 1)

	data := make([]byte, g.dataSize)
	rand.Read(data)
	copy(data, protocol.Message{Type: protocol.TypeTransportData, Receiver: remote}.Encode())
	readBuf := make([]byte, 2048)

	for ctx.Err() == nil {
		start := time.Now()
		if _, err := conn.Write(data); err != nil {
			return
		}
		atomic.AddInt64(&g.metrics.PacketsSent, 1)
		atomic.AddInt64(&g.metrics.BytesSent, int64(len(data)))

		conn.SetReadDeadline(time.Now().Add(g.timeout))
		n, err := conn.Read(readBuf)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&g.metrics.PacketsLost, 1)
			}
			continue
		}

		msg, ok := protocol.Classify(readBuf[:n])
		if !ok || msg.Type != protocol.TypeTransportData || msg.Receiver != index {
			atomic.AddInt64(&g.metrics.PacketsLost, 1)
			continue
		}

		latency := float64(time.Since(start).Microseconds()) / 1000

		g.mu.Lock()
		g.metrics.AvgLatencyMs += latency
		if latency > g.metrics.MaxLatencyMs {
			g.metrics.MaxLatencyMs = latency
		}
		if latency < g.metrics.MinLatencyMs {
			g.metrics.MinLatencyMs = latency
		}
		g.mu.Unlock()

		atomic.AddInt64(&g.metrics.PacketsEchoed, 1)
	}
}

// handshake sends an initiation and waits for the matching response,
// returning the index the far end chose.
func (g *PeerLoadGenerator) handshake(conn *net.UDPConn, index uint32) (uint32, bool) {
	init := make([]byte, initiationSize)
	rand.Read(init)
	copy(init, protocol.Message{Type: protocol.TypeHandshakeInitiation, Sender: index}.Encode())

	if _, err := conn.Write(init); err != nil {
		return 0, false
	}

	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(g.timeout))
	n, err := conn.Read(buf)
	if err != nil {
		return 0, false
	}

	msg, ok := protocol.Classify(buf[:n])
	if !ok || msg.Type != protocol.TypeHandshakeResponse || msg.Receiver != index {
		return 0, false
	}
	return msg.Sender, true
}

// EchoTarget stands in for a WireGuard endpoint behind the relay. It
// answers every initiation with a response and echoes transport data back
// to the sending peer.
type EchoTarget struct {
	conn *net.UDPConn

	received atomic.Int64
}

// NewEchoTarget listens on address.
func NewEchoTarget(address string) (*EchoTarget, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &EchoTarget{conn: conn}, nil
}

// Addr returns the address the target listens on.
func (e *EchoTarget) Addr() netip.AddrPort {
	return routing.Normalize(e.conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Received returns the number of datagrams the target has read.
func (e *EchoTarget) Received() int64 {
	return e.received.Load()
}

// Serve answers datagrams until ctx is cancelled or the target is closed.
func (e *EchoTarget) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.conn.Close()
	})
	defer stop()

	buf := make([]byte, 2048)
	for {
		n, from, err := e.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		e.received.Add(1)

		msg, ok := protocol.Classify(buf[:n])
		if !ok {
			continue
		}

		var reply []byte
		switch msg.Type {
		case protocol.TypeHandshakeInitiation:
			reply = make([]byte, responseSize)
			copy(reply, protocol.Message{
				Type:     protocol.TypeHandshakeResponse,
				Sender:   msg.Sender | targetIndexBit,
				Receiver: msg.Sender,
			}.Encode())
		case protocol.TypeTransportData:
			reply = append([]byte(nil), buf[:n]...)
			copy(reply, protocol.Message{
				Type:     protocol.TypeTransportData,
				Receiver: msg.Receiver &^ targetIndexBit,
			}.Encode())
		default:
			continue
		}

		if _, err := e.conn.WriteToUDPAddrPort(reply, from); err != nil {
			return err
		}
	}
}

// Close stops the target.
func (e *EchoTarget) Close() error {
	return e.conn.Close()
}

// SessionTableLoadTester tests session table performance.
type SessionTableLoadTester struct {
	sessionCount int
	concurrent   bool
}

// NewSessionTableLoadTester creates a new session table load tester.
func NewSessionTableLoadTester(sessionCount int, concurrent bool) *SessionTableLoadTester {
	return &SessionTableLoadTester{
		sessionCount: sessionCount,
		concurrent:   concurrent,
	}
}

// Run executes the session table load test. Every insertion sweeps the
// whole table, so insertion cost grows with the table size.
func (t *SessionTableLoadTester) Run() (*SessionMetrics, error) {
	table := routing.NewTable(t.concurrent, routing.DefaultSessionValidTime)
	metrics := &SessionMetrics{}
	now := time.Now()

	insertStart := time.Now()
	for i := 0; i < t.sessionCount; i++ {
		addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, byte(i >> 16), byte(i >> 8), byte(i)}), uint16(1024+i%60000))
		metrics.Evicted += table.SweepAndUpsert(uint32(i), addr, now)
	}
	insertDuration := time.Since(insertStart)
	metrics.InsertionTimeMs = float64(insertDuration.Microseconds()) / 1000
	metrics.TotalSessions = table.Len()

	lookupCount := 10000
	lookupStart := time.Now()
	for i := 0; i < lookupCount; i++ {
		table.Lookup(uint32(i%max(t.sessionCount, 1)), now)
	}
	lookupDuration := time.Since(lookupStart)
	metrics.LookupTimeNs = float64(lookupDuration.Nanoseconds()) / float64(lookupCount)
	if lookupDuration > 0 {
		metrics.LookupsPerSecond = float64(lookupCount) / lookupDuration.Seconds()
	}

	return metrics, nil
}
