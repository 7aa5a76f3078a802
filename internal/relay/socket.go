package relay

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/postalsys/wg-relay/internal/routing"
)

// PacketConn is the socket a relay receives from and sends on.
// *net.UDPConn satisfies it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Listen binds the relay's UDP socket.
func Listen(ctx context.Context, cfg Config) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: socketControl(cfg.ReadBuffer, cfg.WriteBuffer),
	}

	pc, err := lc.ListenPacket(ctx, "udp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Bind, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("listen %s: unexpected connection type %T", cfg.Bind, pc)
	}
	return conn, nil
}

// ResolveTarget resolves a host:port to a single UDP endpoint. When the
// host has several addresses the first one is used.
func ResolveTarget(address string) (netip.AddrPort, error) {
	if address == "" {
		return netip.AddrPort{}, ErrNoTarget
	}

	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve target %s: %w", address, err)
	}

	ap := udpAddr.AddrPort()
	if !ap.IsValid() || ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve target %s: no usable address", address)
	}
	return routing.Normalize(ap), nil
}
