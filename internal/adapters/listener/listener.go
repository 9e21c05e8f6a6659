// Package listener implements the UDP datagram transport the relay reads
// queries from and writes replies to. Grounded on
// poyrazK-cloudDNS/internal/dns/server.Server.Run's net.ListenConfig.Control
// hook and reuseport_unix.go's SO_REUSEPORT option, simplified from the
// teacher's parallel-listener-plus-worker-queue design down to a single
// cooperative read loop, per SPEC_FULL.md §4.E/§5.
package listener

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
	"github.com/netrelay/dnsrelay/internal/wire/layers"
)

const ipv4HeaderLen = 20

// UDPPacket is the parsed layered view of one datagram: an IPv4 header
// synthesized from the OS-reported addresses, enclosing the UDP framing,
// both sharing one cursor with checksums computed over the real src/dst
// (SPEC_FULL.md §4.E).
type UDPPacket struct {
	IP  *layers.IPv4Packet
	UDP *layers.UDPDatagram
}

// newUDPPacket frames payload as src -> dst: the IPv4 and UDP headers are
// written into a fresh cursor, parsed back as a parent/child layer pair,
// and both checksums filled in.
func newUDPPacket(src, dst *net.UDPAddr, payload []byte) (*UDPPacket, error) {
	cur := buffer.New(ipv4HeaderLen + 8 + len(payload))
	head := layers.NewIPv4(layers.ProtoUDP, src.IP, dst.IP, 8+len(payload))
	if err := layers.WriteIPv4Packet(cur, 0, head); err != nil {
		return nil, err
	}
	udp := layers.NewUDP(uint16(src.Port), uint16(dst.Port), payload)
	if err := layers.WriteUDPDatagram(cur, ipv4HeaderLen, udp); err != nil {
		return nil, err
	}

	ipView, err := layers.NewIPv4Packet(cur, 0, nil)
	if err != nil {
		return nil, err
	}
	udpView, err := layers.NewUDPDatagram(cur, ipv4HeaderLen, ipView)
	if err != nil {
		return nil, err
	}
	// Recompute-and-store; propagation fills the enclosing IPv4 checksum.
	if err := udpView.Checksum(0); err != nil {
		return nil, err
	}
	return &UDPPacket{IP: ipView, UDP: udpView}, nil
}

// Datagram is one received UDP packet: the parsed layered view plus the
// source address a reply must be sent back to. Data aliases the packet's
// UDP payload for callers that only need the DNS message bytes.
type Datagram struct {
	Src    *net.UDPAddr
	Dst    *net.UDPAddr
	Packet *UDPPacket
	Data   []byte
}

// Listener is a single UDP socket read in a cooperative loop: one ReadFrom
// per iteration, no per-packet goroutine, matching SPEC_FULL.md §5's
// single-threaded session model.
type Listener struct {
	conn     *net.UDPConn
	canceled atomic.Bool
}

// Open binds addr (host:port) with SO_REUSEPORT set via the platform hook
// in reuseport_unix.go/reuseport_windows.go, so multiple relay processes
// can share the same port for horizontal scaling.
func Open(ctx context.Context, addr string) (*Listener, error) {
	lc := net.ListenConfig{Control: controlReusePort}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{conn: pc.(*net.UDPConn)}, nil
}

// LocalAddr returns the bound local address.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Next blocks for the next inbound datagram, wraps it in a UDPPacket whose
// IPv4 header is synthesized from the OS-reported remote and local
// addresses, and returns it. It returns (nil, nil) once the listener has
// been Closed from another goroutine.
func (l *Listener) Next() (*Datagram, error) {
	buf := make([]byte, 65535)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.canceled.Load() {
				return nil, nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, err
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		dst := l.conn.LocalAddr().(*net.UDPAddr)
		pkt, err := newUDPPacket(src, dst, data)
		if err != nil {
			// A datagram we cannot frame is dropped silently (§7).
			continue
		}
		return &Datagram{Src: src, Dst: dst, Packet: pkt, Data: pkt.UDP.Payload}, nil
	}
}

// Send frames data as a reply packet through the same synthesized IPv4/UDP
// codec path as inbound traffic, then writes the framed payload back to
// dst.
func (l *Listener) Send(dst *net.UDPAddr, data []byte) error {
	pkt, err := newUDPPacket(l.conn.LocalAddr().(*net.UDPAddr), dst, data)
	if err != nil {
		return err
	}
	_, err = l.conn.WriteToUDP(pkt.UDP.Payload, dst)
	return err
}

// Close marks the listener canceled and closes the underlying socket,
// unblocking any goroutine parked in Next.
func (l *Listener) Close() error {
	l.canceled.Store(true)
	return l.conn.Close()
}
