package layers

import (
	"net"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
)

const ipv6HeaderLen = 40

// IPv6Packet is the fixed 40-byte IPv6 header. It carries no checksum
// field of its own (Checksum is a no-op); NextHeader plays the role of
// IPv4's Protocol, HopLimit the role of TTL.
type IPv6Packet struct {
	node

	Version      uint8
	TrafficClass uint8
	FlowLabel    uint32 // 20 bits
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          net.IP
	Dst          net.IP
}

// NewIPv6Packet parses an IPv6 header at offset.
func NewIPv6Packet(cursor *buffer.Cursor, offset int, parent Layer) (*IPv6Packet, error) {
	p := &IPv6Packet{node: node{cursor: cursor, offset: offset, parent: parent}}
	if err := p.read(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *IPv6Packet) read() error {
	word, err := p.cursor.U32(p.offset)
	if err != nil {
		return err
	}
	p.Version = uint8(word >> 28)
	p.TrafficClass = uint8(word >> 20)
	p.FlowLabel = word & 0x000FFFFF

	p.PayloadLen, err = p.cursor.U16(p.offset + 4)
	if err != nil {
		return err
	}
	p.NextHeader, err = p.cursor.U8(p.offset + 6)
	if err != nil {
		return err
	}
	p.HopLimit, err = p.cursor.U8(p.offset + 7)
	if err != nil {
		return err
	}
	src, err := p.cursor.Range(p.offset+8, 16)
	if err != nil {
		return err
	}
	p.Src = net.IP(src)
	dst, err := p.cursor.Range(p.offset+24, 16)
	if err != nil {
		return err
	}
	p.Dst = net.IP(dst)
	return nil
}

// HeaderLen is always 40 for IPv6 (extension headers are not modeled).
func (p *IPv6Packet) HeaderLen() int { return ipv6HeaderLen }

// Checksum is a no-op: IPv6 has no header checksum field.
func (p *IPv6Packet) Checksum(uint16) error { return nil }

// WriteIPv6Packet serializes an IPv6Packet header at offset.
func WriteIPv6Packet(cursor *buffer.Cursor, offset int, p *IPv6Packet) error {
	word := (uint32(p.Version) << 28) | (uint32(p.TrafficClass) << 20) | (p.FlowLabel & 0x000FFFFF)
	if err := cursor.PutU32(offset, word); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+4, p.PayloadLen); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+6, p.NextHeader); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+7, p.HopLimit); err != nil {
		return err
	}
	src16 := p.Src.To16()
	if src16 == nil {
		src16 = make(net.IP, 16)
	}
	if err := cursor.PutRange(offset+8, src16); err != nil {
		return err
	}
	dst16 := p.Dst.To16()
	if dst16 == nil {
		dst16 = make(net.IP, 16)
	}
	return cursor.PutRange(offset+24, dst16)
}

// PseudoHeader builds the IPv6 pseudo-header: src(16) ++ dst(16) ++
// length(4) ++ 0x000000 ++ nextHeader(1), per SPEC_FULL.md §4.C.
func (p *IPv6Packet) PseudoHeader(nextHeader uint8, upperLength uint16) ([]byte, error) {
	buf := make([]byte, 40)
	copy(buf[0:16], p.Src.To16())
	copy(buf[16:32], p.Dst.To16())
	buf[32] = 0
	buf[33] = 0
	buf[34] = byte(upperLength >> 8)
	buf[35] = byte(upperLength)
	buf[36], buf[37], buf[38] = 0, 0, 0
	buf[39] = nextHeader
	return buf, nil
}

// PayloadOffset returns the absolute offset of this packet's payload.
func (p *IPv6Packet) PayloadOffset() int { return p.offset + ipv6HeaderLen }
