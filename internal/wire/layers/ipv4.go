package layers

import (
	"net"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
)

const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// IPv4Packet is the standard 20-byte (+options) IPv4 header. The header
// length nibble lives in the low nibble of byte 0, per SPEC_FULL.md §3.
type IPv4Packet struct {
	node

	Version  uint8
	IHL      uint8 // header length in 32-bit words
	TOS      uint8
	Total    uint16
	ID       uint16
	Flags    uint8 // 3 bits: bit2=reserved(0) bit1=DF bit0=MF
	FragOff  uint16
	TTL      uint8
	Protocol uint8
	Checksum16 uint16
	Src      net.IP
	Dst      net.IP
	Options  []byte
}

// NewIPv4Packet parses an IPv4 header at offset, with parent typically the
// enclosing EthernetFrame (or nil at the root).
func NewIPv4Packet(cursor *buffer.Cursor, offset int, parent Layer) (*IPv4Packet, error) {
	p := &IPv4Packet{node: node{cursor: cursor, offset: offset, parent: parent}}
	if err := p.read(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *IPv4Packet) read() error {
	b0, err := p.cursor.U8(p.offset)
	if err != nil {
		return err
	}
	p.Version = b0 >> 4
	p.IHL = b0 & 0x0F

	p.TOS, err = p.cursor.U8(p.offset + 1)
	if err != nil {
		return err
	}
	p.Total, err = p.cursor.U16(p.offset + 2)
	if err != nil {
		return err
	}
	p.ID, err = p.cursor.U16(p.offset + 4)
	if err != nil {
		return err
	}
	flagsFrag, err := p.cursor.U16(p.offset + 6)
	if err != nil {
		return err
	}
	p.Flags = uint8(flagsFrag >> 13)
	p.FragOff = flagsFrag & 0x1FFF

	p.TTL, err = p.cursor.U8(p.offset + 8)
	if err != nil {
		return err
	}
	p.Protocol, err = p.cursor.U8(p.offset + 9)
	if err != nil {
		return err
	}
	p.Checksum16, err = p.cursor.U16(p.offset + 10)
	if err != nil {
		return err
	}
	src, err := p.cursor.Range(p.offset+12, 4)
	if err != nil {
		return err
	}
	p.Src = net.IP(src)
	dst, err := p.cursor.Range(p.offset+16, 4)
	if err != nil {
		return err
	}
	p.Dst = net.IP(dst)

	if p.IHL > 5 {
		opts, err := p.cursor.Range(p.offset+20, int(p.IHL-5)*4)
		if err != nil {
			return err
		}
		p.Options = opts
	}
	return nil
}

// HeaderLen is IHL*4.
func (p *IPv4Packet) HeaderLen() int { return int(p.IHL) * 4 }

// NewIPv4 builds an IPv4 header for a fresh datagram, per
// SPEC_FULL.md §4.C create(protocol, src, dst, dataSize): version 4, TTL
// 255, TOS 0, a fixed ID (0) so checksum-verification tests are
// deterministic, no options.
func NewIPv4(protocol uint8, src, dst net.IP, dataSize int) *IPv4Packet {
	return &IPv4Packet{
		Version:  4,
		IHL:      5,
		TOS:      0,
		Total:    uint16(20 + dataSize),
		ID:       0,
		TTL:      255,
		Protocol: protocol,
		Src:      src.To4(),
		Dst:      dst.To4(),
	}
}

// WriteIPv4Packet serializes an IPv4Packet header at offset. Checksum16
// must already hold the desired value (0 to mean "not yet computed"); call
// Checksum(0) afterwards to fill it in.
func WriteIPv4Packet(cursor *buffer.Cursor, offset int, p *IPv4Packet) error {
	if err := cursor.PutU8(offset, (p.Version<<4)|(p.IHL&0x0F)); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+1, p.TOS); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+2, p.Total); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+4, p.ID); err != nil {
		return err
	}
	flagsFrag := (uint16(p.Flags) << 13) | (p.FragOff & 0x1FFF)
	if err := cursor.PutU16(offset+6, flagsFrag); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+8, p.TTL); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+9, p.Protocol); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+10, p.Checksum16); err != nil {
		return err
	}
	src4 := p.Src.To4()
	if src4 == nil {
		src4 = make(net.IP, 4)
	}
	if err := cursor.PutRange(offset+12, src4); err != nil {
		return err
	}
	dst4 := p.Dst.To4()
	if dst4 == nil {
		dst4 = make(net.IP, 4)
	}
	if err := cursor.PutRange(offset+16, dst4); err != nil {
		return err
	}
	if len(p.Options) > 0 {
		if err := cursor.PutRange(offset+20, p.Options); err != nil {
			return err
		}
	}
	return nil
}

// Checksum recomputes (value==0) or stores a literal IPv4 header checksum,
// then invalidates the parent's checksum.
func (p *IPv4Packet) Checksum(value uint16) error {
	if value != 0 {
		p.Checksum16 = value
		if err := p.cursor.PutU16(p.offset+10, value); err != nil {
			return err
		}
		return p.propagateChecksum()
	}

	if err := p.cursor.PutU16(p.offset+10, 0); err != nil {
		return err
	}
	header, err := p.cursor.Range(p.offset, p.HeaderLen())
	if err != nil {
		return err
	}
	sum := internetChecksum(header)
	p.Checksum16 = sum
	if err := p.cursor.PutU16(p.offset+10, sum); err != nil {
		return err
	}
	return p.propagateChecksum()
}

// PseudoHeader builds the IPv4 pseudo-header: src(4) ++ dst(4) ++ 0x00 ++
// protocol(1) ++ length(2), per SPEC_FULL.md §4.C.
func (p *IPv4Packet) PseudoHeader(protocol uint8, upperLength uint16) ([]byte, error) {
	buf := make([]byte, 12)
	copy(buf[0:4], p.Src.To4())
	copy(buf[4:8], p.Dst.To4())
	buf[8] = 0
	buf[9] = protocol
	buf[10] = byte(upperLength >> 8)
	buf[11] = byte(upperLength)
	return buf, nil
}

// PayloadOffset returns the absolute offset of this packet's payload.
func (p *IPv4Packet) PayloadOffset() int { return p.offset + p.HeaderLen() }
