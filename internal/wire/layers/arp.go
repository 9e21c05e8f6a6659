package layers

import (
	"net"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
)

const (
	ARPHardwareEthernet uint16 = 1
	ARPProtocolIPv4     uint16 = 0x0800

	ARPOpRequest uint16 = 1
	ARPOpReply   uint16 = 2

	arpHeaderLen = 28
)

// ARPPacket is the fixed 28-byte ARP layout (RFC 826, Ethernet/IPv4 sizes).
type ARPPacket struct {
	node

	HardwareType uint16
	ProtocolType uint16
	HLen         uint8
	PLen         uint8
	Operation    uint16
	SenderMAC    [6]byte
	SenderIP     net.IP
	TargetMAC    [6]byte
	TargetIP     net.IP
}

// NewARPInit returns an ARPPacket preset per SPEC_FULL.md §4.C init():
// hardware=1, protocol=0x0800, hlen=6, plen=4, operation=REQUEST.
func NewARPInit() *ARPPacket {
	return &ARPPacket{
		HardwareType: ARPHardwareEthernet,
		ProtocolType: ARPProtocolIPv4,
		HLen:         6,
		PLen:         4,
		Operation:    ARPOpRequest,
	}
}

// ParseARPPacket parses an ARP packet at offset.
func ParseARPPacket(cursor *buffer.Cursor, offset int, parent Layer) (*ARPPacket, error) {
	p := &ARPPacket{node: node{cursor: cursor, offset: offset, parent: parent}}
	if err := p.read(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ARPPacket) read() error {
	var err error
	p.HardwareType, err = p.cursor.U16(p.offset)
	if err != nil {
		return err
	}
	p.ProtocolType, err = p.cursor.U16(p.offset + 2)
	if err != nil {
		return err
	}
	p.HLen, err = p.cursor.U8(p.offset + 4)
	if err != nil {
		return err
	}
	p.PLen, err = p.cursor.U8(p.offset + 5)
	if err != nil {
		return err
	}
	p.Operation, err = p.cursor.U16(p.offset + 6)
	if err != nil {
		return err
	}
	sm, err := p.cursor.Range(p.offset+8, 6)
	if err != nil {
		return err
	}
	copy(p.SenderMAC[:], sm)
	sip, err := p.cursor.Range(p.offset+14, 4)
	if err != nil {
		return err
	}
	p.SenderIP = net.IP(sip)
	tm, err := p.cursor.Range(p.offset+18, 6)
	if err != nil {
		return err
	}
	copy(p.TargetMAC[:], tm)
	tip, err := p.cursor.Range(p.offset+24, 4)
	if err != nil {
		return err
	}
	p.TargetIP = net.IP(tip)
	return nil
}

// HeaderLen is always 28 for the Ethernet/IPv4 ARP shape.
func (p *ARPPacket) HeaderLen() int { return arpHeaderLen }

// Checksum is a no-op: ARP has no checksum.
func (p *ARPPacket) Checksum(uint16) error { return nil }

// WriteARPPacket serializes an ARPPacket at offset.
func WriteARPPacket(cursor *buffer.Cursor, offset int, p *ARPPacket) error {
	if err := cursor.PutU16(offset, p.HardwareType); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+2, p.ProtocolType); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+4, p.HLen); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+5, p.PLen); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+6, p.Operation); err != nil {
		return err
	}
	if err := cursor.PutRange(offset+8, p.SenderMAC[:]); err != nil {
		return err
	}
	sip4 := p.SenderIP.To4()
	if sip4 == nil {
		sip4 = make(net.IP, 4)
	}
	if err := cursor.PutRange(offset+14, sip4); err != nil {
		return err
	}
	if err := cursor.PutRange(offset+18, p.TargetMAC[:]); err != nil {
		return err
	}
	tip4 := p.TargetIP.To4()
	if tip4 == nil {
		tip4 = make(net.IP, 4)
	}
	return cursor.PutRange(offset+24, tip4)
}
