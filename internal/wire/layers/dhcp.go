package layers

import (
	"net"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
)

const (
	DHCPMagicCookie uint32 = 0x63825363

	dhcpFixedLen = 240 // through the magic cookie

	dhcpOptEnd        uint8 = 0xFF
	dhcpOptPad        uint8 = 0
	DHCPOptMessageType uint8 = 53
	DHCPOptHostname    uint8 = 12

	OpBootRequest uint8 = 1
	OpBootReply   uint8 = 2

	DHCPDiscover uint8 = 1
	DHCPOffer    uint8 = 2
	DHCPRequest  uint8 = 3
	DHCPDecline  uint8 = 4
	DHCPAck      uint8 = 5
	DHCPNak      uint8 = 6
	DHCPRelease  uint8 = 7
)

// DHCPOption is a single TLV option (type, length, value).
type DHCPOption struct {
	Code  uint8
	Value []byte
}

// DHCPPacket is the 240-byte fixed BOOTP/DHCP header followed by TLV
// options terminated by 0xFF.
type DHCPPacket struct {
	node

	Op      uint8
	HType   uint8
	HLen    uint8
	Hops    uint8
	XID     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  net.IP
	YIAddr  net.IP
	SIAddr  net.IP
	GIAddr  net.IP
	CHAddr  [16]byte
	SName   string
	File    string
	Magic   uint32
	Options []DHCPOption

	// Convenience accessors filled from Options during parse.
	MessageType uint8
	Hostname    string
}

// NewDHCPPacket parses a DHCP packet at offset; totalLen bounds the option
// scan.
func NewDHCPPacket(cursor *buffer.Cursor, offset int, parent Layer, totalLen int) (*DHCPPacket, error) {
	p := &DHCPPacket{node: node{cursor: cursor, offset: offset, parent: parent}}
	if err := p.read(totalLen); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *DHCPPacket) read(totalLen int) error {
	var err error
	p.Op, err = p.cursor.U8(p.offset)
	if err != nil {
		return err
	}
	p.HType, err = p.cursor.U8(p.offset + 1)
	if err != nil {
		return err
	}
	p.HLen, err = p.cursor.U8(p.offset + 2)
	if err != nil {
		return err
	}
	p.Hops, err = p.cursor.U8(p.offset + 3)
	if err != nil {
		return err
	}
	p.XID, err = p.cursor.U32(p.offset + 4)
	if err != nil {
		return err
	}
	p.Secs, err = p.cursor.U16(p.offset + 8)
	if err != nil {
		return err
	}
	p.Flags, err = p.cursor.U16(p.offset + 10)
	if err != nil {
		return err
	}
	ci, err := p.cursor.Range(p.offset+12, 4)
	if err != nil {
		return err
	}
	p.CIAddr = net.IP(ci)
	yi, err := p.cursor.Range(p.offset+16, 4)
	if err != nil {
		return err
	}
	p.YIAddr = net.IP(yi)
	si, err := p.cursor.Range(p.offset+20, 4)
	if err != nil {
		return err
	}
	p.SIAddr = net.IP(si)
	gi, err := p.cursor.Range(p.offset+24, 4)
	if err != nil {
		return err
	}
	p.GIAddr = net.IP(gi)
	ch, err := p.cursor.Range(p.offset+28, 16)
	if err != nil {
		return err
	}
	copy(p.CHAddr[:], ch)
	p.SName, err = p.cursor.FixedString(p.offset+44, 64)
	if err != nil {
		return err
	}
	p.File, err = p.cursor.FixedString(p.offset+108, 128)
	if err != nil {
		return err
	}
	p.Magic, err = p.cursor.U32(p.offset + 236)
	if err != nil {
		return err
	}

	pos := p.offset + dhcpFixedLen
	end := p.offset + totalLen
	for pos < end {
		code, err := p.cursor.U8(pos)
		if err != nil {
			return err
		}
		if code == dhcpOptEnd {
			break
		}
		if code == dhcpOptPad {
			pos++
			continue
		}
		length, err := p.cursor.U8(pos + 1)
		if err != nil {
			return err
		}
		value, err := p.cursor.Range(pos+2, int(length))
		if err != nil {
			return err
		}
		p.Options = append(p.Options, DHCPOption{Code: code, Value: value})

		switch code {
		case DHCPOptMessageType:
			if len(value) == 1 {
				p.MessageType = value[0]
			}
		case DHCPOptHostname:
			p.Hostname = string(value)
		}
		pos += 2 + int(length)
	}
	return nil
}

// HeaderLen is the fixed 240-byte head; options follow.
func (p *DHCPPacket) HeaderLen() int { return dhcpFixedLen }

// Checksum is a no-op: DHCP carries no checksum of its own (UDP covers it).
func (p *DHCPPacket) Checksum(uint16) error { return nil }

// WriteDHCPPacket serializes a DHCPPacket at offset, including its options
// and the terminating 0xFF.
func WriteDHCPPacket(cursor *buffer.Cursor, offset int, p *DHCPPacket) error {
	if err := cursor.PutU8(offset, p.Op); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+1, p.HType); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+2, p.HLen); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+3, p.Hops); err != nil {
		return err
	}
	if err := cursor.PutU32(offset+4, p.XID); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+8, p.Secs); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+10, p.Flags); err != nil {
		return err
	}
	for fieldOff, ip := range map[int]net.IP{12: p.CIAddr, 16: p.YIAddr, 20: p.SIAddr, 24: p.GIAddr} {
		ip4 := ip.To4()
		if ip4 == nil {
			ip4 = make(net.IP, 4)
		}
		if err := cursor.PutRange(offset+fieldOff, ip4); err != nil {
			return err
		}
	}
	if err := cursor.PutRange(offset+28, p.CHAddr[:]); err != nil {
		return err
	}
	if err := cursor.PutFixedString(offset+44, p.SName, 64); err != nil {
		return err
	}
	if err := cursor.PutFixedString(offset+108, p.File, 128); err != nil {
		return err
	}
	magic := p.Magic
	if magic == 0 {
		magic = DHCPMagicCookie
	}
	if err := cursor.PutU32(offset+236, magic); err != nil {
		return err
	}

	pos := offset + dhcpFixedLen
	for _, opt := range p.Options {
		if err := cursor.PutU8(pos, opt.Code); err != nil {
			return err
		}
		if err := cursor.PutU8(pos+1, uint8(len(opt.Value))); err != nil {
			return err
		}
		if len(opt.Value) > 0 {
			if err := cursor.PutRange(pos+2, opt.Value); err != nil {
				return err
			}
		}
		pos += 2 + len(opt.Value)
	}
	return cursor.PutU8(pos, dhcpOptEnd)
}

func withMessageType(opts []DHCPOption, t uint8) []DHCPOption {
	return append([]DHCPOption{{Code: DHCPOptMessageType, Value: []byte{t}}}, opts...)
}

// DHCPRequestPacket builds a DHCPDISCOVER from a client, per
// SPEC_FULL.md §4.C request(clientMac).
func DHCPRequestPacket(clientMAC [6]byte, xid uint32) *DHCPPacket {
	p := &DHCPPacket{
		Op: OpBootRequest, HType: 1, HLen: 6, XID: xid,
		Magic:   DHCPMagicCookie,
		Options: withMessageType(nil, DHCPDiscover),
	}
	copy(p.CHAddr[:], clientMAC[:])
	return p
}

// DHCPReplyPacket builds a DHCPACK in reply to req.
func DHCPReplyPacket(req *DHCPPacket, yourIP, serverIP, mask net.IP) *DHCPPacket {
	p := &DHCPPacket{
		Op: OpBootReply, HType: req.HType, HLen: req.HLen, XID: req.XID,
		YIAddr: yourIP, SIAddr: serverIP,
		Magic: DHCPMagicCookie,
		Options: withMessageType([]DHCPOption{
			{Code: 1, Value: mask.To4()}, // subnet mask
		}, DHCPAck),
	}
	p.CHAddr = req.CHAddr
	return p
}

// DHCPNakPacket builds a DHCPNAK in reply to req.
func DHCPNakPacket(req *DHCPPacket) *DHCPPacket {
	p := &DHCPPacket{
		Op: OpBootReply, HType: req.HType, HLen: req.HLen, XID: req.XID,
		Magic:   DHCPMagicCookie,
		Options: withMessageType(nil, DHCPNak),
	}
	p.CHAddr = req.CHAddr
	return p
}
