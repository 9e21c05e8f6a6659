package layers

import "github.com/netrelay/dnsrelay/internal/wire/buffer"

const (
	ICMPTypeEchoReply   uint8 = 0
	ICMPTypeEchoRequest uint8 = 8
	ICMPTypeTimestamp        uint8 = 13
	ICMPTypeTimestampReply   uint8 = 14
)

// ICMPPacket is the 4-byte ICMP header plus a type-specific tail: echo
// request/reply (types 8/0) carry (id, seq, data); timestamp request/reply
// (types 13/14) carry three 32-bit timestamps at absolute offsets 8/12/16.
// Other types retain their tail as opaque Data.
type ICMPPacket struct {
	node

	Type       uint8
	Code       uint8
	Checksum16 uint16

	// Echo (types 0/8)
	ID       uint16
	Seq      uint16
	EchoData []byte

	// Timestamp (types 13/14)
	Originate uint32
	Receive   uint32
	Transmit  uint32

	// Any other type's raw tail.
	Data []byte

	totalLen int
}

// NewICMPPacket parses an ICMP message at offset; totalLen is the full
// ICMP message length (header + tail), taken from the enclosing IP
// layer's payload length.
func NewICMPPacket(cursor *buffer.Cursor, offset int, parent Layer, totalLen int) (*ICMPPacket, error) {
	p := &ICMPPacket{node: node{cursor: cursor, offset: offset, parent: parent}, totalLen: totalLen}
	if err := p.read(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ICMPPacket) read() error {
	var err error
	p.Type, err = p.cursor.U8(p.offset)
	if err != nil {
		return err
	}
	p.Code, err = p.cursor.U8(p.offset + 1)
	if err != nil {
		return err
	}
	p.Checksum16, err = p.cursor.U16(p.offset + 2)
	if err != nil {
		return err
	}

	switch p.Type {
	case ICMPTypeEchoRequest, ICMPTypeEchoReply:
		p.ID, err = p.cursor.U16(p.offset + 4)
		if err != nil {
			return err
		}
		p.Seq, err = p.cursor.U16(p.offset + 6)
		if err != nil {
			return err
		}
		if p.totalLen > 8 {
			data, err := p.cursor.Range(p.offset+8, p.totalLen-8)
			if err != nil {
				return err
			}
			p.EchoData = data
		}
	case ICMPTypeTimestamp, ICMPTypeTimestampReply:
		p.ID, err = p.cursor.U16(p.offset + 4)
		if err != nil {
			return err
		}
		p.Seq, err = p.cursor.U16(p.offset + 6)
		if err != nil {
			return err
		}
		p.Originate, err = p.cursor.U32(p.offset + 8)
		if err != nil {
			return err
		}
		p.Receive, err = p.cursor.U32(p.offset + 12)
		if err != nil {
			return err
		}
		p.Transmit, err = p.cursor.U32(p.offset + 16)
		if err != nil {
			return err
		}
	default:
		if p.totalLen > 4 {
			data, err := p.cursor.Range(p.offset+4, p.totalLen-4)
			if err != nil {
				return err
			}
			p.Data = data
		}
	}
	return nil
}

// HeaderLen is always 4 (the fixed ICMP header); the tail is not counted
// as "header" since its shape is type-dependent.
func (p *ICMPPacket) HeaderLen() int { return 4 }

// WriteICMPPacket serializes an ICMPPacket at offset.
func WriteICMPPacket(cursor *buffer.Cursor, offset int, p *ICMPPacket) error {
	if err := cursor.PutU8(offset, p.Type); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+1, p.Code); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+2, p.Checksum16); err != nil {
		return err
	}

	switch p.Type {
	case ICMPTypeEchoRequest, ICMPTypeEchoReply:
		if err := cursor.PutU16(offset+4, p.ID); err != nil {
			return err
		}
		if err := cursor.PutU16(offset+6, p.Seq); err != nil {
			return err
		}
		if len(p.EchoData) > 0 {
			if err := cursor.PutRange(offset+8, p.EchoData); err != nil {
				return err
			}
		}
	case ICMPTypeTimestamp, ICMPTypeTimestampReply:
		if err := cursor.PutU16(offset+4, p.ID); err != nil {
			return err
		}
		if err := cursor.PutU16(offset+6, p.Seq); err != nil {
			return err
		}
		if err := cursor.PutU32(offset+8, p.Originate); err != nil {
			return err
		}
		if err := cursor.PutU32(offset+12, p.Receive); err != nil {
			return err
		}
		if err := cursor.PutU32(offset+16, p.Transmit); err != nil {
			return err
		}
	default:
		if len(p.Data) > 0 {
			if err := cursor.PutRange(offset+4, p.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// messageLen returns the total ICMP message length this packet occupies.
func (p *ICMPPacket) messageLen() int {
	switch p.Type {
	case ICMPTypeEchoRequest, ICMPTypeEchoReply:
		return 8 + len(p.EchoData)
	case ICMPTypeTimestamp, ICMPTypeTimestampReply:
		return 20
	default:
		return 4 + len(p.Data)
	}
}

// Checksum recomputes (value==0) or stores a literal ICMP checksum. ICMP
// has no pseudo-header: the checksum covers the entire message.
func (p *ICMPPacket) Checksum(value uint16) error {
	if value != 0 {
		p.Checksum16 = value
		if err := p.cursor.PutU16(p.offset+2, value); err != nil {
			return err
		}
		return p.propagateChecksum()
	}

	if err := p.cursor.PutU16(p.offset+2, 0); err != nil {
		return err
	}
	msg, err := p.cursor.Range(p.offset, p.messageLen())
	if err != nil {
		return err
	}
	sum := internetChecksum(msg)
	p.Checksum16 = sum
	if err := p.cursor.PutU16(p.offset+2, sum); err != nil {
		return err
	}
	return p.propagateChecksum()
}
