package layers

import "github.com/netrelay/dnsrelay/internal/wire/buffer"

// TCP flag bit positions within header byte 13, per SPEC_FULL.md §3.
const (
	tcpFlagURG = 5
	tcpFlagACK = 4
	tcpFlagPSH = 3
	tcpFlagRST = 2
	tcpFlagSYN = 1
	tcpFlagFIN = 0
)

// TCPSegment is the standard RFC 793 layout.
type TCPSegment struct {
	node

	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8 // header length in 32-bit words

	URG, ACK, PSH, RST, SYN, FIN bool

	Window   uint16
	Checksum16 uint16
	Urgent   uint16
	Options  []byte
	Payload  []byte
}

// NewTCPSegment parses a TCP segment at offset; payloadLen is the total
// length of the segment, header included (the enclosing IP layer's payload
// length).
func NewTCPSegment(cursor *buffer.Cursor, offset int, parent Layer, payloadLen int) (*TCPSegment, error) {
	s := &TCPSegment{node: node{cursor: cursor, offset: offset, parent: parent}}
	if err := s.read(payloadLen); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TCPSegment) read(totalLen int) error {
	var err error
	s.SrcPort, err = s.cursor.U16(s.offset)
	if err != nil {
		return err
	}
	s.DstPort, err = s.cursor.U16(s.offset + 2)
	if err != nil {
		return err
	}
	s.SeqNum, err = s.cursor.U32(s.offset + 4)
	if err != nil {
		return err
	}
	s.AckNum, err = s.cursor.U32(s.offset + 8)
	if err != nil {
		return err
	}
	offByte, err := s.cursor.U8(s.offset + 12)
	if err != nil {
		return err
	}
	s.DataOffset = offByte >> 4

	flags, err := s.cursor.U8(s.offset + 13)
	if err != nil {
		return err
	}
	s.URG = flags&(1<<tcpFlagURG) != 0
	s.ACK = flags&(1<<tcpFlagACK) != 0
	s.PSH = flags&(1<<tcpFlagPSH) != 0
	s.RST = flags&(1<<tcpFlagRST) != 0
	s.SYN = flags&(1<<tcpFlagSYN) != 0
	s.FIN = flags&(1<<tcpFlagFIN) != 0

	s.Window, err = s.cursor.U16(s.offset + 14)
	if err != nil {
		return err
	}
	s.Checksum16, err = s.cursor.U16(s.offset + 16)
	if err != nil {
		return err
	}
	s.Urgent, err = s.cursor.U16(s.offset + 18)
	if err != nil {
		return err
	}

	if s.DataOffset > 5 {
		opts, err := s.cursor.Range(s.offset+20, int(s.DataOffset-5)*4)
		if err != nil {
			return err
		}
		s.Options = opts
	}

	payloadLen := totalLen - s.HeaderLen()
	if payloadLen > 0 {
		payload, err := s.cursor.Range(s.offset+s.HeaderLen(), payloadLen)
		if err != nil {
			return err
		}
		s.Payload = payload
	}
	return nil
}

// HeaderLen is DataOffset*4.
func (s *TCPSegment) HeaderLen() int { return int(s.DataOffset) * 4 }

func (s *TCPSegment) flagsByte() uint8 {
	var f uint8
	if s.URG {
		f |= 1 << tcpFlagURG
	}
	if s.ACK {
		f |= 1 << tcpFlagACK
	}
	if s.PSH {
		f |= 1 << tcpFlagPSH
	}
	if s.RST {
		f |= 1 << tcpFlagRST
	}
	if s.SYN {
		f |= 1 << tcpFlagSYN
	}
	if s.FIN {
		f |= 1 << tcpFlagFIN
	}
	return f
}

// WriteTCPSegment serializes a TCPSegment header+payload at offset.
func WriteTCPSegment(cursor *buffer.Cursor, offset int, s *TCPSegment) error {
	if s.DataOffset == 0 {
		s.DataOffset = 5
	}
	if err := cursor.PutU16(offset, s.SrcPort); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+2, s.DstPort); err != nil {
		return err
	}
	if err := cursor.PutU32(offset+4, s.SeqNum); err != nil {
		return err
	}
	if err := cursor.PutU32(offset+8, s.AckNum); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+12, s.DataOffset<<4); err != nil {
		return err
	}
	if err := cursor.PutU8(offset+13, s.flagsByte()); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+14, s.Window); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+16, s.Checksum16); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+18, s.Urgent); err != nil {
		return err
	}
	if len(s.Options) > 0 {
		if err := cursor.PutRange(offset+20, s.Options); err != nil {
			return err
		}
	}
	if len(s.Payload) > 0 {
		if err := cursor.PutRange(offset+s.HeaderLen(), s.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Checksum recomputes (value==0) or stores a literal TCP checksum using
// the enclosing IP layer's pseudo-header, then invalidates the parent.
func (s *TCPSegment) Checksum(value uint16) error {
	if value != 0 {
		s.Checksum16 = value
		if err := s.cursor.PutU16(s.offset+16, value); err != nil {
			return err
		}
		return s.propagateChecksum()
	}

	ipParent, ok := s.parent.(IPLayer)
	if !ok {
		return &buffer.FormatError{Offset: s.offset, Context: "tcp checksum requires an IP parent"}
	}

	totalLen := s.HeaderLen() + len(s.Payload)
	if err := s.cursor.PutU16(s.offset+16, 0); err != nil {
		return err
	}
	segment, err := s.cursor.Range(s.offset, totalLen)
	if err != nil {
		return err
	}
	protocol := uint8(ProtoTCP)
	pseudo, err := ipParent.PseudoHeader(protocol, uint16(totalLen))
	if err != nil {
		return err
	}
	sum := internetChecksum(pseudo, segment)
	s.Checksum16 = sum
	if err := s.cursor.PutU16(s.offset+16, sum); err != nil {
		return err
	}
	return s.propagateChecksum()
}

// CreateSyn builds a fresh SYN segment, per SPEC_FULL.md §4.C.
func CreateSyn(srcPort, dstPort uint16, seq uint32) *TCPSegment {
	return &TCPSegment{SrcPort: srcPort, DstPort: dstPort, SeqNum: seq, SYN: true, DataOffset: 5, Window: 65535}
}

// ReplySynAck builds a SYN+ACK in reply to a received SYN, with Ack set to
// peerSeq+1.
func ReplySynAck(req *TCPSegment, seq uint32) *TCPSegment {
	return &TCPSegment{
		SrcPort: req.DstPort, DstPort: req.SrcPort,
		SeqNum: seq, AckNum: req.SeqNum + 1,
		SYN: true, ACK: true, DataOffset: 5, Window: 65535,
	}
}

// ReplyAck builds a bare ACK for a received segment, with Ack advanced by
// the size of the peer's payload (or 1 for a SYN/FIN with no payload).
func ReplyAck(req *TCPSegment, seq uint32) *TCPSegment {
	advance := uint32(len(req.Payload))
	if advance == 0 && (req.SYN || req.FIN) {
		advance = 1
	}
	return &TCPSegment{
		SrcPort: req.DstPort, DstPort: req.SrcPort,
		SeqNum: seq, AckNum: req.SeqNum + advance,
		ACK: true, DataOffset: 5, Window: 65535,
	}
}

// ReplyRst builds an RST in response to req.
func ReplyRst(req *TCPSegment) *TCPSegment {
	return &TCPSegment{
		SrcPort: req.DstPort, DstPort: req.SrcPort,
		SeqNum: req.AckNum, AckNum: req.SeqNum + 1,
		RST: true, ACK: true, DataOffset: 5,
	}
}

// CreateFin builds a FIN segment.
func CreateFin(srcPort, dstPort uint16, seq, ack uint32) *TCPSegment {
	return &TCPSegment{SrcPort: srcPort, DstPort: dstPort, SeqNum: seq, AckNum: ack, FIN: true, ACK: true, DataOffset: 5, Window: 65535}
}

// ReplyFinAck builds a FIN+ACK in reply to a received FIN, with Ack set to
// peerSeq+1.
func ReplyFinAck(req *TCPSegment, seq uint32) *TCPSegment {
	return &TCPSegment{
		SrcPort: req.DstPort, DstPort: req.SrcPort,
		SeqNum: seq, AckNum: req.SeqNum + 1,
		FIN: true, ACK: true, DataOffset: 5, Window: 65535,
	}
}
