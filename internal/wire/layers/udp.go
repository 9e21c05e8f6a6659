package layers

import "github.com/netrelay/dnsrelay/internal/wire/buffer"

const udpHeaderLen = 8

// UDPDatagram is the standard RFC 768 layout.
type UDPDatagram struct {
	node

	SrcPort    uint16
	DstPort    uint16
	Length     uint16 // header + payload, per RFC 768
	Checksum16 uint16
	Payload    []byte
}

// NewUDPDatagram parses a UDP datagram at offset.
func NewUDPDatagram(cursor *buffer.Cursor, offset int, parent Layer) (*UDPDatagram, error) {
	d := &UDPDatagram{node: node{cursor: cursor, offset: offset, parent: parent}}
	if err := d.read(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *UDPDatagram) read() error {
	var err error
	d.SrcPort, err = d.cursor.U16(d.offset)
	if err != nil {
		return err
	}
	d.DstPort, err = d.cursor.U16(d.offset + 2)
	if err != nil {
		return err
	}
	d.Length, err = d.cursor.U16(d.offset + 4)
	if err != nil {
		return err
	}
	d.Checksum16, err = d.cursor.U16(d.offset + 6)
	if err != nil {
		return err
	}
	payloadLen := int(d.Length) - udpHeaderLen
	if payloadLen > 0 {
		payload, err := d.cursor.Range(d.offset+udpHeaderLen, payloadLen)
		if err != nil {
			return err
		}
		d.Payload = payload
	}
	return nil
}

// HeaderLen is always 8 for UDP.
func (d *UDPDatagram) HeaderLen() int { return udpHeaderLen }

// NewUDP builds a fresh UDP datagram with Length set from the payload.
func NewUDP(srcPort, dstPort uint16, payload []byte) *UDPDatagram {
	return &UDPDatagram{
		SrcPort: srcPort,
		DstPort: dstPort,
		Length:  uint16(udpHeaderLen + len(payload)),
		Payload: payload,
	}
}

// WriteUDPDatagram serializes a UDPDatagram header+payload at offset.
func WriteUDPDatagram(cursor *buffer.Cursor, offset int, d *UDPDatagram) error {
	if err := cursor.PutU16(offset, d.SrcPort); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+2, d.DstPort); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+4, d.Length); err != nil {
		return err
	}
	if err := cursor.PutU16(offset+6, d.Checksum16); err != nil {
		return err
	}
	if len(d.Payload) > 0 {
		if err := cursor.PutRange(offset+udpHeaderLen, d.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Checksum recomputes (value==0) or stores a literal UDP checksum using the
// enclosing IP layer's pseudo-header. A computed-zero result is transmitted
// as 0xFFFF, per SPEC_FULL.md §4.C.
func (d *UDPDatagram) Checksum(value uint16) error {
	if value != 0 {
		d.Checksum16 = value
		if err := d.cursor.PutU16(d.offset+6, value); err != nil {
			return err
		}
		return d.propagateChecksum()
	}

	ipParent, ok := d.parent.(IPLayer)
	if !ok {
		return &buffer.FormatError{Offset: d.offset, Context: "udp checksum requires an IP parent"}
	}

	if err := d.cursor.PutU16(d.offset+6, 0); err != nil {
		return err
	}
	datagram, err := d.cursor.Range(d.offset, int(d.Length))
	if err != nil {
		return err
	}
	pseudo, err := ipParent.PseudoHeader(ProtoUDP, d.Length)
	if err != nil {
		return err
	}
	sum := internetChecksum(pseudo, datagram)
	if sum == 0 {
		sum = 0xFFFF
	}
	d.Checksum16 = sum
	if err := d.cursor.PutU16(d.offset+6, sum); err != nil {
		return err
	}
	return d.propagateChecksum()
}
