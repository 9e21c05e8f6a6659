package layers

import (
	"fmt"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
)

const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv6 uint16 = 0x86DD
	etherTypeVLAN uint16 = 0x8100

	minEthernetPayload = 46
)

// EthernetFrame is the link-layer framing: 6-byte dst MAC, 6-byte src MAC,
// an optional 802.1Q VLAN tag, a 2-byte EtherType, then payload.
type EthernetFrame struct {
	node

	DstMAC [6]byte
	SrcMAC [6]byte

	VLANTagged bool
	PCP        uint8 // 3 bits
	CFI        bool
	VID        uint16 // 12 bits

	EtherType uint16
}

// NewEthernetFrame parses an Ethernet frame at offset in cursor.
func NewEthernetFrame(cursor *buffer.Cursor, offset int) (*EthernetFrame, error) {
	f := &EthernetFrame{node: node{cursor: cursor, offset: offset}}
	if err := f.read(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *EthernetFrame) read() error {
	dst, err := f.cursor.Range(f.offset, 6)
	if err != nil {
		return err
	}
	copy(f.DstMAC[:], dst)

	src, err := f.cursor.Range(f.offset+6, 6)
	if err != nil {
		return err
	}
	copy(f.SrcMAC[:], src)

	peek, err := f.cursor.U16(f.offset + 12)
	if err != nil {
		return err
	}

	if peek == etherTypeVLAN {
		f.VLANTagged = true
		tci, err := f.cursor.U16(f.offset + 14)
		if err != nil {
			return err
		}
		f.PCP = uint8(tci >> 13)
		f.CFI = (tci & 0x1000) != 0
		f.VID = tci & 0x0FFF

		et, err := f.cursor.U16(f.offset + 16)
		if err != nil {
			return err
		}
		f.EtherType = et
	} else {
		f.EtherType = peek
	}
	return nil
}

// HeaderLen is 14 for untagged frames, 18 for VLAN-tagged ones.
func (f *EthernetFrame) HeaderLen() int {
	if f.VLANTagged {
		return 18
	}
	return 14
}

// Checksum is a no-op: Ethernet frames carry no checksum field in this codec.
func (f *EthernetFrame) Checksum(uint16) error { return nil }

// WriteEthernetFrame serializes an EthernetFrame header at offset,
// followed by payload, zero-padded up to the 46-byte minimum payload size.
func WriteEthernetFrame(cursor *buffer.Cursor, offset int, f *EthernetFrame, payload []byte) error {
	if err := cursor.PutRange(offset, f.DstMAC[:]); err != nil {
		return err
	}
	if err := cursor.PutRange(offset+6, f.SrcMAC[:]); err != nil {
		return err
	}

	headerLen := 14
	if f.VLANTagged {
		headerLen = 18
		if err := cursor.PutU16(offset+12, etherTypeVLAN); err != nil {
			return err
		}
		tci := (uint16(f.PCP) << 13) | f.VID
		if f.CFI {
			tci |= 0x1000
		}
		if err := cursor.PutU16(offset+14, tci); err != nil {
			return err
		}
		if err := cursor.PutU16(offset+16, f.EtherType); err != nil {
			return err
		}
	} else {
		if err := cursor.PutU16(offset+12, f.EtherType); err != nil {
			return err
		}
	}

	if len(payload) < minEthernetPayload {
		padded := make([]byte, minEthernetPayload)
		copy(padded, payload)
		payload = padded
	}
	return cursor.PutRange(offset+headerLen, payload)
}

// ChildLayerKind reports which concrete layer EtherType dispatches to, for
// auto-dispatching callers; unrecognized EtherTypes are reported as an
// error rather than silently skipped, per SPEC_FULL.md §4.C, though the
// frame's bytes remain fully storable regardless.
func (f *EthernetFrame) ChildLayerKind() (kind string, err error) {
	switch f.EtherType {
	case EtherTypeIPv4:
		return "ipv4", nil
	case EtherTypeIPv6:
		return "ipv6", nil
	case EtherTypeARP:
		return "arp", nil
	default:
		return "", fmt.Errorf("ethernet: unsupported ethertype 0x%04x for auto-dispatch", f.EtherType)
	}
}

// PayloadOffset returns the absolute offset of this frame's payload.
func (f *EthernetFrame) PayloadOffset() int { return f.offset + f.HeaderLen() }
