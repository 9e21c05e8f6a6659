package dns

import (
	"net"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
)

// Header is the fixed 12-byte RFC 1035 §4.1.1 message header. Field layout
// and the bit-packing of the flags word are grounded on
// poyrazK-cloudDNS/internal/dns/packet.DNSHeader.Read/Write, but the QR
// sense here is the RFC-correct one: Response==true means QR==1. The
// source swaps this (see DESIGN.md, Open Questions) and that bug is
// deliberately not reproduced.
type Header struct {
	ID uint16

	Response           bool
	Opcode             uint8
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	Z                  bool
	AuthenticData      bool
	CheckingDisabled   bool
	RCode              RCode

	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

func readHeader(c *buffer.Cursor, offset int) (Header, error) {
	var h Header
	id, err := c.U16(offset)
	if err != nil {
		return h, err
	}
	flagsHi, err := c.U8(offset + 2)
	if err != nil {
		return h, err
	}
	flagsLo, err := c.U8(offset + 3)
	if err != nil {
		return h, err
	}
	qd, err := c.U16(offset + 4)
	if err != nil {
		return h, err
	}
	an, err := c.U16(offset + 6)
	if err != nil {
		return h, err
	}
	ns, err := c.U16(offset + 8)
	if err != nil {
		return h, err
	}
	ar, err := c.U16(offset + 10)
	if err != nil {
		return h, err
	}

	h.ID = id
	h.RecursionDesired = flagsHi&0x01 != 0
	h.Truncated = flagsHi&0x02 != 0
	h.Authoritative = flagsHi&0x04 != 0
	h.Opcode = (flagsHi >> 3) & 0x0F
	h.Response = flagsHi&0x80 != 0
	h.RCode = RCode(flagsLo & 0x0F)
	h.Z = flagsLo&0x40 != 0
	h.AuthenticData = flagsLo&0x20 != 0
	h.CheckingDisabled = flagsLo&0x10 != 0
	h.RecursionAvailable = flagsLo&0x80 != 0
	h.QDCount = qd
	h.ANCount = an
	h.NSCount = ns
	h.ARCount = ar
	return h, nil
}

func writeHeader(c *buffer.Cursor, h Header) error {
	var flagsHi, flagsLo uint8
	if h.RecursionDesired {
		flagsHi |= 0x01
	}
	if h.Truncated {
		flagsHi |= 0x02
	}
	if h.Authoritative {
		flagsHi |= 0x04
	}
	flagsHi |= (h.Opcode & 0x0F) << 3
	if h.Response {
		flagsHi |= 0x80
	}
	flagsLo |= uint8(h.RCode) & 0x0F
	if h.CheckingDisabled {
		flagsLo |= 0x10
	}
	if h.AuthenticData {
		flagsLo |= 0x20
	}
	if h.Z {
		flagsLo |= 0x40
	}
	if h.RecursionAvailable {
		flagsLo |= 0x80
	}

	if err := c.WriteU16(h.ID); err != nil {
		return err
	}
	if err := c.WriteU8(flagsHi); err != nil {
		return err
	}
	if err := c.WriteU8(flagsLo); err != nil {
		return err
	}
	if err := c.WriteU16(h.QDCount); err != nil {
		return err
	}
	if err := c.WriteU16(h.ANCount); err != nil {
		return err
	}
	if err := c.WriteU16(h.NSCount); err != nil {
		return err
	}
	return c.WriteU16(h.ARCount)
}

// Question is a single entry of the question section.
type Question struct {
	Name  string
	QType QueryType
	Class uint16
}

// ResourceRecord is a single answer/authority/additional entry. Grounded on
// poyrazK-cloudDNS/internal/dns/packet.DNSRecord, trimmed to the record
// shapes SPEC_FULL.md §4.D actually resolves (A, AAAA, CNAME, NetBIOS,
// NetBIOS_STAT, and an opaque passthrough for everything else) instead of
// the source's full DNSSEC/SOA/HINFO/MINFO field set.
type ResourceRecord struct {
	Name  string
	Type  QueryType
	Class uint16
	TTL   uint32

	// IP holds the address for A (4 bytes) and AAAA (16 bytes) records.
	IP net.IP
	// CNAME holds the target name for CNAME records.
	CNAME string
	// NetBIOSAddresses holds the decoded addresses of a NetBIOS NB answer
	// (RFC 1002 §4.2.13): one or more (flags, IPv4) pairs.
	NetBIOSAddresses []NetBIOSAddress
	// NetBIOSNames holds the decoded entries of a NetBIOS NBSTAT answer
	// (RFC 1002 §4.2.18).
	NetBIOSNames []NetBIOSNameEntry
	NetBIOSMAC   net.HardwareAddr
	// RawRData holds the verbatim rdata bytes for any type this package
	// does not interpret, and for NetBIOS NB/NBSTAT answers alongside their
	// decoded fields, so the record can still be re-encoded unchanged.
	RawRData []byte
}

// NetBIOSAddress is one entry of a NetBIOS NB record's address list.
type NetBIOSAddress struct {
	Flags uint16
	IP    net.IP
}

// NetBIOSNameEntry is one entry of a NetBIOS NBSTAT record's name list.
type NetBIOSNameEntry struct {
	Name  [16]byte
	Flags uint16
}

// Message is a full DNS packet: header plus the four sections.
type Message struct {
	Header      Header
	Questions   []Question
	Answers     []ResourceRecord
	Authorities []ResourceRecord
	Additionals []ResourceRecord
}

// Decode parses buf as a complete DNS message.
func Decode(buf []byte) (*Message, error) {
	c := buffer.FromBytes(buf)
	m := &Message{}

	h, err := readHeader(c, 0)
	if err != nil {
		return nil, err
	}
	m.Header = h
	if h.QDCount > MaxCount || h.ANCount > MaxCount || h.NSCount > MaxCount || h.ARCount > MaxCount {
		return nil, &buffer.FormatError{Offset: 0, Context: "section count exceeds bound"}
	}

	pos := 12
	m.Questions = make([]Question, 0, h.QDCount)
	for i := uint16(0); i < h.QDCount; i++ {
		name, next, err := readName(c, pos)
		if err != nil {
			return nil, err
		}
		qtype, err := c.U16(next)
		if err != nil {
			return nil, err
		}
		qclass, err := c.U16(next + 2)
		if err != nil {
			return nil, err
		}
		m.Questions = append(m.Questions, Question{Name: name, QType: QueryType(qtype), Class: qclass})
		pos = next + 4
	}

	readSection := func(count uint16) ([]ResourceRecord, error) {
		out := make([]ResourceRecord, 0, count)
		for i := uint16(0); i < count; i++ {
			rr, next, err := readResourceRecord(c, pos)
			if err != nil {
				return nil, err
			}
			out = append(out, rr)
			pos = next
		}
		return out, nil
	}

	if m.Answers, err = readSection(h.ANCount); err != nil {
		return nil, err
	}
	if m.Authorities, err = readSection(h.NSCount); err != nil {
		return nil, err
	}
	if m.Additionals, err = readSection(h.ARCount); err != nil {
		return nil, err
	}
	return m, nil
}

func readResourceRecord(c *buffer.Cursor, offset int) (ResourceRecord, int, error) {
	var rr ResourceRecord
	name, pos, err := readName(c, offset)
	if err != nil {
		return rr, 0, err
	}
	rtype, err := c.U16(pos)
	if err != nil {
		return rr, 0, err
	}
	class, err := c.U16(pos + 2)
	if err != nil {
		return rr, 0, err
	}
	ttl, err := c.U32(pos + 4)
	if err != nil {
		return rr, 0, err
	}
	rdlength, err := c.U16(pos + 8)
	if err != nil {
		return rr, 0, err
	}
	if int(rdlength) > MaxRDLength {
		return rr, 0, &buffer.FormatError{Offset: pos + 8, Context: "rdlength exceeds bound"}
	}
	rdataStart := pos + 10
	rdata, err := c.Range(rdataStart, int(rdlength))
	if err != nil {
		return rr, 0, err
	}

	rr.Name = name
	rr.Type = QueryType(rtype)
	rr.Class = class
	rr.TTL = ttl

	switch rr.Type {
	case A:
		if len(rdata) != 4 {
			return rr, 0, &buffer.FormatError{Offset: rdataStart, Context: "A record rdata length"}
		}
		rr.IP = net.IP(append([]byte(nil), rdata...))
	case AAAA:
		if len(rdata) != 16 {
			return rr, 0, &buffer.FormatError{Offset: rdataStart, Context: "AAAA record rdata length"}
		}
		rr.IP = net.IP(append([]byte(nil), rdata...))
	case CNAME, PTR:
		cname, _, err := readName(c, rdataStart)
		if err != nil {
			return rr, 0, err
		}
		rr.CNAME = cname
	case NetBIOS:
		addrs, err := decodeNetBIOSNBRData(rdata)
		if err != nil {
			return rr, 0, err
		}
		rr.NetBIOSAddresses = addrs
		rr.RawRData = append([]byte(nil), rdata...)
	case NetBIOSStat:
		names, mac, err := decodeNetBIOSStatRData(rdata)
		if err != nil {
			return rr, 0, err
		}
		rr.NetBIOSNames = names
		rr.NetBIOSMAC = mac
		rr.RawRData = append([]byte(nil), rdata...)
	default:
		rr.RawRData = append([]byte(nil), rdata...)
	}

	return rr, rdataStart + int(rdlength), nil
}

func decodeNetBIOSNBRData(rdata []byte) ([]NetBIOSAddress, error) {
	if len(rdata) < 6 || len(rdata)%6 != 0 {
		return nil, &buffer.FormatError{Offset: 0, Context: "netbios NB rdata length"}
	}
	var out []NetBIOSAddress
	for i := 0; i+6 <= len(rdata); i += 6 {
		flags := uint16(rdata[i])<<8 | uint16(rdata[i+1])
		out = append(out, NetBIOSAddress{Flags: flags, IP: net.IP(append([]byte(nil), rdata[i+2:i+6]...))})
	}
	return out, nil
}

func decodeNetBIOSStatRData(rdata []byte) ([]NetBIOSNameEntry, net.HardwareAddr, error) {
	if len(rdata) < 1 {
		return nil, nil, &buffer.FormatError{Offset: 0, Context: "netbios NBSTAT rdata length"}
	}
	numNames := int(rdata[0])
	need := 1 + numNames*18 + 6
	if len(rdata) < need {
		return nil, nil, &buffer.FormatError{Offset: 0, Context: "netbios NBSTAT rdata truncated"}
	}
	names := make([]NetBIOSNameEntry, 0, numNames)
	pos := 1
	for i := 0; i < numNames; i++ {
		var entry NetBIOSNameEntry
		copy(entry.Name[:], rdata[pos:pos+16])
		entry.Flags = uint16(rdata[pos+16])<<8 | uint16(rdata[pos+17])
		names = append(names, entry)
		pos += 18
	}
	mac := net.HardwareAddr(append([]byte(nil), rdata[pos:pos+6]...))
	return names, mac, nil
}

// Encode serializes m to wire format with name compression enabled.
func (m *Message) Encode() ([]byte, error) {
	c := buffer.New(512)
	if err := writeHeader(c, m.Header); err != nil {
		return nil, err
	}

	names := make(map[string]int)
	for _, q := range m.Questions {
		if err := writeName(c, names, q.Name); err != nil {
			return nil, err
		}
		if err := c.WriteU16(uint16(q.QType)); err != nil {
			return nil, err
		}
		if err := c.WriteU16(q.Class); err != nil {
			return nil, err
		}
	}

	writeSection := func(rrs []ResourceRecord) error {
		for _, rr := range rrs {
			if err := writeResourceRecord(c, names, rr); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writeSection(m.Answers); err != nil {
		return nil, err
	}
	if err := writeSection(m.Authorities); err != nil {
		return nil, err
	}
	if err := writeSection(m.Additionals); err != nil {
		return nil, err
	}

	return c.Bytes(), nil
}

func writeResourceRecord(c *buffer.Cursor, names map[string]int, rr ResourceRecord) error {
	if err := writeName(c, names, rr.Name); err != nil {
		return err
	}
	if err := c.WriteU16(uint16(rr.Type)); err != nil {
		return err
	}
	if err := c.WriteU16(rr.Class); err != nil {
		return err
	}
	if err := c.WriteU32(rr.TTL); err != nil {
		return err
	}

	rdlenOffset := c.WriterIndex()
	if err := c.WriteU16(0); err != nil {
		return err
	}
	rdataStart := c.WriterIndex()

	switch rr.Type {
	case A:
		ip4 := rr.IP.To4()
		if ip4 == nil {
			return &buffer.FormatError{Offset: rdataStart, Context: "A record requires an IPv4 address"}
		}
		if err := c.WriteBytes(ip4); err != nil {
			return err
		}
	case AAAA:
		ip16 := rr.IP.To16()
		if ip16 == nil {
			return &buffer.FormatError{Offset: rdataStart, Context: "AAAA record requires an IPv6 address"}
		}
		if err := c.WriteBytes(ip16); err != nil {
			return err
		}
	case CNAME, PTR:
		if err := writeName(c, names, rr.CNAME); err != nil {
			return err
		}
	default:
		if len(rr.RawRData) > 0 {
			if err := c.WriteBytes(rr.RawRData); err != nil {
				return err
			}
		}
	}

	rdlength := c.WriterIndex() - rdataStart
	return c.PutU16(rdlenOffset, uint16(rdlength))
}
