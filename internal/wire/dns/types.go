// Package dns implements the RFC 1035 DNS wire message codec: header,
// question, and resource-record read/write with name compression, plus the
// RFC 1001/1002 NetBIOS Name Service name encoding. It is built directly on
// internal/wire/buffer.Cursor rather than on the generic internal/wire/layers
// framing, since DNS messages are not framed by a fixed header length the
// way Ethernet/IP/TCP are — the record count fields in the header drive how
// many variable-length records follow.
package dns

import "fmt"

// QueryType is the DNS RR/query type field. The numeric values are fixed by
// SPEC_FULL.md §4.D and mirror poyrazK-cloudDNS/internal/dns/packet.QueryType,
// extended with NetBIOS per RFC 1002. The DNSSEC and transaction-signature
// types (SIG, KEY, NXT, TKEY, TSIG) are recognised by number only; their
// rdata is not interpreted.
type QueryType uint16

const (
	UNKNOWN      QueryType = 0
	A            QueryType = 1
	NS           QueryType = 2
	MD           QueryType = 3
	MF           QueryType = 4
	CNAME        QueryType = 5
	SOA          QueryType = 6
	MB           QueryType = 7
	MG           QueryType = 8
	MR           QueryType = 9
	NULLRR       QueryType = 10
	WKS          QueryType = 11
	PTR          QueryType = 12
	HINFO        QueryType = 13
	MINFO        QueryType = 14
	MX           QueryType = 15
	TXT          QueryType = 16
	SIG          QueryType = 24
	KEY          QueryType = 25
	AAAA         QueryType = 28
	LOC          QueryType = 29
	NXT          QueryType = 30
	NetBIOS      QueryType = 32
	NetBIOSStat  QueryType = 33
	OPT          QueryType = 41
	HTTPS        QueryType = 65
	TKEY         QueryType = 249
	TSIG         QueryType = 250
)

var queryTypeNames = map[QueryType]string{
	A: "A", NS: "NS", MD: "MD", MF: "MF", CNAME: "CNAME", SOA: "SOA",
	MB: "MB", MG: "MG", MR: "MR", NULLRR: "NULL", WKS: "WKS", PTR: "PTR",
	HINFO: "HINFO", MINFO: "MINFO", MX: "MX", TXT: "TXT", SIG: "SIG",
	KEY: "KEY", AAAA: "AAAA", LOC: "LOC", NXT: "NXT", NetBIOS: "NB",
	NetBIOSStat: "NBSTAT", OPT: "OPT", HTTPS: "HTTPS", TKEY: "TKEY", TSIG: "TSIG",
}

// String returns the human-readable mnemonic for a QueryType, or "UNKNOWN"
// for any value outside the recognised set (per SPEC_FULL.md §4.D).
func (t QueryType) String() string {
	if name, ok := queryTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// RCode is the 4-bit DNS response code carried in the header flags word.
type RCode uint8

const (
	NoError      RCode = 0
	FormatErr    RCode = 1
	ServiceFail  RCode = 2
	NameError    RCode = 3
	NotImplement RCode = 4
	Refused      RCode = 5
	UnknownRCode RCode = 0xFF
)

func (r RCode) String() string {
	switch r {
	case NoError:
		return "NOERROR"
	case FormatErr:
		return "FORMERR"
	case ServiceFail:
		return "SERVFAIL"
	case NameError:
		return "NXDOMAIN"
	case NotImplement:
		return "NOTIMP"
	case Refused:
		return "REFUSED"
	default:
		return fmt.Sprintf("RCODE%d", uint8(r))
	}
}

// MaxCount bounds the QD/AN/NS/AR section counts a parsed message may carry,
// guarding against malformed or hostile traffic (SPEC_FULL.md §4.D).
const MaxCount = 40

// MaxRDLength bounds a single resource record's rdata length on read.
const MaxRDLength = 2048

// MaxNameDepth bounds compression-pointer recursion on name reads. The
// source this module is grounded on allows 5 jumps; SPEC_FULL.md §4.D is
// explicit about 4, so that stricter bound is the one enforced here (see
// DESIGN.md, Open Question).
const MaxNameDepth = 4
