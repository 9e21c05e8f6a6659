package dns

import (
	"strings"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
)

const maxNameOctets = 255
const maxLabelOctets = 63

// readName parses a domain name starting at an absolute offset, following
// compression pointers per RFC 1035 §4.1.4. It returns the dotted name, the
// absolute offset just past the name's in-place encoding (after its zero
// terminator, or after the first two-byte pointer met at the starting
// position's chain of labels), which is where the caller should resume
// sequential reading, and any error.
//
// Grounded on poyrazK-cloudDNS/internal/dns/packet.BytePacketBuffer.ReadName,
// generalized to the depth-4 loop guard SPEC_FULL.md §4.D requires (the
// source allows 5 jumps) and to fresh local names instead of the source's
// shared mname buffer (DESIGN.md, Open Questions).
func readName(c *buffer.Cursor, offset int) (string, int, error) {
	var out strings.Builder
	pos := offset
	jumps := 0
	endOffset := -1

	for {
		lenByte, err := c.U8(pos)
		if err != nil {
			return "", 0, err
		}

		if lenByte == 0 {
			pos++
			if endOffset == -1 {
				endOffset = pos
			}
			if out.Len() == 0 {
				return ".", endOffset, nil
			}
			return out.String(), endOffset, nil
		}

		if lenByte&0xC0 == 0xC0 {
			if jumps >= MaxNameDepth {
				return "", 0, &buffer.FormatError{Offset: pos, Context: "name depth"}
			}
			b2, err := c.U8(pos + 1)
			if err != nil {
				return "", 0, err
			}
			if endOffset == -1 {
				endOffset = pos + 2
			}
			pos = int((uint16(lenByte)&0x3F)<<8 | uint16(b2))
			jumps++
			continue
		}

		pos++
		labelLen := int(lenByte)
		label, err := c.Range(pos, labelLen)
		if err != nil {
			return "", 0, err
		}
		for _, ch := range label {
			if ch >= 'A' && ch <= 'Z' {
				ch += 32
			}
			out.WriteByte(ch)
		}
		out.WriteByte('.')
		pos += labelLen
	}
}

// writeName appends a domain name as length-prefixed labels terminated by a
// zero byte, compressing against names map (lowercased name -> absolute
// offset of its first occurrence) when possible. names may be nil to force
// fully uncompressed output (still valid per SPEC_FULL.md §4.D: "implementers
// MAY emit fully uncompressed names").
func writeName(c *buffer.Cursor, names map[string]int, name string) error {
	if name == "" || name == "." {
		return c.WriteU8(0)
	}
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	if len(name) > maxNameOctets {
		return &buffer.FormatError{Offset: c.WriterIndex(), Context: "name exceeds 255 octets"}
	}

	remaining := name
	for {
		if remaining == "" || remaining == "." {
			return c.WriteU8(0)
		}

		if names != nil {
			lower := strings.ToLower(remaining)
			if pos, ok := names[lower]; ok {
				return c.WriteU16(uint16(pos) | 0xC000)
			}
			if c.WriterIndex() < 0x4000 {
				names[lower] = c.WriterIndex()
			}
		}

		dot := strings.IndexByte(remaining, '.')
		if dot == -1 {
			return c.WriteU8(0)
		}
		label := remaining[:dot]
		if len(label) > maxLabelOctets {
			return &buffer.FormatError{Offset: c.WriterIndex(), Context: "label exceeds 63 octets"}
		}
		if len(label) > 0 {
			if err := c.WriteU8(uint8(len(label))); err != nil {
				return err
			}
			if err := c.WriteBytes([]byte(label)); err != nil {
				return err
			}
		}
		remaining = remaining[dot+1:]
	}
}
