package dns

import "github.com/netrelay/dnsrelay/internal/wire/buffer"

// EncodeNetBIOSName implements the RFC 1001 §14.1 "first-level encoding" of
// a 16-byte NetBIOS name into the 32-byte ASCII form carried in a DNS-style
// label. Each raw byte splits into two nibbles; each nibble maps onto a
// letter by adding it to 'A'. There is no teacher analogue for this
// encoding (poyrazK-cloudDNS never touches NetBIOS) so it is written
// directly from RFC 1001, whose worked example is
// ("FRED            " -> "EGFCEFEECACACACACACACACACACACACA").
func EncodeNetBIOSName(raw [16]byte) [32]byte {
	var out [32]byte
	for i, b := range raw {
		out[i*2] = 'A' + (b >> 4)
		out[i*2+1] = 'A' + (b & 0x0F)
	}
	return out
}

// DecodeNetBIOSName reverses EncodeNetBIOSName. It returns a FormatError if
// any byte of encoded falls outside the 'A'..'P' range the encoding can
// ever produce.
func DecodeNetBIOSName(encoded [32]byte) ([16]byte, error) {
	var out [16]byte
	for i := 0; i < 16; i++ {
		hi := encoded[i*2]
		lo := encoded[i*2+1]
		if hi < 'A' || hi > 'P' || lo < 'A' || lo > 'P' {
			return out, &buffer.FormatError{Offset: i * 2, Context: "netbios name byte out of range"}
		}
		out[i] = (hi-'A')<<4 | (lo - 'A')
	}
	return out, nil
}

// PadNetBIOSName pads or truncates name to exactly 16 bytes using spaces,
// the fill byte RFC 1001 specifies for names shorter than the fixed field.
func PadNetBIOSName(name string) [16]byte {
	var raw [16]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[:], name)
	return raw
}
