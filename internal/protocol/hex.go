package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// HexToBytes parses a command such as "01 03 00 00 00 07 04 08".
// Whitespace is ignored and case does not matter.
func HexToBytes(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if clean == "" {
		return nil, fmt.Errorf("empty hex command")
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex command %q: %w", s, err)
	}
	return b, nil
}

// BytesToHex renders b as upper case, space separated pairs.
func BytesToHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
