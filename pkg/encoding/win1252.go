package encoding

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 converts a slice of bytes (WIN1252, common in Firebird legacy DBs)
// to a trimmed UTF-8 string
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return strings.TrimSpace(string(b))
	}

	return strings.TrimSpace(string(decoded))
}

// FromUTF8 converts a UTF-8 string to WIN1252 bytes.
// Runes without a WIN1252 mapping are replaced with '?'.
func FromUTF8(s string) []byte {
	if s == "" {
		return nil
	}

	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			out = append(out, '?')
			continue
		}
		out = append(out, b)
	}
	return out
}
