package decoder

import "bytes"

const esc = 0x1B

// sanitize removes escape sequences (ESC plus one byte) and bytes outside
// printable ASCII. Tabs become spaces. Line breaks are kept when keepBreaks
// is set and turned into spaces otherwise.
func sanitize(b []byte, keepBreaks bool) string {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case c == esc:
			i++
		case c == '\t':
			out = append(out, ' ')
		case c == '\r' || c == '\n':
			if keepBreaks {
				out = append(out, c)
			} else {
				out = append(out, ' ')
			}
		case c >= 0x20 && c <= 0x7E:
			out = append(out, c)
		}
	}
	return string(bytes.TrimSpace(out))
}
