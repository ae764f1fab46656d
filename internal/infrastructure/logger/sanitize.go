package logger

import (
	"fmt"
	"strings"
)

var escapes = map[rune]string{
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
}

// SanitizeForLog escapes control characters so user-supplied URLs and
// subprocess output cannot forge log lines or drive the terminal. Printable
// Unicode is kept as is.
func SanitizeForLog(s string) string {
	if !strings.ContainsFunc(s, isControl) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		switch {
		case escapes[r] != "":
			sb.WriteString(escapes[r])
		case isControl(r):
			fmt.Fprintf(&sb, `\x%02x`, r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

// Truncate sanitizes s and keeps at most limit runes, marking the cut with "...".
// Used for subprocess output, which can be arbitrarily long.
func Truncate(s string, limit int) string {
	s = SanitizeForLog(strings.TrimSpace(s))
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
