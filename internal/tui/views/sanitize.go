package views

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// sanitizeForTerminal reduces every grapheme cluster to a single rune so
// tcell's width accounting matches what the terminal draws: skin tones, ZWJ
// sequences and variation selectors collapse onto their base emoji. Flags
// keep both regional indicators. Control and bidi formatting runes, which
// message bodies can carry, are dropped; newlines and tabs survive.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cluster := g.Str()
		r, _ := utf8.DecodeRuneInString(cluster)
		if cluster == "\r\n" {
			r = '\n'
		}
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r) || isBidiControl(r):
		case isRegionalIndicator(r):
			b.WriteString(cluster)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isRegionalIndicator(r rune) bool {
	return r >= 0x1F1E6 && r <= 0x1F1FF
}

func isBidiControl(r rune) bool {
	switch {
	case r == 0x200E, r == 0x200F, r == 0x061C:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	}
	return false
}
