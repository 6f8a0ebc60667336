package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechHTMLTagPattern      = regexp.MustCompile(`<[^>]*>`)
	speechMarkdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	speechMarkupPattern       = regexp.MustCompile("[*_~`#]")
)

// StripMarkdown removes HTML tags and markdown markup, keeping link labels,
// and joins lines with spaces.
func StripMarkdown(raw string) string {
	out := speechHTMLTagPattern.ReplaceAllString(raw, "")
	out = speechMarkdownLinkPattern.ReplaceAllString(out, "$1")
	out = speechMarkupPattern.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\n\n", " ")
	out = strings.ReplaceAll(out, "\n", " ")
	return strings.TrimSpace(out)
}

// speechText prepares a bot answer for synthesis: markup is stripped, emoji
// and symbol glyphs are dropped and whitespace is collapsed.
func speechText(raw string) string {
	raw = StripMarkdown(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.Is(unicode.So, r):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
