package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// speechRewrite is one substitution applied to model text before synthesis.
type speechRewrite struct {
	pattern *regexp.Regexp
	with    string
}

// speechRewrites run in order. Markup goes first so link labels survive URL removal; listing
// shorthand follows so callers hear words instead of letters.
var speechRewrites = []speechRewrite{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`), ""},
	{regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*k\b`), "$1 thousand dollars"},
	{regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*(?:m|mm)\b`), "$1 million dollars"},
	{regexp.MustCompile(`(?i)\b(?:sq\.?\s*ft|sqft)\b`), "square feet"},
	{regexp.MustCompile(`(?i)\b(\d+)\s*(?:bd|br)\b`), "$1 bedroom"},
	{regexp.MustCompile(`(?i)\b(\d+(?:\.\d)?)\s*ba\b`), "$1 bath"},
	{regexp.MustCompile(`\s*&\s*`), " and "},
}

const (
	// speechMarkupRunes become word breaks.
	speechMarkupRunes = `*_\/|#~<>`
	// speechKeptPunctuation shapes prosody; other punctuation becomes a word break.
	speechKeptPunctuation = `.,!?:;'"-()`
)

// sanitizeSpeechText turns model text into something a synthesizer reads naturally on a phone
// line: no markup, links, emoji or listing abbreviations.
func sanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, rw := range speechRewrites {
		raw = rw.pattern.ReplaceAllString(raw, rw.with)
	}
	return strings.Join(strings.Fields(strings.Map(speakableRune, raw)), " ")
}

// speakableRune maps r to itself, to a space, or drops it (-1).
func speakableRune(r rune) rune {
	switch {
	case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		return -1
	case unicode.IsSpace(r) || strings.ContainsRune(speechMarkupRunes, r):
		return ' '
	case unicode.IsControl(r):
		return -1
	case strings.ContainsRune(speechKeptPunctuation, r):
		return r
	case unicode.IsPunct(r):
		return ' '
	case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		return -1
	}
	return r
}
