package voice

import "strings"

// Segment sizes for streaming text to a synthesizer. The first segment is short so audio
// starts sooner.
const (
	segmentFirstMin = 24
	segmentNextMin  = 42
	segmentCutSpan  = 44
)

// splitSpeechSegments breaks a reply into clause-sized pieces, preferring commas, then sentence
// punctuation, then whitespace.
func splitSpeechSegments(text string) []string {
	rest := strings.Join(strings.Fields(text), " ")
	var out []string
	for rest != "" {
		min := segmentNextMin
		if len(out) == 0 {
			min = segmentFirstMin
		}
		cut := segmentCut(rest, min)
		if seg := strings.TrimSpace(rest[:cut]); seg != "" {
			out = append(out, seg)
		}
		rest = strings.TrimSpace(rest[cut:])
	}
	return out
}

// segmentCut returns the end index of the next segment of input.
func segmentCut(input string, min int) int {
	if len(input) <= min {
		return len(input)
	}
	for i := min - 1; i < len(input); i++ {
		if input[i] == ',' {
			return i + 1
		}
	}
	for i := min - 1; i < len(input); i++ {
		switch input[i] {
		case '.', '!', '?', ';', ':':
			return i + 1
		}
	}
	if len(input) <= min+segmentCutSpan {
		return len(input)
	}
	if i := strings.IndexByte(input[min:], ' '); i >= 0 {
		return min + i
	}
	return len(input)
}
