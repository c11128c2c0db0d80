// Segmentation of model output into human-scale message chunks.
//
// The policy is deterministic so it can be asserted exactly in tests:
//
//   - Text up to 200 chars is one segment.
//   - Text up to 400 chars gets at most one split, at a sentence-ending
//     punctuation mark near the midpoint that is not part of a decimal, URL,
//     or email, and that does not cut a word.
//   - Longer text splits on blank-line paragraph boundaries when present;
//     otherwise it is scanned into sentences which are greedily coalesced
//     into groups of at most 300 chars.
package delivery

import (
	"strings"
	"unicode"
)

const (
	singleSegmentMax = 200
	midpointSplitMax = 400
	sentenceGroupMax = 300
)

// Split breaks reply text into ordered delivery segments.
func Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	rs := []rune(text)
	n := len(rs)

	if n <= singleSegmentMax {
		return []string{text}
	}
	if n <= midpointSplitMax {
		if first, second, ok := midpointSplit(rs); ok {
			return []string{first, second}
		}
		return []string{text}
	}

	if paragraphs := splitParagraphs(text); len(paragraphs) > 1 {
		return paragraphs
	}
	sentences := splitSentences(rs)
	if len(sentences) <= 1 {
		return []string{text}
	}
	return coalesce(sentences, sentenceGroupMax)
}

// midpointSplit attempts exactly one split at the sentence boundary closest
// to the midpoint. The boundary must land within 60%–140% of the midpoint
// and must not cut a word.
func midpointSplit(rs []rune) (first, second string, ok bool) {
	n := len(rs)
	mid := n / 2
	lo := int(float64(mid) * 0.6)
	hi := int(float64(mid) * 1.4)

	best := -1
	for i := 0; i < n; i++ {
		if !isSentenceEnd(rs, i) {
			continue
		}
		if i < lo || i > hi {
			continue
		}
		if best == -1 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best == -1 {
		return "", "", false
	}
	first = string(rs[:best+1])
	second = strings.TrimSpace(string(rs[best+1:]))
	if second == "" {
		return "", "", false
	}
	return first, second, true
}

// isSentenceEnd reports whether rs[i] terminates a sentence. Periods inside
// decimals, URLs, and email addresses are excluded heuristically: any '@'
// within ±10 runes, or a period flanked by letters/digits within ±5 runes,
// disqualifies the position. A genuine boundary is followed by whitespace or
// the end of text, so it never cuts a word.
func isSentenceEnd(rs []rune, i int) bool {
	switch rs[i] {
	case '.', '!', '?':
	default:
		return false
	}
	if i+1 < len(rs) && !unicode.IsSpace(rs[i+1]) {
		return false
	}
	for j := max(0, i-10); j <= min(len(rs)-1, i+10); j++ {
		if rs[j] == '@' {
			return false
		}
	}
	for j := max(0, i-5); j <= min(len(rs)-1, i+5); j++ {
		if rs[j] != '.' {
			continue
		}
		if j > 0 && j+1 < len(rs) && isWordRune(rs[j-1]) && isWordRune(rs[j+1]) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// splitParagraphs returns the non-empty blank-line separated blocks.
func splitParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences scans rune by rune, accumulating sentences terminated by a
// valid sentence-ending mark. Trailing text without a terminator becomes the
// final sentence.
func splitSentences(rs []rune) []string {
	var out []string
	start := 0
	for i := 0; i < len(rs); i++ {
		if !isSentenceEnd(rs, i) {
			continue
		}
		s := strings.TrimSpace(string(rs[start : i+1]))
		if s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(string(rs[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

// coalesce greedily joins adjacent sentences while the group stays within
// limit runes.
func coalesce(sentences []string, limit int) []string {
	var out []string
	var group strings.Builder
	groupRunes := 0
	for _, s := range sentences {
		sr := len([]rune(s))
		if groupRunes > 0 && groupRunes+1+sr > limit {
			out = append(out, group.String())
			group.Reset()
			groupRunes = 0
		}
		if groupRunes > 0 {
			group.WriteByte(' ')
			groupRunes++
		}
		group.WriteString(s)
		groupRunes += sr
	}
	if groupRunes > 0 {
		out = append(out, group.String())
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
