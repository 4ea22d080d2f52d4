// ABOUTME: Word-level diff using a longest common subsequence table
// ABOUTME: Whitespace runs are tokens so both texts reconstruct exactly

package diff

import (
	"strings"
	"unicode"
)

// WordDiff computes an ordered list of added, removed and unchanged segments.
//
// Concatenating the Removed and Unchanged values yields oldText; concatenating
// the Added and Unchanged values yields newText.
func WordDiff(oldText, newText string) []Segment {
	switch {
	case oldText == "" && newText == "":
		return []Segment{}
	case oldText == "":
		return []Segment{{Type: Added, Value: newText}}
	case newText == "":
		return []Segment{{Type: Removed, Value: oldText}}
	}

	oldTokens := tokenize(oldText)
	newTokens := tokenize(newText)
	common := longestCommonSubsequence(oldTokens, newTokens)

	segments := make([]Segment, 0, len(oldTokens)+len(newTokens))
	i, j := 0, 0
	for _, token := range common {
		for oldTokens[i] != token {
			segments = appendSegment(segments, Removed, oldTokens[i])
			i++
		}
		for newTokens[j] != token {
			segments = appendSegment(segments, Added, newTokens[j])
			j++
		}
		segments = appendSegment(segments, Unchanged, token)
		i++
		j++
	}
	for ; i < len(oldTokens); i++ {
		segments = appendSegment(segments, Removed, oldTokens[i])
	}
	for ; j < len(newTokens); j++ {
		segments = appendSegment(segments, Added, newTokens[j])
	}

	return segments
}

// appendSegment merges into the previous segment when the type matches
func appendSegment(segments []Segment, typ SegmentType, value string) []Segment {
	if n := len(segments); n > 0 && segments[n-1].Type == typ {
		segments[n-1].Value += value
		return segments
	}
	return append(segments, Segment{Type: typ, Value: value})
}

// tokenize splits s into alternating maximal runs of whitespace and non-whitespace
func tokenize(s string) []string {
	var tokens []string
	start := 0
	inSpace := false

	for pos, r := range s {
		space := unicode.IsSpace(r)
		if pos == 0 {
			inSpace = space
			continue
		}
		if space != inSpace {
			tokens = append(tokens, s[start:pos])
			start = pos
			inSpace = space
		}
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// longestCommonSubsequence returns one LCS of a and b. The shared prefix and
// suffix are matched directly and only the middle is fed to the O(m*n) table.
func longestCommonSubsequence(a, b []string) []string {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	midA := a[prefix : len(a)-suffix]
	midB := b[prefix : len(b)-suffix]

	out := make([]string, 0, prefix+suffix+min(len(midA), len(midB)))
	out = append(out, a[:prefix]...)
	out = append(out, lcsTable(midA, midB)...)
	out = append(out, a[len(a)-suffix:]...)
	return out
}

// lcsTable runs the classic dynamic program. table[i][j] holds the LCS length
// of a[i:] and b[j:], so the subsequence is recovered walking forward.
func lcsTable(a, b []string) []string {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	width := n + 1
	table := make([]int, (m+1)*width)
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			} else {
				table[i*width+j] = max(table[(i+1)*width+j], table[i*width+j+1])
			}
		}
	}

	out := make([]string, 0, table[0])
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case table[(i+1)*width+j] >= table[i*width+j+1]:
			i++
		default:
			j++
		}
	}
	return out
}

// WordStats counts non-whitespace tokens in added and removed segments
func WordStats(segments []Segment) (added, removed int) {
	for _, seg := range segments {
		switch seg.Type {
		case Added:
			added += countWords(seg.Value)
		case Removed:
			removed += countWords(seg.Value)
		}
	}
	return added, removed
}

func countWords(s string) int {
	return len(strings.FieldsFunc(s, unicode.IsSpace))
}

// Reconstruct rebuilds the old and new texts from a segment list
func Reconstruct(segments []Segment) (oldText, newText string) {
	var oldB, newB strings.Builder
	for _, seg := range segments {
		switch seg.Type {
		case Unchanged:
			oldB.WriteString(seg.Value)
			newB.WriteString(seg.Value)
		case Removed:
			oldB.WriteString(seg.Value)
		case Added:
			newB.WriteString(seg.Value)
		}
	}
	return oldB.String(), newB.String()
}
