package diff

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordDiffEdgeCases(t *testing.T) {
	assert.Equal(t, []Segment{}, WordDiff("", ""))
	assert.Equal(t, []Segment{{Type: Added, Value: "hello world"}}, WordDiff("", "hello world"))
	assert.Equal(t, []Segment{{Type: Removed, Value: "hello world"}}, WordDiff("hello world", ""))
	assert.Equal(t, []Segment{{Type: Unchanged, Value: "same  text\n"}}, WordDiff("same  text\n", "same  text\n"))
}

func TestWordDiffDraftToFinal(t *testing.T) {
	got := WordDiff("Draft Plan", "Final Plan")

	want := []Segment{
		{Type: Removed, Value: "Draft"},
		{Type: Added, Value: "Final"},
		{Type: Unchanged, Value: " Plan"},
	}
	assert.Equal(t, want, got)
}

func TestWordDiffMergesAdjacentSegments(t *testing.T) {
	got := WordDiff("a b c", "a x y c")

	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1].Type, got[i].Type, "adjacent segments must differ in type: %+v", got)
	}

	oldText, newText := Reconstruct(got)
	assert.Equal(t, "a b c", oldText)
	assert.Equal(t, "a x y c", newText)
}

func TestWordDiffPreservesWhitespace(t *testing.T) {
	oldText := "  leading\tand\n\ntrailing  "
	newText := "leading and\ttrailing \n"

	o, n := Reconstruct(WordDiff(oldText, newText))
	assert.Equal(t, oldText, o)
	assert.Equal(t, newText, n)
}

func TestWordDiffReconstructionLaw(t *testing.T) {
	cases := [][2]string{
		{"", ""},
		{"", "x"},
		{"x", ""},
		{"the quick brown fox", "the slow brown dog"},
		{"a a a", "a"},
		{"a", "a a a"},
		{"one two three", "three two one"},
		{"héllo wörld", "héllo  wörld!"},
		{"\xff\xfe bad bytes", "bad \xff bytes"},
		{" ", "  "},
	}

	for _, c := range cases {
		o, n := Reconstruct(WordDiff(c[0], c[1]))
		assert.Equal(t, c[0], o, "old text for %q -> %q", c[0], c[1])
		assert.Equal(t, c[1], n, "new text for %q -> %q", c[0], c[1])
	}
}

func TestWordDiffReconstructionRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"alpha", "beta", "gamma", "delta", " ", "  ", "\n", "\t"}

	randomText := func() string {
		var b strings.Builder
		for i := rng.Intn(20); i > 0; i-- {
			b.WriteString(words[rng.Intn(len(words))])
		}
		return b.String()
	}

	for i := 0; i < 500; i++ {
		oldText, newText := randomText(), randomText()
		o, n := Reconstruct(WordDiff(oldText, newText))
		require.Equal(t, oldText, o)
		require.Equal(t, newText, n)
	}
}

func TestLongestCommonSubsequence(t *testing.T) {
	got := longestCommonSubsequence(
		[]string{"a", "b", "c", "d", "e"},
		[]string{"a", "c", "x", "e"},
	)
	assert.Equal(t, []string{"a", "c", "e"}, got)

	assert.Empty(t, longestCommonSubsequence([]string{"a"}, []string{"b"}))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"a", " ", "bc", "\n\t", "d"}, tokenize("a bc\n\td"))
	assert.Equal(t, []string{"  ", "x"}, tokenize("  x"))
	assert.Nil(t, tokenize(""))
}

func TestWordStats(t *testing.T) {
	added, removed := WordStats(WordDiff("one two three", "one four five three"))
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)
}
