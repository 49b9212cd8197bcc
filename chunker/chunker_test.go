package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_EmptyInput(t *testing.T) {
	assert.Nil(t, Split("", DefaultOptions()))
	assert.Nil(t, Split("   \n\t  ", DefaultOptions()))
}

func TestSplit_SingleShortDocument(t *testing.T) {
	// Three sentences, ~20 words total, well under the 100-word target:
	// everything lands in one chunk.
	text := "Parth works at Acme Systems. He is a software engineer. He enjoys reading about artificial intelligence."
	chunks := Split(text, DefaultOptions())

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "Acme")
	assert.Contains(t, chunks[0].Text, "artificial intelligence")
	assert.False(t, chunks[0].Negation)
}

func TestSplit_NegationTagging(t *testing.T) {
	t.Run("negation cue tags the containing chunk", func(t *testing.T) {
		text := "Parth works at Acme. He no longer works at Acme."
		chunks := Split(text, Options{TargetWords: 50, OverlapWords: 5})

		require.Len(t, chunks, 1)
		assert.Equal(t, "Parth works at Acme He no longer works at Acme", chunks[0].Text)
		assert.True(t, chunks[0].Negation)
	})

	t.Run("chunks without cues are never tagged", func(t *testing.T) {
		text := "Raju is a freelance consultant. He enjoys painting landscapes on weekends with friends."
		chunks := Split(text, DefaultOptions())

		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.False(t, c.Negation, "chunk %q should not carry a negation tag", c.Text)
		}
	})

	t.Run("cue vocabulary", func(t *testing.T) {
		for _, cue := range []string{"not", "no longer", "doesn't", "don't", "left", "stopped", "quit", "resigned"} {
			assert.True(t, HasNegation("he "+cue+" the company"), cue)
		}
		assert.False(t, HasNegation("he joined the company"))
	})
}

func TestSplit_NoSentencePunctuation(t *testing.T) {
	// Without terminal punctuation the whole trimmed text becomes one chunk,
	// even below the five-word minimum.
	chunks := Split("  just four small words  ", DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "just four small words", chunks[0].Text)
}

func TestSplit_MinimumChunkSize(t *testing.T) {
	chunks := Split(longText(30, 8), Options{TargetWords: 20, OverlapWords: 3})
	for _, c := range chunks {
		assert.GreaterOrEqual(t, len(strings.Fields(c.Text)), 5, "chunk %q below 5-word minimum", c.Text)
	}
}

func TestSplit_OverlapSeedsNextChunk(t *testing.T) {
	// Sentences of 10 words each against a 20-word target force flushes; each
	// new chunk should start with the trailing words of the prior sentence.
	text := longText(6, 10)
	chunks := Split(text, Options{TargetWords: 20, OverlapWords: 4})

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		tail := strings.Join(prevWords[len(prevWords)-4:], " ")
		assert.True(t, strings.HasPrefix(chunks[i].Text, tail),
			"chunk %d should begin with overlap %q, got %q", i, tail, chunks[i].Text)
	}
}

func TestSplit_ForceFlushBoundsBufferGrowth(t *testing.T) {
	// One enormous run-on sentence: force-flush must still bound every chunk.
	var b strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&b, "word%d ", i)
	}
	b.WriteString(".")

	chunks := Split(b.String(), Options{TargetWords: 50, OverlapWords: 5})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(strings.Fields(c.Text)), 75, "chunk exceeds 1.5x target")
	}
}

func TestSplit_OrderIsStable(t *testing.T) {
	text := longText(12, 9)
	first := Split(text, Options{TargetWords: 25, OverlapWords: 3})
	second := Split(text, Options{TargetWords: 25, OverlapWords: 3})
	assert.Equal(t, first, second)
}

func TestSplit_DefaultsApplied(t *testing.T) {
	// Zero-value options fall back to the standard sizing instead of
	// degenerate single-word chunks.
	chunks := Split("One sentence here with several words inside. Another follows right after it.", Options{})
	require.Len(t, chunks, 1)
}

// longText builds n sentences of wordsEach unique words.
func longText(n, wordsEach int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		for j := 0; j < wordsEach; j++ {
			fmt.Fprintf(&b, "s%dw%d ", i, j)
		}
		b.WriteString(". ")
	}
	return b.String()
}
