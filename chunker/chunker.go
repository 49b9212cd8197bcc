// Package chunker splits raw document text into overlapping, sentence-aligned
// fragments sized by word count. Each fragment is tagged when it contains a
// negation cue, so downstream consumers can treat it as potentially reversing
// an earlier statement.
package chunker

import (
	"strings"
)

const (
	// DefaultTargetWords is the target chunk size in words.
	DefaultTargetWords = 100

	// DefaultOverlapWords is the number of trailing words carried into the
	// next chunk to preserve context across boundaries.
	DefaultOverlapWords = 10

	// minChunkWords is the minimum word count for an emitted chunk. Shorter
	// buffers are dropped rather than emitted as noise.
	minChunkWords = 5

	// overflowFactor bounds buffer growth: once the working buffer reaches
	// targetWords*overflowFactor a prefix is force-flushed, so a run of very
	// long sentences cannot grow the buffer without limit.
	overflowFactor = 1.5
)

// negationCues are matched as lowercase substrings against chunk text.
var negationCues = []string{
	"not",
	"no longer",
	"doesn't",
	"don't",
	"left",
	"stopped",
	"quit",
	"resigned",
}

// Chunk is one emitted fragment. Negation marks the presence of a cue word
// implying reversal of a previously stated fact.
type Chunk struct {
	Text     string
	Negation bool
}

// Options control chunk sizing.
type Options struct {
	TargetWords  int
	OverlapWords int
}

// DefaultOptions returns the standard sizing used for document ingestion.
func DefaultOptions() Options {
	return Options{
		TargetWords:  DefaultTargetWords,
		OverlapWords: DefaultOverlapWords,
	}
}

// HasNegation reports whether text contains any negation cue.
// Matching is case-insensitive substring containment.
func HasNegation(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range negationCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// Split divides text into overlapping chunks at sentence boundaries.
//
// Sentences are delimited by '.', '!' and '?'. Sentences accumulate into a
// working buffer; when the next sentence would push the buffer past
// TargetWords the buffer is flushed as a chunk and the next buffer is seeded
// with the previous sentence's trailing OverlapWords words. Buffers that
// exceed TargetWords*1.5 are force-flushed at TargetWords to bound growth.
// Chunks shorter than five words are discarded.
//
// Split is pure and total: empty input yields nil, and input without any
// sentence punctuation falls back to a single whole-text chunk. The index of
// a chunk in the returned slice is its chunk index.
func Split(text string, opts Options) []Chunk {
	if opts.TargetWords <= 0 {
		opts.TargetWords = DefaultTargetWords
	}
	if opts.OverlapWords < 0 {
		opts.OverlapWords = 0
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []Chunk{{Text: trimmed, Negation: HasNegation(trimmed)}}
	}

	var (
		chunks  []Chunk
		buffer  []string
		overlap []string
	)

	flush := func(words []string) {
		if len(words) < minChunkWords {
			return
		}
		text := strings.Join(words, " ")
		chunks = append(chunks, Chunk{Text: text, Negation: HasNegation(text)})
	}

	limit := opts.TargetWords
	overflow := int(float64(limit) * overflowFactor)

	for _, sentence := range sentences {
		words := strings.Fields(sentence)
		if len(words) == 0 {
			continue
		}

		if len(buffer)+len(words) > limit && len(buffer) > 0 {
			// Natural flush point: emit the buffer, seed the next one with
			// the overlap tail plus the sentence that did not fit.
			flush(buffer)
			seed := overlap
			buffer = append(append([]string{}, seed...), words...)
		} else {
			buffer = append(buffer, words...)
		}

		// Remember the sentence tail for overlap seeding.
		if len(words) > opts.OverlapWords {
			overlap = words[len(words)-opts.OverlapWords:]
		} else {
			overlap = words
		}

		// Force flush: a run of long sentences outgrew the buffer. Loops so
		// a single sentence far past the limit drains to a bounded tail.
		for len(buffer) >= overflow {
			flush(buffer[:limit])
			keep := limit - opts.OverlapWords
			if keep <= 0 {
				// Overlap at or above the target would stall the drain.
				keep = limit
			}
			if keep > len(buffer) {
				keep = len(buffer)
			}
			buffer = append([]string{}, buffer[keep:]...)
		}
	}

	flush(buffer)

	// No chunk survived the minimum-size filter: fall back to the whole text.
	if len(chunks) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			chunks = append(chunks, Chunk{Text: trimmed, Negation: HasNegation(trimmed)})
		}
	}

	return chunks
}

// splitSentences breaks text on terminal punctuation, dropping empties.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
