// Package ingestion handles document processing: chunking, text extraction, and pipeline orchestration.
package ingestion

import (
	"regexp"
	"strings"
	"unicode"
)

// Chunker splits cleaned text into overlapping, boundary-respecting chunks.
// Sizes are measured in characters.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Non-positive size or negative overlap
// fall back to the defaults (500/50).
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 50
		if overlap >= size {
			overlap = size / 10
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into chunks of at most the configured size. Empty or
// whitespace-only input yields nil. Adjacent chunks carry up to overlap
// characters of prior context, preferring a sentence boundary.
//
// The splitter cascades: paragraphs are packed greedily; a paragraph that
// exceeds the size is split into sentences; a sentence that exceeds it is
// split on words; a single word longer than the size is emitted alone.
func (c *Chunker) Chunk(text string) []string {
	text = cleanText(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current string

	for _, para := range splitParagraphs(text) {
		if len(para) > c.size {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			chunks = append(chunks, c.chunkSentences(para)...)
			continue
		}

		if current == "" {
			current = para
			continue
		}
		if len(current)+2+len(para) > c.size {
			chunks = append(chunks, current)
			current = c.join(c.overlapTail(current), "\n\n", para)
			continue
		}
		current = current + "\n\n" + para
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// chunkSentences packs sentences of an oversized paragraph.
func (c *Chunker) chunkSentences(para string) []string {
	var chunks []string
	var current string

	for _, sentence := range splitSentences(para) {
		if len(sentence) > c.size {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			chunks = append(chunks, c.chunkWords(sentence)...)
			continue
		}

		if current == "" {
			current = sentence
			continue
		}
		if len(current)+1+len(sentence) > c.size {
			chunks = append(chunks, current)
			current = c.join(c.overlapTail(current), " ", sentence)
			continue
		}
		current = current + " " + sentence
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// chunkWords splits an oversized sentence on word boundaries. Overlap
// degrades to the last overlap/10 words of the previous chunk. A single
// word longer than the chunk size is emitted alone.
func (c *Chunker) chunkWords(sentence string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	for _, word := range strings.Fields(sentence) {
		if len(word) > c.size {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current, currentLen = nil, 0
			}
			chunks = append(chunks, word)
			continue
		}

		add := len(word)
		if len(current) > 0 {
			add++
		}
		if currentLen+add > c.size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current, currentLen = c.wordTail(current)
			add = len(word)
			if len(current) > 0 {
				add++
			}
			// Drop the tail if it cannot fit together with the next word.
			if currentLen+add > c.size {
				current, currentLen = nil, 0
				add = len(word)
			}
		}
		current = append(current, word)
		currentLen += add
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// wordTail returns the last overlap/10 words of a flushed chunk and the
// length of their joined form.
func (c *Chunker) wordTail(words []string) ([]string, int) {
	n := c.overlap / 10
	if n <= 0 || n >= len(words) {
		return nil, 0
	}
	tail := append([]string(nil), words[len(words)-n:]...)
	length := len(tail) - 1
	for _, w := range tail {
		length += len(w)
	}
	return tail, length
}

// join starts a new chunk from the overlap tail, dropping the tail when
// it would push the chunk past the size limit.
func (c *Chunker) join(tail, sep, next string) string {
	if tail == "" || len(tail)+len(sep)+len(next) > c.size {
		return next
	}
	return tail + sep + next
}

// overlapTail returns the overlap context carried into the next chunk:
// the text after the last sentence terminator within the final overlap
// characters of chunk, or the raw last overlap characters when no
// terminator is found.
func (c *Chunker) overlapTail(chunk string) string {
	if c.overlap <= 0 || chunk == "" {
		return ""
	}
	runes := []rune(chunk)
	start := len(runes) - c.overlap
	if start < 0 {
		start = 0
	}
	tail := runes[start:]

	for i := len(tail) - 1; i >= 0; i-- {
		r := tail[i]
		if r == '.' || r == '!' || r == '?' {
			after := strings.TrimSpace(string(tail[i+1:]))
			if after != "" {
				return after
			}
			return ""
		}
	}
	return strings.TrimSpace(string(tail))
}

var (
	spaceRunPattern = regexp.MustCompile(`[ \t]+`)
	newlineRuns     = regexp.MustCompile(`\n{3,}`)
	paragraphBreak  = regexp.MustCompile(`\n\s*\n`)
)

// cleanText normalizes whitespace: collapses runs of spaces and tabs,
// caps consecutive newlines at two, and strips surrounding whitespace.
func cleanText(text string) string {
	text = spaceRunPattern.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func splitParagraphs(text string) []string {
	parts := paragraphBreak.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences splits text on sentence terminators (. ! ?) followed by
// whitespace, with a small abbreviation heuristic.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sentence := strings.TrimSpace(current.String())
				if sentence != "" && !isAbbreviation(sentence) {
					sentences = append(sentences, sentence)
					current.Reset()
				}
			}
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}

// isAbbreviation checks if a sentence ends with a common abbreviation
func isAbbreviation(text string) bool {
	abbreviations := []string{
		"mr.", "mrs.", "ms.", "dr.", "prof.",
		"inc.", "ltd.", "corp.",
		"etc.", "e.g.", "i.e.",
		"vs.", "v.",
		"st.", "ave.", "blvd.",
		"no.", "vol.", "pg.",
	}

	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}
