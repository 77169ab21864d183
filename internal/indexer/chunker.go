// Package indexer turns a scope's documents into chunks, embeddings and searchable indexes.
package indexer

import (
	"github.com/hyperjump/kotae/internal/models"
)

// Span is a half-open rune range [Start, End) of a document's text.
type Span struct {
	Start int
	End   int
}

// Chunker splits text into overlapping windows measured in runes.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in runes).
// Overlap is clamped below size.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits a document's text into chunks. The result depends only on the
// text and the chunker settings.
func (c *Chunker) Chunk(doc *models.Document) []*models.Chunk {
	runes := []rune(doc.Text)
	spans := c.split(runes)
	if len(spans) == 0 {
		return nil
	}
	chunks := make([]*models.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = &models.Chunk{
			ID:            models.ChunkID(doc.ID, i),
			Scope:         doc.Scope,
			DocumentID:    doc.ID,
			DocumentName:  doc.Name,
			DocumentOrder: doc.Order,
			Index:         i,
			Text:          string(runes[sp.Start:sp.End]),
			Start:         sp.Start,
			End:           sp.End,
		}
	}
	return chunks
}

// Split returns the chunk boundaries for text.
func (c *Chunker) Split(text string) []Span {
	return c.split([]rune(text))
}

func (c *Chunker) split(runes []rune) []Span {
	n := len(runes)
	if n == 0 || isBlank(runes) {
		return nil
	}
	var spans []Span
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end >= n {
			spans = append(spans, Span{Start: start, End: n})
			break
		}
		end = c.breakPoint(runes, start, end)
		spans = append(spans, Span{Start: start, End: end})
		next := end - c.chunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return spans
}

// breakPoint picks where a window [start, limit) should end. Only the back
// half of the window is searched so chunks never shrink below half size.
// Preference: paragraph break, line break, sentence end, space, hard cut.
func (c *Chunker) breakPoint(runes []rune, start, limit int) int {
	half := start + c.chunkSize/2
	if half <= start {
		half = start + 1
	}
	for i := limit - 2; i >= half; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	for i := limit - 1; i >= half; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := limit - 2; i >= half; i-- {
		if isSentenceEnd(runes[i]) && runes[i+1] == ' ' {
			return i + 2
		}
	}
	for i := limit - 1; i >= half; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isBlank(runes []rune) bool {
	for _, r := range runes {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
