// Package models defines core data structures for scopes, documents, chunks, and answers.
package models

import (
	"fmt"
	"time"
)

// Document is one source file loaded for a scope, with its normalized text.
type Document struct {
	ID       string    `json:"id"`
	Scope    string    `json:"scope"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Hash     string    `json:"hash"` // sha256 of the raw file bytes
	Text     string    `json:"-"`
	Order    int       `json:"order"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Chunk is an immutable slice of a document's normalized text.
// Start and End are rune offsets into Document.Text.
type Chunk struct {
	ID            string `json:"id"`
	Scope         string `json:"scope"`
	DocumentID    string `json:"document_id"`
	DocumentName  string `json:"document_name"`
	DocumentOrder int    `json:"document_order"`
	Index         int    `json:"index"`
	Text          string `json:"text"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
}

// ChunkKey identifies a chunk independently of the index that holds it.
type ChunkKey struct {
	DocumentID string
	Index      int
}

// Key returns the chunk identity (document id, sequence index).
func (c *Chunk) Key() ChunkKey {
	return ChunkKey{DocumentID: c.DocumentID, Index: c.Index}
}

// ChunkID returns the vector index id for the chunk at index within docID.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%d", docID, index)
}

// Before reports whether c comes earlier than other in source order.
func (c *Chunk) Before(other *Chunk) bool {
	if c.DocumentOrder != other.DocumentOrder {
		return c.DocumentOrder < other.DocumentOrder
	}
	if c.DocumentID != other.DocumentID {
		return c.DocumentID < other.DocumentID
	}
	return c.Index < other.Index
}
