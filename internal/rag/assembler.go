package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Assembled is the context handed to the model plus the citations that
// its markers refer to; Citations[n-1] belongs to marker [n].
type Assembled struct {
	Context   string
	Citations []models.Citation
	Results   []models.RetrievalResult
}

// Empty reports whether no passage made it into the context.
func (a *Assembled) Empty() bool { return a == nil || len(a.Results) == 0 }

// Assembler packs ranked chunks into a character-bounded context.
type Assembler struct {
	budget     int
	excerptLen int
}

// NewAssembler returns an assembler with a budget in characters (runes).
func NewAssembler(budget, excerptLen int) *Assembler {
	if budget <= 0 {
		budget = 6000
	}
	return &Assembler{budget: budget, excerptLen: excerptLen}
}

// Assemble keeps the longest rank-order prefix of results whose blocks fit
// the budget. Chunks are never cut; lower-ranked ones are dropped instead.
func (a *Assembler) Assemble(results []models.RetrievalResult) *Assembled {
	var (
		blocks []string
		kept   []models.RetrievalResult
		used   int
	)
	for i, r := range results {
		block := fmt.Sprintf("[%d] (source: %s)\n%s", i+1, r.Chunk.DocumentName, strings.TrimSpace(r.Chunk.Text))
		size := utf8.RuneCountInString(block)
		if len(blocks) > 0 {
			size += 2 // separator
		}
		if used+size > a.budget {
			break
		}
		used += size
		blocks = append(blocks, block)
		kept = append(kept, r)
	}
	out := &Assembled{
		Context:   strings.Join(blocks, "\n\n"),
		Results:   kept,
		Citations: make([]models.Citation, len(kept)),
	}
	for i, r := range kept {
		out.Citations[i] = models.Citation{
			Marker:       i + 1,
			DocumentName: r.Chunk.DocumentName,
			Excerpt:      utils.Excerpt(r.Chunk.Text, a.excerptLen),
			Score:        r.Score,
		}
	}
	return out
}
