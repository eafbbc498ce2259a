package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// DefaultSearchLimit is the default number of semantic neighbours added to
// an extraction context.
const DefaultSearchLimit = 10

// ContextBuilder selects the known facts passed to the extraction
// capability alongside a span of text. The embedder and index are
// optional; without them only facts whose subject is mentioned are used.
type ContextBuilder struct {
	embedder ports.Embedder
	index    ports.FactIndex
	limit    int
	logger   *slog.Logger
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(embedder ports.Embedder, index ports.FactIndex, limit int, logger *slog.Logger) *ContextBuilder {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{
		embedder: embedder,
		index:    index,
		limit:    limit,
		logger:   logger,
	}
}

func (b *ContextBuilder) semantic() bool {
	return b.embedder != nil && b.index != nil
}

// Build returns the facts of set whose subject, or one of its aliases, is
// mentioned in text, followed by semantic neighbours of text. A failing
// semantic search is logged and skipped.
func (b *ContextBuilder) Build(ctx context.Context, set *FactSet, text string) []entities.StoryFact {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []entities.StoryFact

	mentioned := make(map[string]bool)
	for _, fact := range set.List(entities.FactFilter{}) {
		subject := entities.NormalizeName(fact.Subject)
		hit, ok := mentioned[subject]
		if !ok {
			for _, name := range set.AliasesOf(fact.Subject) {
				if mentions(lower, name) {
					hit = true
					break
				}
			}
			mentioned[subject] = hit
		}
		if hit {
			seen[fact.ID] = true
			out = append(out, fact)
		}
	}

	if !b.semantic() {
		return out
	}
	ids, err := b.Search(ctx, set.BookID(), text, b.limit)
	if err != nil {
		b.logger.Warn("semantic context search failed", "book_id", set.BookID(), "error", err)
		return out
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if fact, ok := set.FactByID(id); ok {
			seen[id] = true
			out = append(out, fact)
		}
	}
	return out
}

// Search returns the IDs of the facts most similar to text.
func (b *ContextBuilder) Search(ctx context.Context, bookID, text string, limit int) ([]string, error) {
	if !b.semantic() {
		return nil, nil
	}
	if limit <= 0 {
		limit = b.limit
	}

	embedding, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("generating query embedding: %w", err)
	}

	ids, err := b.index.Search(ctx, bookID, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}
	return ids, nil
}

// Refresh replaces the book's index entries with the active facts of set.
func (b *ContextBuilder) Refresh(ctx context.Context, set *FactSet) error {
	if !b.semantic() {
		return nil
	}
	if err := b.index.DeleteBook(ctx, set.BookID()); err != nil {
		return fmt.Errorf("clearing fact index: %w", err)
	}

	facts := set.List(entities.FactFilter{})
	if len(facts) == 0 {
		return nil
	}
	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = factToText(f)
	}
	embeddings, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generating fact embeddings: %w", err)
	}
	if err := b.index.Upsert(ctx, set.BookID(), facts, embeddings); err != nil {
		return fmt.Errorf("indexing facts: %w", err)
	}
	return nil
}

// mentions reports whether name occurs in text as whole words. Both are
// expected in lower case.
func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(text[from:], name)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(name)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		from = start + 1
	}
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := rune(text[i])
	return r < 0x80 && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
