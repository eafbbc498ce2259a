package ports

import (
	"context"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// FactIndex is a semantic index over a book's active facts, used to find
// related facts when building extraction context.
type FactIndex interface {
	// Upsert stores facts with their embeddings. embeddings[i] belongs to facts[i].
	Upsert(ctx context.Context, bookID string, facts []entities.StoryFact, embeddings [][]float32) error

	// Search returns the IDs of the facts closest to embedding.
	Search(ctx context.Context, bookID string, embedding []float32, limit int) ([]string, error)

	// DeleteBook removes every indexed fact of a book.
	DeleteBook(ctx context.Context, bookID string) error
}

// CollectionManager owns the lifecycle of the shared collection behind a
// FactIndex. Every book lives in the one collection, filtered by book ID.
type CollectionManager interface {
	// EnsureCollection creates the collection sized for vectorSize when absent.
	EnsureCollection(ctx context.Context, vectorSize uint64) error

	// DeleteCollection drops the collection for every book.
	DeleteCollection(ctx context.Context) error
}
