package ports

import (
	"context"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// ManuscriptSource supplies the chapters of a book, ordered by index.
type ManuscriptSource interface {
	Chapters(ctx context.Context, bookID string) ([]entities.Chapter, error)
}
