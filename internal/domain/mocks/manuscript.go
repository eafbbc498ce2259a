package mocks

import (
	"context"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// ManuscriptSource is a mock implementation of ports.ManuscriptSource.
type ManuscriptSource struct {
	Books map[string][]entities.Chapter
	Err   error
}

// Chapters returns the configured chapters of a book.
func (m *ManuscriptSource) Chapters(_ context.Context, bookID string) ([]entities.Chapter, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]entities.Chapter(nil), m.Books[bookID]...), nil
}
