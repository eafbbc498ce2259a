package mocks

import (
	"context"
	"sync"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// FactIndex is a mock implementation of ports.FactIndex.
type FactIndex struct {
	// SearchResult is returned from Search.
	SearchResult []string
	Err          error

	mu           sync.Mutex
	Indexed      map[string][]entities.StoryFact // by book
	UpsertCalls  int
	SearchCalls  int
	DeletedBooks []string
}

// Upsert records the facts per book.
func (m *FactIndex) Upsert(ctx context.Context, bookID string, facts []entities.StoryFact, embeddings [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.Err != nil {
		return m.Err
	}
	if m.Indexed == nil {
		m.Indexed = make(map[string][]entities.StoryFact)
	}
	m.Indexed[bookID] = append(m.Indexed[bookID], facts...)
	return nil
}

// Search returns the configured IDs or error.
func (m *FactIndex) Search(ctx context.Context, bookID string, embedding []float32, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.SearchResult) > limit {
		return m.SearchResult[:limit], nil
	}
	return m.SearchResult, nil
}

// DeleteBook records the deleted book.
func (m *FactIndex) DeleteBook(ctx context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.DeletedBooks = append(m.DeletedBooks, bookID)
	delete(m.Indexed, bookID)
	return nil
}

// CollectionManager is a mock implementation of ports.CollectionManager.
type CollectionManager struct {
	EnsureErr error
	DeleteErr error

	Ensured        int
	Deleted        int
	LastVectorSize uint64
}

// EnsureCollection records the requested size.
func (m *CollectionManager) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	m.Ensured++
	m.LastVectorSize = vectorSize
	return m.EnsureErr
}

// DeleteCollection counts the call.
func (m *CollectionManager) DeleteCollection(ctx context.Context) error {
	m.Deleted++
	return m.DeleteErr
}
