package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/services"
)

// QueryHandler handles fact queries.
type QueryHandler struct {
	engine *services.Engine
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(engine *services.Engine) *QueryHandler {
	return &QueryHandler{
		engine: engine,
	}
}

// QueryResult contains the result of a query.
type QueryResult struct {
	BookID string               `json:"book_id"`
	Query  string               `json:"query"`
	Facts  []entities.StoryFact `json:"facts"`
}

// Handle searches a book for facts matching the query.
func (h *QueryHandler) Handle(ctx context.Context, bookID, query string, limit int) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query: %w", entities.ErrInvalidRequest)
	}

	facts, err := h.engine.Search(ctx, bookID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}

	return &QueryResult{
		BookID: bookID,
		Query:  query,
		Facts:  facts,
	}, nil
}

// HandleByCategory searches a book and keeps only facts of one category.
func (h *QueryHandler) HandleByCategory(ctx context.Context, bookID, query string, category entities.Category, limit int) (*QueryResult, error) {
	result, err := h.Handle(ctx, bookID, query, 0)
	if err != nil {
		return nil, err
	}

	filtered := result.Facts[:0]
	for _, f := range result.Facts {
		if f.Category == category {
			filtered = append(filtered, f)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	result.Facts = filtered
	return result, nil
}
