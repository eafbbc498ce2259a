package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
)

func TestNewQueryHandler(t *testing.T) {
	book := newTestBook(t, nil)

	handler := NewQueryHandler(book.engine)

	require.NotNil(t, handler)
	assert.Equal(t, book.engine, handler.engine)
}

func TestQueryHandler_Handle(t *testing.T) {
	book := newTestBook(t, sagaChapters)
	_, err := book.engine.RunScan(t.Context(), "saga")
	require.NoError(t, err)

	handler := NewQueryHandler(book.engine)

	result, err := handler.Handle(t.Context(), "saga", "varn", 10)

	require.NoError(t, err)
	assert.Equal(t, "saga", result.BookID)
	assert.Equal(t, "varn", result.Query)
	require.Len(t, result.Facts, 1)
	assert.Equal(t, "Elena", result.Facts[0].Subject)
}

func TestQueryHandler_HandleByCategory(t *testing.T) {
	book := newTestBook(t, sagaChapters)
	_, err := book.engine.RunScan(t.Context(), "saga")
	require.NoError(t, err)

	handler := NewQueryHandler(book.engine)

	result, err := handler.HandleByCategory(t.Context(), "saga", "marcus", entities.CategoryCharacterTrait, 5)
	require.NoError(t, err)
	require.Len(t, result.Facts, 1)
	assert.Equal(t, "blue", result.Facts[0].Value)

	result, err = handler.HandleByCategory(t.Context(), "saga", "marcus", entities.CategoryLocation, 5)
	require.NoError(t, err)
	assert.Empty(t, result.Facts)
}

func TestQueryHandler_EmptyQuery(t *testing.T) {
	handler := NewQueryHandler(newTestBook(t, nil).engine)

	_, err := handler.Handle(t.Context(), "saga", "  ", 10)

	require.Error(t, err)
	assert.True(t, errors.Is(err, entities.ErrInvalidRequest))
}
