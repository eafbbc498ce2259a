package handlers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/services"
)

func writeBible(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestImportHandler_Handle(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		format  string
	}{
		{
			name:    "json by extension",
			file:    "bible.json",
			content: `[{"subject": "Marcus", "attribute": "eye color", "value": "blue", "category": "character_trait", "chapter": "01-arrival"}]`,
		},
		{
			name:    "csv by extension",
			file:    "bible.csv",
			content: "subject,attribute,value,category,chapter\nMarcus,eye color,blue,character_trait,01-arrival\n",
		},
		{
			name:    "explicit format",
			file:    "bible.txt",
			content: "subject,attribute,value,category\nMarcus,eye color,blue,character_trait\n",
			format:  "csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := newTestBook(t, sagaChapters)
			path := writeBible(t, tt.file, tt.content)

			result, err := NewImportHandler(book.engine).Handle(t.Context(), "saga", path, ImportOptions{Format: tt.format})

			require.NoError(t, err)
			assert.Equal(t, 1, result.Imported)
			assert.Empty(t, result.Errors)

			facts, err := book.engine.Facts(t.Context(), "saga", entities.FactFilter{Subject: "Marcus"})
			require.NoError(t, err)
			require.Len(t, facts, 1)
			assert.Equal(t, "blue", facts[0].Value)
		})
	}
}

func TestImportHandler_ImportedFactsAreChecked(t *testing.T) {
	book := newTestBook(t, sagaChapters)
	path := writeBible(t, "bible.csv", "subject,attribute,value,category,importance\nMarcus,eye color,blue,character_trait,critical\n")

	_, err := NewImportHandler(book.engine).Handle(t.Context(), "saga", path, ImportOptions{})
	require.NoError(t, err)

	result, err := NewCheckHandler(book.engine, book.source).HandleChapter(t.Context(), "saga", "03-gate.md")
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, entities.IssueFactContradiction, result.Issues[0].Type)
}

func TestImportHandler_Conflicts(t *testing.T) {
	book := newTestBook(t, sagaChapters)
	handler := NewImportHandler(book.engine)
	first := writeBible(t, "first.csv", "subject,attribute,value,category\nMarcus,eye color,blue,character_trait\n")
	second := writeBible(t, "second.csv", "subject,attribute,value,category\nMarcus,eye color,grey,character_trait\n")

	_, err := handler.Handle(t.Context(), "saga", first, ImportOptions{})
	require.NoError(t, err)

	skipped, err := handler.Handle(t.Context(), "saga", second, ImportOptions{OnConflict: services.ConflictSkip})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped.Skipped)

	dry, err := handler.Handle(t.Context(), "saga", second, ImportOptions{DryRun: true, OnConflict: services.ConflictOverwrite})
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 1, dry.Imported)

	facts, err := book.engine.Facts(t.Context(), "saga", entities.FactFilter{Subject: "Marcus"})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "blue", facts[0].Value)

	_, err = handler.Handle(t.Context(), "saga", second, ImportOptions{OnConflict: services.ConflictOverwrite})
	require.NoError(t, err)

	facts, err = book.engine.Facts(t.Context(), "saga", entities.FactFilter{Subject: "Marcus"})
	require.NoError(t, err)
	assert.Equal(t, "grey", facts[0].Value)
}

func TestImportHandler_HandleReader(t *testing.T) {
	book := newTestBook(t, sagaChapters)
	handler := NewImportHandler(book.engine)

	result, err := handler.HandleReader(t.Context(), "saga",
		strings.NewReader(`[{"subject": "Elena", "attribute": "hometown", "value": "Varn", "category": "location"}]`),
		ImportOptions{Format: "json"})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
}

func TestImportHandler_Errors(t *testing.T) {
	book := newTestBook(t, sagaChapters)
	handler := NewImportHandler(book.engine)

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := handler.Handle(t.Context(), "saga", writeBible(t, "bible.txt", "x"), ImportOptions{})
		require.ErrorIs(t, err, entities.ErrInvalidRequest)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := handler.Handle(t.Context(), "saga", filepath.Join(t.TempDir(), "missing.json"), ImportOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opening file")
	})

	t.Run("malformed content", func(t *testing.T) {
		_, err := handler.Handle(t.Context(), "saga", writeBible(t, "bible.json", "not json"), ImportOptions{})
		require.ErrorIs(t, err, entities.ErrInvalidRequest)
	})

	t.Run("empty file", func(t *testing.T) {
		result, err := handler.Handle(t.Context(), "saga", writeBible(t, "bible.json", "[]"), ImportOptions{})
		require.NoError(t, err)
		assert.Zero(t, result.Imported)
	})

	t.Run("reader needs a format", func(t *testing.T) {
		_, err := handler.HandleReader(t.Context(), "saga", strings.NewReader("[]"), ImportOptions{})
		require.ErrorIs(t, err, entities.ErrInvalidRequest)
	})
}
