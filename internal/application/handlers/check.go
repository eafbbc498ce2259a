package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/services"
	"github.com/ersonp/continuity/internal/infrastructure/manuscript/fs"
)

// ChapterReader reads one chapter of a book by file name.
type ChapterReader interface {
	Chapter(ctx context.Context, bookID, name string) (entities.Chapter, error)
}

// CheckHandler runs incremental checks of chapter text.
type CheckHandler struct {
	engine   *services.Engine
	chapters ChapterReader
}

// NewCheckHandler creates a new check handler.
func NewCheckHandler(engine *services.Engine, chapters ChapterReader) *CheckHandler {
	return &CheckHandler{
		engine:   engine,
		chapters: chapters,
	}
}

// CheckFileResult contains the result of checking one chapter.
type CheckFileResult struct {
	Chapter entities.SourceRef
	services.CheckResult
}

// HandleChapter checks a chapter of the book's manuscript, named by its
// file name.
func (h *CheckHandler) HandleChapter(ctx context.Context, bookID, name string) (*CheckFileResult, error) {
	ch, err := h.chapters.Chapter(ctx, bookID, name)
	if err != nil {
		return nil, fmt.Errorf("reading chapter: %w", err)
	}
	return h.check(ctx, bookID, ch)
}

// HandleFile checks a file outside the manuscript as a draft of the
// chapter with the given index.
func (h *CheckHandler) HandleFile(ctx context.Context, bookID, filePath string, index int) (*CheckFileResult, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("accessing file: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	id := fs.ChapterID(absPath)
	return h.check(ctx, bookID, entities.Chapter{
		ID:    id,
		Title: id,
		Index: index,
		Text:  string(data),
	})
}

func (h *CheckHandler) check(ctx context.Context, bookID string, ch entities.Chapter) (*CheckFileResult, error) {
	res, err := h.engine.Check(ctx, bookID, RequestFor(ch))
	if err != nil {
		return nil, fmt.Errorf("checking chapter %s: %w", ch.ID, err)
	}
	return &CheckFileResult{Chapter: ch.Ref(), CheckResult: res}, nil
}

// RequestFor builds the check request of a whole chapter.
func RequestFor(ch entities.Chapter) services.CheckRequest {
	return services.CheckRequest{
		ChapterID:    ch.ID,
		ChapterTitle: ch.Title,
		ChapterIndex: ch.Index,
		Text:         ch.Text,
	}
}
