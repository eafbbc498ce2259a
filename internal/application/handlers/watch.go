package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/services"
	"github.com/ersonp/continuity/internal/infrastructure/manuscript/fs"
)

// WatchHandler feeds changed chapter files of a book to the check scheduler.
type WatchHandler struct {
	engine   *services.Engine
	chapters ChapterReader
	logger   *slog.Logger
}

// NewWatchHandler creates a new watch handler.
func NewWatchHandler(engine *services.Engine, chapters ChapterReader, logger *slog.Logger) *WatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchHandler{
		engine:   engine,
		chapters: chapters,
		logger:   logger,
	}
}

// SessionID returns the editing session a watched chapter is checked in.
func SessionID(chapterID string) string {
	return "watch-" + chapterID
}

// Handle watches dir until ctx is done. Every chapter file that is created
// or written is submitted as an edit of its own session; onSubmit, when
// set, is called after each submission.
func (h *WatchHandler) Handle(ctx context.Context, bookID, dir string, onSubmit func(entities.Chapter)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	logger := h.logger.With("book_id", bookID, "dir", dir)
	logger.Info("watching manuscript")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if !fs.IsChapterFile(name) {
				continue
			}
			ch, err := h.submit(ctx, bookID, name)
			if err != nil {
				logger.Warn("submitting chapter failed", "file", name, "error", err)
				continue
			}
			logger.Debug("chapter submitted", "chapter_id", ch.ID)
			if onSubmit != nil {
				onSubmit(ch)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

func (h *WatchHandler) submit(ctx context.Context, bookID, name string) (entities.Chapter, error) {
	ch, err := h.chapters.Chapter(ctx, bookID, name)
	if err != nil {
		return entities.Chapter{}, err
	}
	if err := h.engine.SubmitEdit(ctx, bookID, SessionID(ch.ID), RequestFor(ch)); err != nil {
		return entities.Chapter{}, err
	}
	return ch, nil
}
