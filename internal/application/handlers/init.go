// Package handlers contains application use case handlers.
package handlers

import (
	"context"
	"fmt"

	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/infrastructure/config"
	embedder "github.com/ersonp/continuity/internal/infrastructure/embedder/openai"
)

// InitHandler handles project initialization.
type InitHandler struct {
	collectionManager ports.CollectionManager
}

// NewInitHandler creates a new init handler. collectionManager may be nil
// when no fact index is configured.
func NewInitHandler(collectionManager ports.CollectionManager) *InitHandler {
	return &InitHandler{
		collectionManager: collectionManager,
	}
}

// InitResult contains the result of initialization.
type InitResult struct {
	ConfigPath     string
	BooksPath      string
	CollectionName string // empty when no fact index was created
}

// Handle writes the default configuration and an empty book registry,
// and creates the fact index collection.
func (h *InitHandler) Handle(ctx context.Context, basePath string) (*InitResult, error) {
	if config.Exists(basePath) {
		return nil, fmt.Errorf("continuity already initialized in %s", basePath)
	}

	if err := config.WriteDefault(basePath); err != nil {
		return nil, fmt.Errorf("writing default config: %w", err)
	}

	cfg, err := config.Load(basePath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	books, err := config.LoadBooks(basePath)
	if err != nil {
		return nil, fmt.Errorf("loading books: %w", err)
	}
	if err := books.Save(basePath); err != nil {
		return nil, fmt.Errorf("writing books file: %w", err)
	}

	result := &InitResult{
		ConfigPath: config.ConfigFilePath(basePath),
		BooksPath:  config.BooksFilePath(basePath),
	}

	if h.collectionManager != nil {
		if err := h.collectionManager.EnsureCollection(ctx, embedder.VectorSize); err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
		result.CollectionName = cfg.Qdrant.Collection
	}

	return result, nil
}
