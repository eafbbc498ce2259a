package handlers

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/domain/services"
	"github.com/ersonp/continuity/internal/infrastructure/parsers"
)

// ImportHandler handles importing story bible facts from files.
type ImportHandler struct {
	engine *services.Engine
}

// NewImportHandler creates a new import handler.
func NewImportHandler(engine *services.Engine) *ImportHandler {
	return &ImportHandler{
		engine: engine,
	}
}

// ImportOptions controls import behavior.
type ImportOptions struct {
	Format     string                    // "json", "csv", or "auto"
	DryRun     bool                      // Validate without saving
	OnConflict services.ConflictStrategy // How to handle differing active values
}

// Handle imports facts from a file.
func (h *ImportHandler) Handle(ctx context.Context, bookID, filePath string, opts ImportOptions) (*services.ImportResult, error) {
	var parser ports.FactParser
	if opts.Format == "" || opts.Format == "auto" {
		parser = parsers.ForFile(filePath)
	} else {
		parser = parsers.ForFormat(opts.Format)
	}

	if parser == nil {
		return nil, fmt.Errorf("unsupported format for file: %s: %w", filePath, entities.ErrInvalidRequest)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	return h.importFrom(ctx, bookID, parser, file, opts)
}

// HandleReader imports facts of an explicit format from r.
func (h *ImportHandler) HandleReader(ctx context.Context, bookID string, r io.Reader, opts ImportOptions) (*services.ImportResult, error) {
	parser := parsers.ForFormat(opts.Format)
	if parser == nil {
		return nil, fmt.Errorf("unsupported format %q: %w", opts.Format, entities.ErrInvalidRequest)
	}
	return h.importFrom(ctx, bookID, parser, r, opts)
}

func (h *ImportHandler) importFrom(ctx context.Context, bookID string, parser ports.FactParser, r io.Reader, opts ImportOptions) (*services.ImportResult, error) {
	records, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing file: %w: %w", err, entities.ErrInvalidRequest)
	}

	if len(records) == 0 {
		return &services.ImportResult{DryRun: opts.DryRun}, nil
	}

	return h.engine.ImportFacts(ctx, bookID, records, services.ImportOptions{
		DryRun:     opts.DryRun,
		OnConflict: opts.OnConflict,
	})
}
