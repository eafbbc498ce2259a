package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// StoryBibleChapter is the source chapter of imported facts that name no
// chapter of the manuscript.
const StoryBibleChapter = "story-bible"

// ConflictStrategy defines how to handle facts whose active value differs
// from the imported one.
type ConflictStrategy string

const (
	// ConflictSkip keeps the active value.
	ConflictSkip ConflictStrategy = "skip"
	// ConflictOverwrite supersedes the active value as a correction.
	ConflictOverwrite ConflictStrategy = "overwrite"
)

// ParseConflictStrategy parses a conflict strategy name.
func ParseConflictStrategy(raw string) (ConflictStrategy, error) {
	switch s := ConflictStrategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return ConflictSkip, nil
	case ConflictSkip, ConflictOverwrite:
		return s, nil
	default:
		return "", fmt.Errorf("conflict strategy %q: %w", raw, entities.ErrInvalidRequest)
	}
}

// ImportOptions controls import behavior.
type ImportOptions struct {
	DryRun     bool             // Validate without saving
	OnConflict ConflictStrategy // How to handle differing active values
}

// ImportError represents an error for a specific record during import.
type ImportError struct {
	Line    int    `json:"line"`            // Line number (1-indexed, 0 if unknown)
	Field   string `json:"field"`           // Which field has the error
	Value   string `json:"value,omitempty"` // The invalid value
	Message string `json:"message"`         // Human-readable error message
}

func (e ImportError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// ImportResult contains the result of an import operation.
type ImportResult struct {
	Imported  int           `json:"imported"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Errors    []ImportError `json:"errors,omitempty"`
	DryRun    bool          `json:"dry_run"`
}

// ImportService loads story bible facts into a book's fact store.
type ImportService struct {
	store    *FactStore
	context  *ContextBuilder
	validate *validator.Validate
	logger   *slog.Logger
}

// NewImportService creates a new import service.
func NewImportService(store *FactStore, contextBuilder *ContextBuilder, logger *slog.Logger) *ImportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportService{
		store:    store,
		context:  contextBuilder,
		validate: validator.New(),
		logger:   logger,
	}
}

// Import validates records and applies the valid ones in one commit.
// chapters resolves the chapter a record names; a record naming an unknown
// chapter is rejected.
func (s *ImportService) Import(ctx context.Context, records []ports.ImportRecord, chapters []entities.Chapter, opts ImportOptions) (*ImportResult, error) {
	if opts.OnConflict == "" {
		opts.OnConflict = ConflictSkip
	}
	result := &ImportResult{DryRun: opts.DryRun}

	candidates, importErrors := s.candidates(records, chapterRefs(chapters))
	result.Errors = importErrors
	if len(candidates) == 0 {
		return result, nil
	}

	if opts.DryRun {
		s.apply(s.store.Snapshot(), candidates, opts.OnConflict, result)
		return result, nil
	}

	err := s.store.Apply(ctx, func(set *FactSet) error {
		s.apply(set, candidates, opts.OnConflict, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving facts: %w", err)
	}

	if result.Imported > 0 && s.context != nil {
		if err := s.context.Refresh(ctx, s.store.Snapshot()); err != nil {
			s.logger.Warn("refreshing fact index after import", "book_id", s.store.BookID(), "error", err)
		}
	}

	s.logger.Info("story bible imported",
		"book_id", s.store.BookID(),
		"imported", result.Imported,
		"unchanged", result.Unchanged,
		"skipped", result.Skipped,
		"errors", len(result.Errors))
	return result, nil
}

// apply upserts every candidate into set and tallies the outcome.
func (s *ImportService) apply(set *FactSet, candidates []entities.CandidateFact, onConflict ConflictStrategy, result *ImportResult) {
	for _, c := range candidates {
		res := set.Upsert(c)
		switch {
		case res.Outcome == UpsertAccepted && res.Created:
			result.Imported++
		case res.Outcome == UpsertAccepted:
			result.Unchanged++
		case onConflict == ConflictOverwrite:
			if _, err := set.Supersede(c.Subject, c.Attribute, c.Value, c.Source, entities.ChangeCorrection, "imported from story bible"); err != nil {
				result.Errors = append(result.Errors, ImportError{Field: "subject", Value: c.Subject, Message: err.Error()})
				continue
			}
			result.Imported++
		default:
			result.Skipped++
		}
	}
}

// candidates validates records and converts the valid ones.
func (s *ImportService) candidates(records []ports.ImportRecord, refs map[string]entities.SourceRef) ([]entities.CandidateFact, []ImportError) {
	valid := make([]entities.CandidateFact, 0, len(records))
	var importErrors []ImportError

	for i := range records {
		rec := records[i]
		lineNum := rec.Line
		if lineNum == 0 {
			lineNum = i + 1
		}

		if err := s.validate.Struct(rec); err != nil {
			importErrors = append(importErrors, validationError(err, lineNum))
			continue
		}

		src := entities.SourceRef{ChapterID: StoryBibleChapter, Excerpt: rec.Notes, Position: -1}
		if rec.Chapter != "" {
			ref, ok := refs[rec.Chapter]
			if !ok {
				importErrors = append(importErrors, ImportError{
					Line:    lineNum,
					Field:   "chapter",
					Value:   rec.Chapter,
					Message: fmt.Sprintf("unknown chapter %q", rec.Chapter),
				})
				continue
			}
			src = ref
			src.Excerpt = rec.Notes
		}

		valid = append(valid, entities.CandidateFact{
			Subject:    strings.TrimSpace(rec.Subject),
			Attribute:  entities.NormalizeAttribute(rec.Attribute),
			Value:      strings.TrimSpace(rec.Value),
			Category:   entities.Category(rec.Category),
			Importance: importanceOrMinor(rec.Importance),
			Source:     src,
		})
	}

	return valid, importErrors
}

// validationError converts the first validator failure into an ImportError.
func validationError(err error, lineNum int) ImportError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ImportError{Line: lineNum, Message: err.Error()}
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	value := fmt.Sprint(fe.Value())
	if fe.Tag() == "required" {
		return ImportError{Line: lineNum, Field: field, Message: "missing required field: " + field}
	}
	msg := fmt.Sprintf("invalid %s %q", field, value)
	if field == "category" {
		names := make([]string, len(entities.Categories))
		for i, c := range entities.Categories {
			names[i] = string(c)
		}
		msg += " (valid: " + strings.Join(names, ", ") + ")"
	}
	return ImportError{Line: lineNum, Field: field, Value: value, Message: msg}
}

// chapterRefs maps chapter IDs to their source position.
func chapterRefs(chapters []entities.Chapter) map[string]entities.SourceRef {
	refs := make(map[string]entities.SourceRef, len(chapters))
	for _, ch := range chapters {
		refs[ch.ID] = entities.SourceRef{
			ChapterID:    ch.ID,
			ChapterTitle: ch.Title,
			ChapterIndex: ch.Index,
			Position:     -1,
		}
	}
	return refs
}
