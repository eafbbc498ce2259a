// Package services contains domain business logic.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

const (
	// DefaultChunkSize is the default size for text chunks.
	DefaultChunkSize = 2000
	// DefaultChunkOverlap is the default overlap between chunks.
	DefaultChunkOverlap = 200
	// DefaultWindowSize is the trailing window used by incremental checks.
	DefaultWindowSize = 2000
)

// Reasons a record is dropped.
const (
	DropInvalid       = "invalid"
	DropExcerptAbsent = "excerpt_not_in_text"
)

// ExtractionConfig controls extraction behavior.
type ExtractionConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	Timeout        time.Duration // per capability call
	MaxAttempts    int           // attempts per chunk on the batch path
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultExtractionConfig returns the default extraction settings.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		ChunkSize:      DefaultChunkSize,
		ChunkOverlap:   DefaultChunkOverlap,
		Timeout:        30 * time.Second,
		MaxAttempts:    2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Extraction is the validated output of extracting one span or chapter.
type Extraction struct {
	Candidates []entities.CandidateFact
	Events     []entities.TimelineEvent
	Dropped    int
}

// ExtractionService turns prose into candidate facts and timeline events.
type ExtractionService struct {
	llm      ports.LLMClient
	cfg      ExtractionConfig
	validate *validator.Validate
	metrics  ports.Metrics
	logger   *slog.Logger
}

// NewExtractionService creates a new extraction service.
func NewExtractionService(llm ports.LLMClient, cfg ExtractionConfig, metrics ports.Metrics, logger *slog.Logger) *ExtractionService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &ExtractionService{
		llm:      llm,
		cfg:      cfg,
		validate: validator.New(),
		metrics:  metrics,
		logger:   logger,
	}
}

// ExtractSpan extracts from a span of a chapter with a single bounded call.
// offset is the byte offset of text inside the chapter, so reported
// positions are relative to the full chapter text.
func (s *ExtractionService) ExtractSpan(ctx context.Context, text string, offset int, ref entities.SourceRef, factContext []entities.StoryFact) (*Extraction, error) {
	ctx, span := tracer.Start(ctx, "extraction.Span",
		trace.WithAttributes(attribute.String("chapter_id", ref.ChapterID), attribute.Int("bytes", len(text))))
	defer span.End()

	raw, err := s.call(ctx, text, factContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("extracting span of %s: %w: %w", ref.ChapterID, entities.ErrExtractionFailed, err)
	}

	out := &Extraction{}
	s.collect(out, raw, text, func(excerpt string) int {
		if i := strings.Index(text, excerpt); i >= 0 {
			return offset + i
		}
		return -1
	}, ref)
	return out, nil
}

// ExtractChapter extracts from a whole chapter. Long chapters are split into
// paragraph-aligned chunks and a failing chunk is retried with exponential
// backoff; a chunk that exhausts its attempts fails the chapter.
func (s *ExtractionService) ExtractChapter(ctx context.Context, chapter entities.Chapter, factContext []entities.StoryFact) (*Extraction, error) {
	ctx, span := tracer.Start(ctx, "extraction.Chapter",
		trace.WithAttributes(attribute.String("chapter_id", chapter.ID), attribute.Int("chapter_index", chapter.Index)))
	defer span.End()

	ref := chapter.Ref()

	out := &Extraction{}
	// Chunks are processed one at a time: each one must fit the model's context window.
	for i, sp := range chunkSpans(chapter.Text, s.cfg.ChunkSize, s.cfg.ChunkOverlap) {
		chunk := chapter.Text[sp.start:sp.end]
		raw, err := s.callWithRetry(ctx, chunk, factContext)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("extracting chapter %s chunk %d: %w: %w", chapter.ID, i, entities.ErrExtractionFailed, err)
		}
		s.collect(out, raw, chunk, func(excerpt string) int {
			if j := strings.Index(chunk, excerpt); j >= 0 {
				return sp.start + j
			}
			return -1
		}, ref)
	}

	span.SetAttributes(attribute.Int("candidates", len(out.Candidates)), attribute.Int("dropped", out.Dropped))
	return out, nil
}

func (s *ExtractionService) call(ctx context.Context, text string, factContext []entities.StoryFact) (*ports.RawExtraction, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	raw, err := s.llm.ExtractRecords(ctx, text, factContext)
	if err != nil {
		s.metrics.ExtractionAttempt("error")
		return nil, err
	}
	s.metrics.ExtractionAttempt("ok")
	if raw == nil {
		raw = &ports.RawExtraction{}
	}
	return raw, nil
}

func (s *ExtractionService) callWithRetry(ctx context.Context, text string, factContext []entities.StoryFact) (*ports.RawExtraction, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	if s.cfg.MaxBackoff > 0 {
		b.MaxInterval = s.cfg.MaxBackoff
	}

	attempt := 0
	op := func() (*ports.RawExtraction, error) {
		attempt++
		raw, err := s.call(ctx, text, factContext)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		s.logger.Warn("extraction attempt failed", "attempt", attempt, "error", err)
		return nil, err
	}

	raw, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		return nil, err
	}
	return raw, nil
}

// collect validates raw records and appends the survivors to out.
// A record survives only if its excerpt occurs in text.
func (s *ExtractionService) collect(out *Extraction, raw *ports.RawExtraction, text string, locate func(string) int, ref entities.SourceRef) {
	for i := range raw.Facts {
		r := raw.Facts[i]
		if err := s.validate.Struct(r); err != nil {
			s.drop(out, DropInvalid, "subject", r.Subject, "error", err)
			continue
		}
		if !strings.Contains(text, r.Excerpt) {
			s.drop(out, DropExcerptAbsent, "subject", r.Subject, "excerpt", r.Excerpt)
			continue
		}

		src := ref
		src.Excerpt = r.Excerpt
		src.Position = locate(r.Excerpt)
		c := entities.CandidateFact{
			Subject:    strings.TrimSpace(r.Subject),
			Attribute:  entities.NormalizeAttribute(r.Attribute),
			Value:      strings.TrimSpace(r.Value),
			Category:   entities.Category(r.Category),
			Importance: importanceOrMinor(r.Importance),
			Source:     src,
		}
		if containsCandidate(out.Candidates, c) {
			continue
		}
		out.Candidates = append(out.Candidates, c)
	}

	for i := range raw.Events {
		r := raw.Events[i]
		if err := s.validate.Struct(r); err != nil {
			s.drop(out, DropInvalid, "event", r.Description, "error", err)
			continue
		}
		if !strings.Contains(text, r.Excerpt) {
			s.drop(out, DropExcerptAbsent, "event", r.Description, "excerpt", r.Excerpt)
			continue
		}

		e := entities.TimelineEvent{
			StoryTime:    entities.StoryTime{Label: strings.TrimSpace(r.StoryTime), DayNumber: r.DayNumber},
			Description:  strings.TrimSpace(r.Description),
			Characters:   r.Characters,
			Locations:    r.Locations,
			ChapterID:    ref.ChapterID,
			ChapterIndex: ref.ChapterIndex,
			Position:     locate(r.Excerpt),
			Importance:   importanceOrMinor(r.Importance),
			Excerpt:      r.Excerpt,
		}
		if containsEvent(out.Events, e) {
			continue
		}
		out.Events = append(out.Events, e.Clone())
	}
}

func (s *ExtractionService) drop(out *Extraction, reason string, args ...any) {
	out.Dropped++
	s.metrics.RecordDropped(reason)
	s.logger.Warn("dropping extracted record", append([]any{"reason", reason}, args...)...)
}

func importanceOrMinor(raw string) entities.Importance {
	if i := entities.Importance(raw); i.IsValid() {
		return i
	}
	return entities.ImportanceMinor
}

// containsCandidate reports whether an overlapping chunk already produced c.
func containsCandidate(list []entities.CandidateFact, c entities.CandidateFact) bool {
	for i := range list {
		if entities.NormalizeName(list[i].Subject) == entities.NormalizeName(c.Subject) &&
			list[i].Attribute == c.Attribute &&
			entities.NormalizeValue(list[i].Value) == entities.NormalizeValue(c.Value) &&
			list[i].Source.Excerpt == c.Source.Excerpt {
			return true
		}
	}
	return false
}

func containsEvent(list []entities.TimelineEvent, e entities.TimelineEvent) bool {
	desc := entities.NormalizeValue(e.Description)
	for i := range list {
		if entities.NormalizeValue(list[i].Description) == desc {
			return true
		}
	}
	return false
}

// TrailingWindow returns the tail of text covering the last size bytes,
// moved forward to the next word boundary, with its offset in text.
// The cut never splits a rune.
func TrailingWindow(text string, size int) (string, int) {
	if size <= 0 || len(text) <= size {
		return text, 0
	}
	cut := len(text) - size
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	if cut == len(text) {
		_, n := utf8.DecodeLastRuneInString(text)
		cut -= n
	}

	start := cut
	// Skip the partial word the cut landed in.
	if prev, _ := utf8.DecodeLastRuneInString(text[:cut]); !unicode.IsSpace(prev) {
		for start < len(text) {
			r, n := utf8.DecodeRuneInString(text[start:])
			if unicode.IsSpace(r) {
				break
			}
			start += n
		}
	}
	for start < len(text) {
		r, n := utf8.DecodeRuneInString(text[start:])
		if !unicode.IsSpace(r) {
			break
		}
		start += n
	}
	if start >= len(text) {
		start = cut
	}
	return text[start:], start
}

// ChunkText splits text into paragraph-aligned chunks of about chunkSize
// bytes. Every chunk after the first repeats the last overlap bytes of the
// one before it. Chunks are substrings of text.
func ChunkText(text string, chunkSize int, overlap int) []string {
	spans := chunkSpans(text, chunkSize, overlap)
	chunks := make([]string, len(spans))
	for i, sp := range spans {
		chunks[i] = text[sp.start:sp.end]
	}
	return chunks
}

// textSpan is the byte range [start, end) of a text.
type textSpan struct {
	start, end int
}

func chunkSpans(text string, chunkSize int, overlap int) []textSpan {
	whole := []textSpan{{0, len(text)}}
	if len(text) <= chunkSize {
		return whole
	}
	paragraphs := paragraphSpans(text)
	if len(paragraphs) == 0 {
		return whole
	}

	var spans []textSpan
	cur := textSpan{start: -1}
	for _, para := range paragraphs {
		if cur.start >= 0 && cur.end > cur.start && para.end-cur.start > chunkSize {
			spans = append(spans, cur)
			tail := len(getOverlapText(text[cur.start:cur.end], overlap))
			if tail == 0 {
				cur = textSpan{start: -1}
			} else {
				cur = textSpan{start: cur.end - tail, end: cur.end}
			}
		}
		if cur.start < 0 {
			cur.start = para.start
		}
		cur.end = para.end
	}
	return append(spans, cur)
}

// paragraphSpans returns the trimmed, non-empty paragraphs of text, split
// on blank lines.
func paragraphSpans(text string) []textSpan {
	var out []textSpan
	for pos := 0; pos <= len(text); {
		end, next := len(text), len(text)+1
		if i := strings.Index(text[pos:], "\n\n"); i >= 0 {
			end, next = pos+i, pos+i+2
		}
		seg := text[pos:end]
		start := pos + len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
		stop := pos + len(strings.TrimRightFunc(seg, unicode.IsSpace))
		if stop > start {
			out = append(out, textSpan{start, stop})
		}
		pos = next
	}
	return out
}

// getOverlapText returns the last n bytes of text for overlap, moved
// forward to a rune boundary.
func getOverlapText(text string, n int) string {
	if len(text) <= n {
		return text
	}
	start := len(text) - n
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	return text[start:]
}

// factToText converts a fact to searchable text for embedding.
func factToText(fact entities.StoryFact) string {
	parts := []string{
		fact.Subject,
		strings.ReplaceAll(fact.Attribute, "_", " "),
		fact.Value,
	}
	return strings.Join(parts, " ")
}
