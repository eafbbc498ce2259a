package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// DefaultScanWorkers is the default number of chapters extracted at once.
const DefaultScanWorkers = 4

// ScanPhase is the state of a full-book scan.
type ScanPhase string

const (
	PhaseIdle             ScanPhase = "idle"
	PhaseExtracting       ScanPhase = "extracting"
	PhaseBuildingTimeline ScanPhase = "building_timeline"
	PhaseDetectingIssues  ScanPhase = "detecting_issues"
	PhaseComplete         ScanPhase = "complete"
	PhaseError            ScanPhase = "error"
	PhaseCancelled        ScanPhase = "cancelled"
)

// IsTerminal reports whether the scan has stopped.
func (p ScanPhase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// ScanStatus is the pollable progress of a scan.
type ScanStatus struct {
	ScanID         string    `json:"scan_id"`
	BookID         string    `json:"book_id"`
	Phase          ScanPhase `json:"phase"`
	Percent        int       `json:"percent"`
	ChaptersDone   int       `json:"chapters_done"`
	ChaptersTotal  int       `json:"chapters_total"`
	Degraded       bool      `json:"degraded"`
	StaleChapters  []string  `json:"stale_chapters,omitempty"`
	FactsExtracted int       `json:"facts_extracted"`
	IssuesRaised   int       `json:"issues_raised"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

func (s ScanStatus) clone() ScanStatus {
	s.StaleChapters = append([]string(nil), s.StaleChapters...)
	return s
}

// ScanHandle tracks one running scan.
type ScanHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status ScanStatus
}

// ID returns the scan ID.
func (h *ScanHandle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status.ScanID
}

// Status returns a copy of the current progress.
func (h *ScanHandle) Status() ScanStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status.clone()
}

// Done is closed when the scan reaches a terminal phase.
func (h *ScanHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel aborts the scan. The fact store keeps its pre-scan state.
func (h *ScanHandle) Cancel() {
	h.cancel()
}

// Wait blocks until the scan finishes or ctx is done.
func (h *ScanHandle) Wait(ctx context.Context) (ScanStatus, error) {
	select {
	case <-h.done:
		return h.Status(), nil
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

func (h *ScanHandle) update(fn func(*ScanStatus)) {
	h.mu.Lock()
	fn(&h.status)
	h.mu.Unlock()
}

// ScannerConfig controls the scan orchestrator.
type ScannerConfig struct {
	Workers int
}

// Scanner runs full-book scans: every chapter is extracted, merged into a
// staged copy of the fact store in chapter order, checked, and committed
// as one batch.
type Scanner struct {
	bookID    string
	store     *FactStore
	tracker   *IssueTracker
	extractor *ExtractionService
	checker   *ConsistencyChecker
	context   *ContextBuilder
	source    ports.ManuscriptSource
	repo      ports.BookRepository
	metrics   ports.Metrics
	logger    *slog.Logger
	workers   int

	mu      sync.Mutex
	current *ScanHandle
}

// ScannerDeps groups the collaborators of a Scanner.
type ScannerDeps struct {
	Store     *FactStore
	Tracker   *IssueTracker
	Extractor *ExtractionService
	Checker   *ConsistencyChecker
	Context   *ContextBuilder
	Source    ports.ManuscriptSource
	Repo      ports.BookRepository // optional, for the audit log
	Metrics   ports.Metrics
}

// NewScanner creates a scanner for one book.
func NewScanner(bookID string, deps ScannerDeps, cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultScanWorkers
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Context == nil {
		deps.Context = NewContextBuilder(nil, nil, 0, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		bookID:    bookID,
		store:     deps.Store,
		tracker:   deps.Tracker,
		extractor: deps.Extractor,
		checker:   deps.Checker,
		context:   deps.Context,
		source:    deps.Source,
		repo:      deps.Repo,
		metrics:   deps.Metrics,
		logger:    logger.With("book_id", bookID),
		workers:   cfg.Workers,
	}
}

// Start launches a scan in the background. The scan outlives ctx; stop it
// with Cancel. Only one scan per book runs at a time.
func (s *Scanner) Start(ctx context.Context) (*ScanHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !s.current.Status().Phase.IsTerminal() {
		return nil, fmt.Errorf("book %s: %w", s.bookID, entities.ErrScanInProgress)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &ScanHandle{
		cancel: cancel,
		done:   make(chan struct{}),
		status: ScanStatus{
			ScanID:    uuid.New().String(),
			BookID:    s.bookID,
			Phase:     PhaseIdle,
			StartedAt: time.Now(),
		},
	}
	s.current = h

	go func() {
		defer close(h.done)
		defer cancel()
		s.run(runCtx, h)
	}()
	return h, nil
}

// Run scans the book and waits for the result. Cancelling ctx cancels
// the scan.
func (s *Scanner) Run(ctx context.Context) (ScanStatus, error) {
	h, err := s.Start(ctx)
	if err != nil {
		return ScanStatus{}, err
	}
	stop := context.AfterFunc(ctx, h.Cancel)
	defer stop()

	<-h.Done()
	status := h.Status()
	if status.Phase == PhaseError {
		return status, fmt.Errorf("scan %s: %s", status.ScanID, status.Error)
	}
	if status.Phase == PhaseCancelled {
		return status, fmt.Errorf("scan %s: %w", status.ScanID, context.Canceled)
	}
	return status, nil
}

// Cancel cancels the running scan.
func (s *Scanner) Cancel() error {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()
	if h == nil || h.Status().Phase.IsTerminal() {
		return fmt.Errorf("book %s: %w", s.bookID, entities.ErrNoScan)
	}
	h.Cancel()
	return nil
}

// Status returns the progress of the latest scan.
func (s *Scanner) Status() (ScanStatus, error) {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()
	if h == nil {
		return ScanStatus{}, fmt.Errorf("book %s: %w", s.bookID, entities.ErrNoScan)
	}
	return h.Status(), nil
}

type chapterResult struct {
	ext *Extraction
	err error
}

func (s *Scanner) run(ctx context.Context, h *ScanHandle) {
	start := time.Now()
	scanID := h.ID()
	logger := s.logger.With("scan_id", scanID)

	ctx, span := tracer.Start(ctx, "scan.Run", trace.WithAttributes(
		attribute.String("book_id", s.bookID),
		attribute.String("scan_id", scanID),
	))
	defer span.End()

	finish := func(phase ScanPhase, err error) {
		h.update(func(st *ScanStatus) {
			st.Phase = phase
			st.FinishedAt = time.Now()
			if phase == PhaseComplete {
				st.Percent = 100
			}
			if err != nil {
				st.Error = err.Error()
			}
		})
		s.metrics.ScanFinished(string(phase), time.Since(start))
		switch phase {
		case PhaseError:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("scan failed", "error", err)
		case PhaseCancelled:
			logger.Info("scan cancelled")
		default:
			st := h.Status()
			logger.Info("scan complete",
				"degraded", st.Degraded,
				"stale_chapters", len(st.StaleChapters),
				"facts_extracted", st.FactsExtracted,
				"issues_raised", st.IssuesRaised,
				"duration", time.Since(start))
		}
	}
	fail := func(err error) {
		if ctx.Err() != nil {
			finish(PhaseCancelled, nil)
			return
		}
		finish(PhaseError, err)
	}

	chapters, err := s.source.Chapters(ctx, s.bookID)
	if err != nil {
		fail(fmt.Errorf("reading manuscript: %w", err))
		return
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Index < chapters[j].Index })

	txn, err := s.store.BeginBatch(ctx)
	if err != nil {
		fail(err)
		return
	}
	defer txn.Rollback()
	staged := txn.Staged()
	base := staged.Clone()

	h.update(func(st *ScanStatus) {
		st.Phase = PhaseExtracting
		st.ChaptersTotal = len(chapters)
	})
	logger.Info("scan started", "chapters", len(chapters), "workers", s.workers)

	found, ok := s.extractAll(ctx, h, chapters, base, staged, logger)
	if !ok {
		fail(ctx.Err())
		return
	}

	st := h.Status()
	if len(chapters) > 0 && len(st.StaleChapters) == len(chapters) {
		finish(PhaseError, fmt.Errorf("all %d chapters failed: %w", len(chapters), entities.ErrExtractionFailed))
		return
	}

	h.update(func(st *ScanStatus) {
		st.Phase = PhaseBuildingTimeline
		st.Percent = 80
	})
	found = append(found, s.checker.TimelineIssues(staged)...)

	h.update(func(st *ScanStatus) {
		st.Phase = PhaseDetectingIssues
		st.Percent = 90
	})
	found = MergeIssues(found)
	report := staged.Compact()
	logger.Debug("store compacted",
		"sightings_removed", report.SightingsRemoved,
		"events_merged", report.EventsMerged)

	if err := txn.Commit(ctx); err != nil {
		fail(fmt.Errorf("committing scan: %w", err))
		return
	}

	// The batch is committed; the remaining steps run to completion.
	ctx = context.WithoutCancel(ctx)
	results, err := s.tracker.Raise(ctx, found)
	if err != nil {
		fail(fmt.Errorf("recording issues: %w", err))
		return
	}
	raised := 0
	for _, r := range results {
		if r.Outcome.Visible() {
			raised++
		}
	}
	h.update(func(st *ScanStatus) { st.IssuesRaised = raised })

	if err := s.context.Refresh(ctx, s.store.Snapshot()); err != nil {
		logger.Warn("fact index refresh failed", "error", err)
	}
	s.audit(ctx, h.Status(), logger)
	finish(PhaseComplete, nil)
}

// extractAll fans chapter extraction out over the worker pool and merges
// the results into staged in chapter order. It returns false when ctx was
// cancelled.
func (s *Scanner) extractAll(ctx context.Context, h *ScanHandle, chapters []entities.Chapter, base, staged *FactSet, logger *slog.Logger) ([]entities.ConsistencyIssue, bool) {
	results := make([]chapterResult, len(chapters))
	ready := make([]chan struct{}, len(chapters))
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i := range chapters {
			ch := chapters[i]
			g.Go(func() error {
				defer close(ready[i])
				if err := gctx.Err(); err != nil {
					results[i] = chapterResult{err: err}
					return nil
				}
				cctx, span := tracer.Start(gctx, "scan.ExtractChapter", trace.WithAttributes(
					attribute.String("chapter_id", ch.ID),
				))
				defer span.End()

				factContext := s.context.Build(cctx, base, ch.Text)
				ext, err := s.extractor.ExtractChapter(cctx, ch, factContext)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				results[i] = chapterResult{ext: ext, err: err}
				return nil
			})
		}
	}()
	defer func() {
		<-launched
		_ = g.Wait()
	}()

	var found []entities.ConsistencyIssue
	for i, ch := range chapters {
		select {
		case <-ready[i]:
		case <-ctx.Done():
			return nil, false
		}
		if ctx.Err() != nil {
			return nil, false
		}

		res := results[i]
		if res.err != nil {
			logger.Warn("chapter extraction failed, marking stale", "chapter_id", ch.ID, "error", res.err)
			h.update(func(st *ScanStatus) {
				st.Degraded = true
				st.StaleChapters = append(st.StaleChapters, ch.ID)
				st.ChaptersDone++
				st.Percent = extractingPercent(st.ChaptersDone, st.ChaptersTotal)
			})
			continue
		}

		eval, err := s.checker.Evaluate(ctx, staged, res.ext)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil, false
			}
			logger.Warn("chapter check failed, marking stale", "chapter_id", ch.ID, "error", err)
			h.update(func(st *ScanStatus) {
				st.Degraded = true
				st.StaleChapters = append(st.StaleChapters, ch.ID)
				st.ChaptersDone++
				st.Percent = extractingPercent(st.ChaptersDone, st.ChaptersTotal)
			})
			continue
		}
		found = append(found, eval.Issues...)
		h.update(func(st *ScanStatus) {
			st.ChaptersDone++
			st.FactsExtracted += len(res.ext.Candidates)
			st.Percent = extractingPercent(st.ChaptersDone, st.ChaptersTotal)
		})
	}
	return found, true
}

func extractingPercent(done, total int) int {
	if total == 0 {
		return 70
	}
	return done * 70 / total
}

func (s *Scanner) audit(ctx context.Context, st ScanStatus, logger *slog.Logger) {
	if s.repo == nil {
		return
	}
	entry := entities.AuditEntry{
		BookID:   s.bookID,
		Action:   entities.AuditScanCompleted,
		TargetID: st.ScanID,
		Details: map[string]any{
			"chapters":        st.ChaptersTotal,
			"stale_chapters":  st.StaleChapters,
			"facts_extracted": st.FactsExtracted,
			"issues_raised":   st.IssuesRaised,
		},
		CreatedAt: time.Now(),
	}
	if err := s.repo.LogAction(ctx, entry); err != nil {
		logger.Warn("failed to write audit log", "error", err)
	}
}
