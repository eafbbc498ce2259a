package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// EngineConfig configures every per-book service the engine creates.
type EngineConfig struct {
	Extraction        ExtractionConfig
	Checker           CheckerConfig
	Issues            IssueConfig
	Scanner           ScannerConfig
	Scheduler         SchedulerConfig
	WindowSize        int
	JudgeStrategy     string
	SemanticThreshold float64
	ContextLimit      int
}

// DefaultEngineConfig returns the default engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Extraction:        DefaultExtractionConfig(),
		Issues:            IssueConfig{Weights: DefaultScoreWeights()},
		Scanner:           ScannerConfig{Workers: DefaultScanWorkers},
		Scheduler:         DefaultSchedulerConfig(),
		WindowSize:        DefaultWindowSize,
		JudgeStrategy:     JudgeRule,
		SemanticThreshold: DefaultSemanticThreshold,
		ContextLimit:      DefaultSearchLimit,
	}
}

// EngineDeps are the external collaborators of the engine. Embedder, Index,
// Repo and Cache are optional.
type EngineDeps struct {
	LLM      ports.LLMClient
	Embedder ports.Embedder
	Index    ports.FactIndex
	Repo     ports.BookRepository
	Source   ports.ManuscriptSource
	Cache    ports.CheckCache
	Metrics  ports.Metrics
}

// Engine is the continuity engine. It keeps one runtime per book, opened
// on first use; every operation names its book explicitly.
type Engine struct {
	cfg       EngineConfig
	deps      EngineDeps
	logger    *slog.Logger
	extractor *ExtractionService
	checker   *ConsistencyChecker
	context   *ContextBuilder

	mu     sync.Mutex
	books  map[string]*bookRuntime
	closed bool
}

type bookRuntime struct {
	store       *FactStore
	tracker     *IssueTracker
	scanner     *Scanner
	incremental *IncrementalChecker
	scheduler   *CheckScheduler
	importer    *ImportService
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig, deps EngineDeps, logger *slog.Logger) (*Engine, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("engine requires an extraction capability")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("engine requires a manuscript source")
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	judge, err := NewJudge(cfg.JudgeStrategy, deps.LLM, deps.Embedder, cfg.SemanticThreshold)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		extractor: NewExtractionService(deps.LLM, cfg.Extraction, deps.Metrics, logger),
		checker:   NewConsistencyChecker(judge, cfg.Checker, logger),
		context:   NewContextBuilder(deps.Embedder, deps.Index, cfg.ContextLimit, logger),
		books:     make(map[string]*bookRuntime),
	}, nil
}

func (e *Engine) book(ctx context.Context, bookID string) (*bookRuntime, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return nil, fmt.Errorf("book id: %w", entities.ErrInvalidRequest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}
	if b, ok := e.books[bookID]; ok {
		return b, nil
	}

	b, err := e.open(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("opening book %s: %w", bookID, err)
	}
	e.books[bookID] = b
	e.logger.Info("book opened", "book_id", bookID)
	return b, nil
}

func (e *Engine) open(ctx context.Context, bookID string) (*bookRuntime, error) {
	var (
		store   *FactStore
		tracker *IssueTracker
		err     error
	)
	if e.deps.Repo != nil {
		store, err = OpenFactStore(ctx, bookID, e.deps.Repo, e.logger)
		if err != nil {
			return nil, err
		}
		tracker, err = OpenIssueTracker(ctx, bookID, store, e.deps.Repo, e.cfg.Issues, e.deps.Metrics, e.logger)
		if err != nil {
			return nil, err
		}
	} else {
		store = NewFactStore(bookID, e.logger)
		tracker = NewIssueTracker(bookID, store, nil, e.cfg.Issues, e.deps.Metrics, e.logger)
	}

	scanner := NewScanner(bookID, ScannerDeps{
		Store:     store,
		Tracker:   tracker,
		Extractor: e.extractor,
		Checker:   e.checker,
		Context:   e.context,
		Source:    e.deps.Source,
		Repo:      e.deps.Repo,
		Metrics:   e.deps.Metrics,
	}, e.cfg.Scanner, e.logger)

	incremental := NewIncrementalChecker(bookID, CheckerDeps{
		Store:     store,
		Tracker:   tracker,
		Extractor: e.extractor,
		Checker:   e.checker,
		Context:   e.context,
		Cache:     e.deps.Cache,
		Metrics:   e.deps.Metrics,
	}, e.cfg.WindowSize, e.logger)

	return &bookRuntime{
		store:       store,
		tracker:     tracker,
		scanner:     scanner,
		incremental: incremental,
		scheduler:   NewCheckScheduler(bookID, incremental, e.cfg.Scheduler, e.deps.Metrics, e.logger),
		importer:    NewImportService(store, e.context, e.logger),
	}, nil
}

// StartScan starts a full scan of a book in the background.
func (e *Engine) StartScan(ctx context.Context, bookID string) (*ScanHandle, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return b.scanner.Start(ctx)
}

// RunScan scans a book and waits for the result.
func (e *Engine) RunScan(ctx context.Context, bookID string) (ScanStatus, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return ScanStatus{}, err
	}
	return b.scanner.Run(ctx)
}

// CancelScan cancels the running scan of a book.
func (e *Engine) CancelScan(ctx context.Context, bookID string) error {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return err
	}
	return b.scanner.Cancel()
}

// ScanStatus returns the progress of the latest scan of a book.
func (e *Engine) ScanStatus(ctx context.Context, bookID string) (ScanStatus, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return ScanStatus{}, err
	}
	return b.scanner.Status()
}

// Facts returns the active facts of a book matching filter.
func (e *Engine) Facts(ctx context.Context, bookID string, filter entities.FactFilter) ([]entities.StoryFact, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return b.store.Facts(filter), nil
}

// Search returns the active facts of a book most similar to text. Without a
// fact index it matches text against subject, attribute and value instead.
func (e *Engine) Search(ctx context.Context, bookID, text string, limit int) ([]entities.StoryFact, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.cfg.ContextLimit
	}
	facts := b.store.Facts(entities.FactFilter{})

	if !e.context.semantic() {
		query := strings.ToLower(strings.TrimSpace(text))
		var out []entities.StoryFact
		for _, f := range facts {
			if len(out) == limit {
				break
			}
			if strings.Contains(strings.ToLower(f.Subject+" "+f.Attribute+" "+f.Value), query) {
				out = append(out, f)
			}
		}
		return out, nil
	}

	ids, err := e.context.Search(ctx, b.store.BookID(), text, limit)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]entities.StoryFact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}
	out := make([]entities.StoryFact, 0, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// Events returns the timeline of a book in story order.
func (e *Engine) Events(ctx context.Context, bookID string) ([]entities.TimelineEvent, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return b.store.AllEvents(), nil
}

// Issues returns the issues of a book matching filter.
func (e *Engine) Issues(ctx context.Context, bookID string, filter entities.IssueFilter) ([]entities.ConsistencyIssue, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return b.tracker.List(filter), nil
}

// Issue returns one issue.
func (e *Engine) Issue(ctx context.Context, bookID, issueID string) (entities.ConsistencyIssue, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return entities.ConsistencyIssue{}, err
	}
	return b.tracker.Get(issueID)
}

// Check runs an incremental check synchronously.
func (e *Engine) Check(ctx context.Context, bookID string, req CheckRequest) (CheckResult, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return CheckResult{}, err
	}
	return b.incremental.Check(ctx, req)
}

// SubmitEdit schedules a debounced check for an editing session.
func (e *Engine) SubmitEdit(ctx context.Context, bookID, sessionID string, req CheckRequest) error {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return err
	}
	return b.scheduler.Submit(sessionID, req)
}

// CheckStatus returns the state of an editing session.
func (e *Engine) CheckStatus(ctx context.Context, bookID, sessionID string) (SessionStatus, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return SessionStatus{}, err
	}
	return b.scheduler.Status(sessionID)
}

// ResolveIssue resolves an issue.
func (e *Engine) ResolveIssue(ctx context.Context, bookID, issueID string, req ResolveRequest) (entities.ConsistencyIssue, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return entities.ConsistencyIssue{}, err
	}
	return b.tracker.Resolve(ctx, issueID, req)
}

// AcknowledgeIssue marks an issue as seen.
func (e *Engine) AcknowledgeIssue(ctx context.Context, bookID, issueID, notes string) (entities.ConsistencyIssue, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return entities.ConsistencyIssue{}, err
	}
	return b.tracker.Acknowledge(ctx, issueID, notes)
}

// DismissIssue dismisses an issue.
func (e *Engine) DismissIssue(ctx context.Context, bookID, issueID, notes string) (entities.ConsistencyIssue, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return entities.ConsistencyIssue{}, err
	}
	return b.tracker.Dismiss(ctx, issueID, notes)
}

// ReopenIssue reopens a resolved or dismissed issue.
func (e *Engine) ReopenIssue(ctx context.Context, bookID, issueID, notes string) (entities.ConsistencyIssue, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return entities.ConsistencyIssue{}, err
	}
	return b.tracker.Reopen(ctx, issueID, notes)
}

// RegisterAlias declares alias as another name of canonical in a book.
func (e *Engine) RegisterAlias(ctx context.Context, bookID, alias, canonical string) error {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return err
	}
	return b.store.RegisterAlias(ctx, alias, canonical)
}

// Analysis returns the continuity analysis of a book.
func (e *Engine) Analysis(ctx context.Context, bookID string) (entities.ContinuityAnalysis, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return entities.ContinuityAnalysis{}, err
	}
	return b.tracker.Analysis(), nil
}

// ImportFacts loads story bible records into a book. Chapters are read
// from the manuscript only when a record names one.
func (e *Engine) ImportFacts(ctx context.Context, bookID string, records []ports.ImportRecord, opts ImportOptions) (*ImportResult, error) {
	b, err := e.book(ctx, bookID)
	if err != nil {
		return nil, err
	}

	var chapters []entities.Chapter
	for _, rec := range records {
		if rec.Chapter == "" {
			continue
		}
		chapters, err = e.deps.Source.Chapters(ctx, b.store.BookID())
		if err != nil {
			return nil, fmt.Errorf("reading chapters: %w", err)
		}
		break
	}
	return b.importer.Import(ctx, records, chapters, opts)
}

// AuditLog returns the audit entries of a fact or issue.
func (e *Engine) AuditLog(ctx context.Context, bookID, targetID string) ([]entities.AuditEntry, error) {
	if _, err := e.book(ctx, bookID); err != nil {
		return nil, err
	}
	if e.deps.Repo == nil {
		return nil, nil
	}
	return e.deps.Repo.FindAuditLog(ctx, bookID, targetID)
}

// Close cancels pending checks and running scans. The repository stays open.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	books := make([]*bookRuntime, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.Unlock()

	for _, b := range books {
		b.scheduler.Close()
		_ = b.scanner.Cancel()
	}
}
