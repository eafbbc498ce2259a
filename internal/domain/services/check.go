package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// Check outcomes reported to metrics.
const (
	CheckOK        = "ok"
	CheckCached    = "cached"
	CheckFailed    = "failed"
	CheckSkipped   = "skipped"
	CheckCancelled = "cancelled"
)

// CheckRequest is one incremental check of chapter text.
type CheckRequest struct {
	ChapterID    string `json:"chapter_id" validate:"required"`
	ChapterTitle string `json:"chapter_title,omitempty"`
	ChapterIndex int    `json:"chapter_index" validate:"gte=0"`
	Text         string `json:"text" validate:"required"`
}

// CheckResult is the outcome of an incremental check.
type CheckResult struct {
	Issues       []entities.ConsistencyIssue `json:"issues"`
	FactsChecked int                         `json:"facts_checked"`
	Cached       bool                        `json:"cached"`
}

// CheckerDeps groups the collaborators of an IncrementalChecker.
type CheckerDeps struct {
	Store     *FactStore
	Tracker   *IssueTracker
	Extractor *ExtractionService
	Checker   *ConsistencyChecker
	Context   *ContextBuilder
	Cache     ports.CheckCache // optional
	Metrics   ports.Metrics
}

// IncrementalChecker checks the trailing window of edited chapter text
// against the fact store.
type IncrementalChecker struct {
	bookID    string
	store     *FactStore
	tracker   *IssueTracker
	extractor *ExtractionService
	checker   *ConsistencyChecker
	context   *ContextBuilder
	cache     ports.CheckCache
	metrics   ports.Metrics
	validate  *validator.Validate
	window    int
	logger    *slog.Logger
}

// NewIncrementalChecker creates a checker for one book. window is the
// trailing window size in characters.
func NewIncrementalChecker(bookID string, deps CheckerDeps, window int, logger *slog.Logger) *IncrementalChecker {
	if window <= 0 {
		window = DefaultWindowSize
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
	return &IncrementalChecker{
		bookID:    bookID,
		store:     deps.Store,
		tracker:   deps.Tracker,
		extractor: deps.Extractor,
		checker:   deps.Checker,
		context:   deps.Context,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		validate:  validator.New(),
		window:    window,
		logger:    logger.With("book_id", bookID),
	}
}

// Check extracts facts from the trailing window of req.Text, reports the
// contradictions they raise and commits the accepted facts. A repeated
// check of unchanged text against an unchanged store is served from the
// cache without calling the extraction capability.
func (c *IncrementalChecker) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "check.Run", trace.WithAttributes(
		attribute.String("book_id", c.bookID),
		attribute.String("chapter_id", req.ChapterID),
	))
	defer span.End()

	res, outcome, err := c.check(ctx, req)
	c.metrics.CheckFinished(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CheckResult{}, err
	}
	span.SetAttributes(attribute.Bool("cached", res.Cached), attribute.Int("issues", len(res.Issues)))
	return res, nil
}

func (c *IncrementalChecker) check(ctx context.Context, req CheckRequest) (CheckResult, string, error) {
	if err := c.validate.Struct(req); err != nil {
		return CheckResult{}, CheckFailed, fmt.Errorf("%w: %v", entities.ErrInvalidRequest, err)
	}

	if cached, ok := c.lookup(ctx, c.cacheKey(req)); ok {
		cached.Cached = true
		return cached, CheckCached, nil
	}

	window, offset := TrailingWindow(req.Text, c.window)
	snapshot := c.store.Snapshot()
	base := snapshot.Version()
	ref := entities.SourceRef{ChapterID: req.ChapterID, ChapterTitle: req.ChapterTitle, ChapterIndex: req.ChapterIndex}

	ext, err := c.extractor.ExtractSpan(ctx, window, offset, ref, c.context.Build(ctx, snapshot, window))
	if err != nil {
		return CheckResult{}, outcomeOf(ctx), err
	}
	eval, err := c.checker.Evaluate(ctx, snapshot, ext)
	if err != nil {
		return CheckResult{}, outcomeOf(ctx), fmt.Errorf("checking chapter %s: %w", req.ChapterID, err)
	}

	// From here on the check only waits for the store, never for the
	// capability, so it queues behind a batch scan past ctx's deadline.
	ctx = commitContext(ctx)
	eval, err = c.commit(ctx, base, ext, eval)
	if err != nil {
		return CheckResult{}, outcomeOf(ctx), err
	}
	raised, err := c.tracker.Raise(ctx, eval.Issues)
	if err != nil {
		return CheckResult{}, outcomeOf(ctx), fmt.Errorf("recording issues: %w", err)
	}

	res := CheckResult{Issues: []entities.ConsistencyIssue{}, FactsChecked: eval.FactsChecked}
	for _, r := range raised {
		if r.Outcome.Visible() {
			res.Issues = append(res.Issues, r.Issue)
		}
	}
	c.logger.Debug("incremental check done",
		"chapter_id", req.ChapterID,
		"facts_checked", res.FactsChecked,
		"issues", len(res.Issues),
		"dropped", ext.Dropped)

	// Keyed on the state after the commit, so an identical resubmission hits.
	c.remember(ctx, c.cacheKey(req), res)
	return res, CheckOK, nil
}

// commit applies the accepted candidates, thread closures and events of
// eval to the store. When another commit landed after the snapshot at
// version base was taken, ext is evaluated again against the current state
// and that evaluation is returned instead.
func (c *IncrementalChecker) commit(ctx context.Context, base uint64, ext *Extraction, eval *Evaluation) (*Evaluation, error) {
	if len(ext.Candidates) == 0 && len(ext.Events) == 0 {
		return eval, nil
	}
	err := c.store.Apply(ctx, func(fs *FactSet) error {
		if fs.Version() != base {
			fresh, err := c.checker.Evaluate(ctx, fs, ext)
			if err != nil {
				return err
			}
			c.logger.Debug("store changed during check, evaluated again", "base_version", base, "version", fs.Version())
			eval = fresh
			return nil
		}
		for _, cand := range eval.Accepted {
			if res := fs.Upsert(cand); res.Outcome == UpsertConflict {
				c.logger.Debug("candidate conflicts with a newer value", "subject", cand.Subject, "attribute", cand.Attribute)
			}
		}
		for _, cand := range eval.Closures {
			if _, err := fs.Supersede(cand.Subject, cand.Attribute, cand.Value, cand.Source, entities.ChangeCorrection, "plot thread closed"); err != nil {
				c.logger.Debug("closing plot thread", "subject", cand.Subject, "error", err)
			}
		}
		for _, e := range eval.Events {
			fs.AddEvent(e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("committing checked facts: %w", err)
	}
	return eval, nil
}

type commitQueueKey struct{}

// withCommitQueue returns ctx carrying queue as the context the commit
// phase of a check waits on. queue is usually ctx's parent without its
// deadline, so cancelling the task still stops the wait.
func withCommitQueue(ctx, queue context.Context) context.Context {
	return context.WithValue(ctx, commitQueueKey{}, queue)
}

func commitContext(ctx context.Context) context.Context {
	if queue, ok := ctx.Value(commitQueueKey{}).(context.Context); ok {
		return queue
	}
	return ctx
}

func (c *IncrementalChecker) cacheKey(req CheckRequest) string {
	text := sha256.Sum256([]byte(req.Text))
	h := sha256.New()
	for _, part := range []string{
		c.bookID,
		req.ChapterID,
		strconv.Itoa(req.ChapterIndex),
		hex.EncodeToString(text[:]),
		strconv.Itoa(c.window),
		c.store.Fingerprint(),
		c.tracker.Fingerprint(),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "check/" + hex.EncodeToString(h.Sum(nil))
}

func (c *IncrementalChecker) lookup(ctx context.Context, key string) (CheckResult, bool) {
	if c.cache == nil {
		return CheckResult{}, false
	}
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("check cache read failed", "error", err)
		return CheckResult{}, false
	}
	if !ok {
		return CheckResult{}, false
	}
	var res CheckResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn("discarding undecodable cache entry", "error", err)
		return CheckResult{}, false
	}
	return res, true
}

func (c *IncrementalChecker) remember(ctx context.Context, key string, res CheckResult) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("encoding check result", "error", err)
		return
	}
	if err := c.cache.Set(ctx, key, data); err != nil {
		c.logger.Warn("check cache write failed", "error", err)
	}
}

func outcomeOf(ctx context.Context) string {
	if ctx.Err() != nil {
		return CheckCancelled
	}
	return CheckFailed
}
