package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// IssueConfig controls the issue lifecycle.
type IssueConfig struct {
	// ReraiseSuppressed reopens dismissed and won't-fix issues when they are
	// detected again instead of keeping them suppressed.
	ReraiseSuppressed bool
	Weights           ScoreWeights
}

// RaiseOutcome says what happened to one detected issue.
type RaiseOutcome string

const (
	RaiseNew        RaiseOutcome = "new"
	RaiseMerged     RaiseOutcome = "merged"
	RaiseReopened   RaiseOutcome = "reopened"
	RaiseSuppressed RaiseOutcome = "suppressed"
	RaiseClosed     RaiseOutcome = "closed" // already fixed or accepted as intentional
)

// Visible reports whether the issue should be shown to the writer.
func (o RaiseOutcome) Visible() bool {
	return o == RaiseNew || o == RaiseMerged || o == RaiseReopened
}

// RaiseResult pairs an issue with what Raise did with it.
type RaiseResult struct {
	Issue   entities.ConsistencyIssue
	Outcome RaiseOutcome
}

// ResolveRequest closes an issue as resolved.
type ResolveRequest struct {
	Method entities.ResolutionMethod `json:"method"`
	Notes  string                    `json:"notes,omitempty"`
	// Value overrides the value made canonical by an intentional resolution.
	Value string `json:"value,omitempty"`
}

// IssueTracker owns the issues of one book and their lifecycle.
type IssueTracker struct {
	bookID  string
	store   *FactStore
	repo    ports.BookRepository
	cfg     IssueConfig
	scores  *ScoreAggregator
	metrics ports.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	issues map[string]*entities.ConsistencyIssue
}

// NewIssueTracker creates an empty tracker. repo may be nil.
func NewIssueTracker(bookID string, store *FactStore, repo ports.BookRepository, cfg IssueConfig, metrics ports.Metrics, logger *slog.Logger) *IssueTracker {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Weights == (ScoreWeights{}) {
		cfg.Weights = DefaultScoreWeights()
	}
	return &IssueTracker{
		bookID:  bookID,
		store:   store,
		repo:    repo,
		cfg:     cfg,
		scores:  NewScoreAggregator(cfg.Weights),
		metrics: metrics,
		logger:  logger.With("book_id", bookID),
		now:     time.Now,
		issues:  make(map[string]*entities.ConsistencyIssue),
	}
}

// OpenIssueTracker creates a tracker and loads the book's issues from repo.
func OpenIssueTracker(ctx context.Context, bookID string, store *FactStore, repo ports.BookRepository, cfg IssueConfig, metrics ports.Metrics, logger *slog.Logger) (*IssueTracker, error) {
	t := NewIssueTracker(bookID, store, repo, cfg, metrics, logger)
	loaded, err := repo.LoadIssues(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("loading issues: %w", err)
	}
	for i := range loaded {
		issue := loaded[i].Clone()
		t.issues[issue.ID] = &issue
	}
	return t, nil
}

// Raise records detected issues, deduplicating by dedup key against the
// issues already known. Keys are taken through the store's current aliases,
// so an issue raised under an alias matches its redetection under the
// canonical name.
func (t *IssueTracker) Raise(ctx context.Context, found []entities.ConsistencyIssue) ([]RaiseResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	resolve := t.resolver()
	byKey := t.keyIndex(resolve)
	results := make([]RaiseResult, 0, len(found))
	var changed []entities.ConsistencyIssue
	staged := make(map[string]entities.ConsistencyIssue)

	for _, f := range found {
		f.DedupKey = issueKey(f, resolve)

		var current *entities.ConsistencyIssue
		if id, ok := byKey[f.DedupKey]; ok {
			if s, ok := staged[id]; ok {
				current = &s
			} else {
				c := t.issues[id].Clone()
				current = &c
			}
			current.DedupKey = f.DedupKey
		}

		if current == nil {
			issue := f.Clone()
			issue.ID = uuid.New().String()
			issue.BookID = t.bookID
			issue.Status = entities.StatusOpen
			issue.CreatedAt = now
			issue.UpdatedAt = now
			issue.LastDetectedAt = now
			issue.Transitions = []entities.IssueTransition{{To: entities.StatusOpen, Notes: "detected", At: now}}
			staged[issue.ID] = issue
			byKey[issue.DedupKey] = issue.ID
			results = append(results, RaiseResult{Issue: issue, Outcome: RaiseNew})
			t.metrics.IssueRaised(issue.Severity)
			continue
		}

		outcome := t.redetect(current, f, now)
		staged[current.ID] = *current
		results = append(results, RaiseResult{Issue: current.Clone(), Outcome: outcome})
		if outcome == RaiseReopened {
			t.metrics.IssueRaised(current.Severity)
		}
	}

	for _, issue := range staged {
		changed = append(changed, issue)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	if err := t.persist(ctx, changed); err != nil {
		return nil, err
	}
	for _, issue := range changed {
		cp := issue
		t.issues[issue.ID] = &cp
	}
	return results, nil
}

// resolver maps a subject to its canonical normalized name.
func (t *IssueTracker) resolver() func(string) string {
	if t.store == nil {
		return entities.NormalizeName
	}
	return t.store.Resolve
}

// keyIndex maps the current key of every known issue to its ID. When an
// alias makes two issues share a key the oldest one wins.
func (t *IssueTracker) keyIndex(resolve func(string) string) map[string]string {
	known := make([]*entities.ConsistencyIssue, 0, len(t.issues))
	for _, issue := range t.issues {
		known = append(known, issue)
	}
	sort.Slice(known, func(i, j int) bool {
		if !known[i].CreatedAt.Equal(known[j].CreatedAt) {
			return known[i].CreatedAt.Before(known[j].CreatedAt)
		}
		return known[i].ID < known[j].ID
	})
	index := make(map[string]string, len(known))
	for _, issue := range known {
		key := issueKey(*issue, resolve)
		if _, ok := index[key]; !ok {
			index[key] = issue.ID
		}
	}
	return index
}

// issueKey is the dedup key of issue with its subject taken through resolve.
// Implausible-time issues are keyed on an event description, not a name.
func issueKey(issue entities.ConsistencyIssue, resolve func(string) string) string {
	subject := issue.Subject
	if issue.Type != entities.IssueImplausibleTime {
		subject = resolve(subject)
	}
	return entities.DedupKey(issue.Type, subject, issue.Attribute, issue.ChapterID())
}

// keyIssues sets the dedup key of every issue in place.
func keyIssues(issues []entities.ConsistencyIssue, resolve func(string) string) []entities.ConsistencyIssue {
	for i := range issues {
		issues[i].DedupKey = issueKey(issues[i], resolve)
	}
	return issues
}

// redetect applies a repeated detection to a known issue.
func (t *IssueTracker) redetect(current *entities.ConsistencyIssue, f entities.ConsistencyIssue, now time.Time) RaiseOutcome {
	current.LastDetectedAt = now

	switch {
	case !current.Status.IsClosed():
		mergeInto(current, f)
		current.UpdatedAt = now
		return RaiseMerged

	case t.suppressed(*current):
		if !t.cfg.ReraiseSuppressed {
			return RaiseSuppressed
		}
		current.Transitions = append(current.Transitions, entities.IssueTransition{
			From: current.Status, To: entities.StatusOpen, Notes: "detected again", At: now,
		})
		current.Status = entities.StatusOpen
		current.Resolution = nil
		mergeInto(current, f)
		current.UpdatedAt = now
		return RaiseReopened

	default:
		return RaiseClosed
	}
}

func (t *IssueTracker) suppressed(issue entities.ConsistencyIssue) bool {
	if issue.Status == entities.StatusDismissed {
		return true
	}
	return issue.Status == entities.StatusResolved &&
		issue.Resolution != nil && issue.Resolution.Method == entities.ResolutionWontFix
}

// Acknowledge marks an open issue as seen.
func (t *IssueTracker) Acknowledge(ctx context.Context, id, notes string) (entities.ConsistencyIssue, error) {
	return t.transition(ctx, id, entities.StatusAcknowledged, notes, nil)
}

// Dismiss closes an issue as not a problem. Dismissed issues stay
// suppressed when detected again.
func (t *IssueTracker) Dismiss(ctx context.Context, id, notes string) (entities.ConsistencyIssue, error) {
	return t.transition(ctx, id, entities.StatusDismissed, notes, func(issue *entities.ConsistencyIssue) {
		issue.Resolution = &entities.Resolution{Notes: notes, ResolvedAt: t.now()}
	})
}

// Reopen moves a resolved or dismissed issue back to open.
func (t *IssueTracker) Reopen(ctx context.Context, id, notes string) (entities.ConsistencyIssue, error) {
	return t.transition(ctx, id, entities.StatusOpen, notes, func(issue *entities.ConsistencyIssue) {
		issue.Resolution = nil
	})
}

// Resolve closes an issue. An intentional resolution of a fact
// contradiction also makes the found value (or req.Value) canonical in the
// fact store. The resolved issue is saved before the fact is superseded;
// if superseding fails the saved issue is restored and nothing changes.
func (t *IssueTracker) Resolve(ctx context.Context, id string, req ResolveRequest) (entities.ConsistencyIssue, error) {
	if req.Method == "" {
		req.Method = entities.ResolutionFixed
	}
	if !req.Method.IsValid() {
		return entities.ConsistencyIssue{}, fmt.Errorf("resolution method %q: %w", req.Method, entities.ErrInvalidRequest)
	}

	issue, err := t.Get(id)
	if err != nil {
		return entities.ConsistencyIssue{}, err
	}
	if !issue.Status.CanTransition(entities.StatusResolved) {
		return entities.ConsistencyIssue{}, fmt.Errorf("resolving %s issue %s: %w", issue.Status, id, entities.ErrInvalidTransition)
	}

	value := ""
	var canonical func() error
	if req.Method == entities.ResolutionIntentional && issue.Subject != "" && issue.Attribute != "" &&
		issue.Type == entities.IssueFactContradiction {
		value = strings.TrimSpace(req.Value)
		if value == "" {
			value = issue.FoundValue
		}
		var source entities.SourceRef
		if len(issue.Locations) > 0 {
			source = issue.Locations[0]
		}
		reason := "resolved as intentional"
		if req.Notes != "" {
			reason += ": " + req.Notes
		}
		canonical = func() error {
			if _, err := t.store.Supersede(ctx, issue.Subject, issue.Attribute, value, source, entities.ChangeRetcon, reason); err != nil {
				return fmt.Errorf("making %q canonical: %w", value, err)
			}
			return nil
		}
	}

	return t.transitionWith(ctx, id, entities.StatusResolved, req.Notes, func(issue *entities.ConsistencyIssue) {
		issue.Resolution = &entities.Resolution{
			Method:     req.Method,
			Notes:      req.Notes,
			Value:      value,
			ResolvedAt: t.now(),
		}
	}, canonical)
}

func (t *IssueTracker) transition(ctx context.Context, id string, to entities.IssueStatus, notes string, mutate func(*entities.ConsistencyIssue)) (entities.ConsistencyIssue, error) {
	return t.transitionWith(ctx, id, to, notes, mutate, nil)
}

// transitionWith saves the transitioned issue and then runs apply, if set.
// When apply fails the previous issue is saved back and the transition is
// not published.
func (t *IssueTracker) transitionWith(ctx context.Context, id string, to entities.IssueStatus, notes string, mutate func(*entities.ConsistencyIssue), apply func() error) (entities.ConsistencyIssue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.issues[id]
	if !ok {
		return entities.ConsistencyIssue{}, fmt.Errorf("issue %s: %w", id, entities.ErrIssueNotFound)
	}
	if !current.Status.CanTransition(to) {
		return entities.ConsistencyIssue{}, fmt.Errorf("moving issue %s from %s to %s: %w", id, current.Status, to, entities.ErrInvalidTransition)
	}

	now := t.now()
	next := current.Clone()
	next.Transitions = append(next.Transitions, entities.IssueTransition{From: current.Status, To: to, Notes: notes, At: now})
	next.Status = to
	next.UpdatedAt = now
	if mutate != nil {
		mutate(&next)
	}

	if err := t.persist(ctx, []entities.ConsistencyIssue{next}); err != nil {
		return entities.ConsistencyIssue{}, err
	}
	if apply != nil {
		if err := apply(); err != nil {
			if rerr := t.persist(context.WithoutCancel(ctx), []entities.ConsistencyIssue{current.Clone()}); rerr != nil {
				t.logger.Error("failed to restore issue", "issue_id", id, "error", rerr)
			}
			return entities.ConsistencyIssue{}, err
		}
	}
	if t.repo != nil {
		entry := entities.AuditEntry{
			BookID:   t.bookID,
			Action:   entities.AuditIssueTransition,
			TargetID: id,
			Details: map[string]any{
				"from":  string(current.Status),
				"to":    string(to),
				"notes": notes,
			},
			CreatedAt: now,
		}
		if err := t.repo.LogAction(ctx, entry); err != nil {
			t.logger.Warn("failed to write audit log", "issue_id", id, "error", err)
		}
	}

	t.issues[id] = &next
	t.logger.Info("issue transitioned", "issue_id", id, "from", current.Status, "to", to)
	return next.Clone(), nil
}

func (t *IssueTracker) persist(ctx context.Context, issues []entities.ConsistencyIssue) error {
	if t.repo == nil || len(issues) == 0 {
		return nil
	}
	if err := t.repo.SaveIssues(ctx, issues); err != nil {
		return fmt.Errorf("saving issues: %w", err)
	}
	return nil
}

// Get returns one issue.
func (t *IssueTracker) Get(id string) (entities.ConsistencyIssue, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	issue, ok := t.issues[id]
	if !ok {
		return entities.ConsistencyIssue{}, fmt.Errorf("issue %s: %w", id, entities.ErrIssueNotFound)
	}
	return issue.Clone(), nil
}

// List returns the issues matching filter ordered by chapter and severity.
func (t *IssueTracker) List(filter entities.IssueFilter) []entities.ConsistencyIssue {
	t.mu.RLock()
	var out []entities.ConsistencyIssue
	for _, issue := range t.issues {
		if filter.Matches(*issue) {
			out = append(out, issue.Clone())
		}
	}
	t.mu.RUnlock()

	sortIssues(out)
	return out
}

// OpenCounts counts open and acknowledged issues by severity.
func (t *IssueTracker) OpenCounts() entities.SeverityCounts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var counts entities.SeverityCounts
	for _, issue := range t.issues {
		if !issue.Status.IsClosed() {
			counts.Add(issue.Severity)
		}
	}
	return counts
}

// Fingerprint hashes the dedup key and status of every issue.
func (t *IssueTracker) Fingerprint() string {
	t.mu.RLock()
	lines := make([]string, 0, len(t.issues))
	for _, issue := range t.issues {
		lines = append(lines, issue.DedupKey+"\x00"+string(issue.Status))
	}
	t.mu.RUnlock()

	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Analysis computes the continuity analysis of the book.
func (t *IssueTracker) Analysis() entities.ContinuityAnalysis {
	counts := t.OpenCounts()
	facts, events := t.store.Counts()
	return entities.ContinuityAnalysis{
		BookID:          t.bookID,
		ContinuityScore: t.scores.Score(counts),
		OpenIssues:      counts,
		FactCount:       facts,
		EventCount:      events,
		ComputedAt:      t.now(),
	}
}
