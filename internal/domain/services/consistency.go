package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// CheckerConfig controls the consistency checker.
type CheckerConfig struct {
	// TimeOfDayCheck enables the daytime-versus-darkness heuristic in batch mode.
	TimeOfDayCheck bool
}

// Evaluation is the outcome of comparing one extraction against a staged set.
type Evaluation struct {
	Issues []entities.ConsistencyIssue
	// Accepted are candidates that were stored or matched an active value.
	Accepted []entities.CandidateFact
	// Closures are plot thread candidates that close an open thread.
	Closures     []entities.CandidateFact
	Events       []entities.TimelineEvent
	FactsChecked int
}

// ConsistencyChecker compares candidate facts against a fact set.
type ConsistencyChecker struct {
	judge    ContradictionJudge
	fallback RuleJudge
	cfg      CheckerConfig
	logger   *slog.Logger
}

// NewConsistencyChecker creates a checker. A nil judge means the rule judge.
func NewConsistencyChecker(judge ContradictionJudge, cfg CheckerConfig, logger *slog.Logger) *ConsistencyChecker {
	if judge == nil {
		judge = RuleJudge{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{judge: judge, cfg: cfg, logger: logger}
}

// Evaluate upserts every candidate of ext into staged and reports the
// contradictions it meets. staged is mutated; callers pass a copy.
func (c *ConsistencyChecker) Evaluate(ctx context.Context, staged *FactSet, ext *Extraction) (*Evaluation, error) {
	out := &Evaluation{}
	var found []entities.ConsistencyIssue

	for _, cand := range ext.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.FactsChecked++

		res := staged.Upsert(cand)
		if res.Outcome == UpsertAccepted {
			out.Accepted = append(out.Accepted, cand)
			if res.Created && cand.Category == entities.CategoryPlotThread && !isClosedThread(cand.Value) {
				found = append(found, unresolvedThreadIssue(res.Fact, cand))
			}
			continue
		}

		existing := res.Fact
		if existing.Category == entities.CategoryPlotThread && isClosedThread(cand.Value) && !isClosedThread(existing.Value) {
			if _, err := staged.Supersede(cand.Subject, cand.Attribute, cand.Value, cand.Source, entities.ChangeCorrection, "plot thread closed"); err != nil {
				return nil, fmt.Errorf("closing plot thread: %w", err)
			}
			out.Closures = append(out.Closures, cand)
			continue
		}

		verdict, err := c.judge.Judge(ctx, existing, cand)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("contradiction judge failed, using rule judge",
				"subject", existing.Subject, "attribute", existing.Attribute, "error", err)
			verdict, _ = c.fallback.Judge(ctx, existing, cand)
		}
		if verdict.Contradicts {
			found = append(found, contradictionIssue(existing, cand, verdict.Reason))
		}
	}

	for _, e := range ext.Events {
		if staged.AddEvent(e) {
			out.Events = append(out.Events, e)
		}
	}

	out.Issues = MergeIssues(keyIssues(found, staged.Resolve))
	return out, nil
}

// TimelineIssues runs the batch timeline checks over the whole set.
func (c *ConsistencyChecker) TimelineIssues(staged *FactSet) []entities.ConsistencyIssue {
	issues := deceasedIssues(staged)
	if c.cfg.TimeOfDayCheck {
		issues = append(issues, timeOfDayIssues(staged.Events())...)
	}
	return MergeIssues(keyIssues(issues, staged.Resolve))
}

// MergeIssues collapses duplicate findings. Findings for the same fact key
// and excerpt keep only the most severe; findings sharing a dedup key are
// merged into one issue with every location.
func MergeIssues(issues []entities.ConsistencyIssue) []entities.ConsistencyIssue {
	type tie struct {
		key     string
		excerpt string
	}
	best := make(map[tie]int)
	var picked []entities.ConsistencyIssue
	for _, issue := range issues {
		t := tie{
			key:     string(issue.Type) + "\x00" + entities.NormalizeName(issue.Subject) + "\x00" + entities.NormalizeAttribute(issue.Attribute),
			excerpt: firstExcerpt(issue),
		}
		if i, ok := best[t]; ok {
			if issue.Severity.Rank() > picked[i].Severity.Rank() {
				picked[i] = issue
			}
			continue
		}
		best[t] = len(picked)
		picked = append(picked, issue)
	}

	byKey := make(map[string]int)
	var merged []entities.ConsistencyIssue
	for _, issue := range picked {
		i, ok := byKey[issue.DedupKey]
		if !ok {
			byKey[issue.DedupKey] = len(merged)
			merged = append(merged, issue.Clone())
			continue
		}
		mergeInto(&merged[i], issue)
	}
	return merged
}

// mergeInto folds src into dst: locations and suggestions are unioned and
// the higher severity wins.
func mergeInto(dst *entities.ConsistencyIssue, src entities.ConsistencyIssue) {
	for _, loc := range src.Locations {
		if !hasSighting(dst.Locations, loc) {
			dst.Locations = append(dst.Locations, loc)
		}
	}
	for _, s := range src.Suggestions {
		if !containsString(dst.Suggestions, s) {
			dst.Suggestions = append(dst.Suggestions, s)
		}
	}
	for _, id := range src.RelatedFactIDs {
		if !containsString(dst.RelatedFactIDs, id) {
			dst.RelatedFactIDs = append(dst.RelatedFactIDs, id)
		}
	}
	if src.Severity.Rank() > dst.Severity.Rank() {
		dst.Severity = src.Severity
		dst.Title = src.Title
		dst.Description = src.Description
		dst.FoundValue = src.FoundValue
	}
}

func firstExcerpt(issue entities.ConsistencyIssue) string {
	if len(issue.Locations) == 0 {
		return ""
	}
	return issue.Locations[0].Excerpt
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func contradictionIssue(existing entities.StoryFact, cand entities.CandidateFact, reason string) entities.ConsistencyIssue {
	attr := humanAttribute(existing.Attribute)
	return entities.ConsistencyIssue{
		BookID:   existing.BookID,
		Type:     entities.IssueFactContradiction,
		Severity: existing.Importance.Severity(),
		Title:    fmt.Sprintf("%s's %s changes from %q to %q", existing.Subject, attr, existing.Value, cand.Value),
		Description: fmt.Sprintf("%s's %s was established as %q in %s, but %s describes it as %q (%s).",
			existing.Subject, attr, existing.Value, chapterLabel(existing.EstablishedIn),
			chapterLabel(cand.Source), cand.Value, reason),
		Locations: []entities.SourceRef{cand.Source, existing.EstablishedIn},
		Suggestions: []string{
			fmt.Sprintf("Change %q to %q to match %s.", cand.Value, existing.Value, chapterLabel(existing.EstablishedIn)),
			fmt.Sprintf("If the change is intentional, resolve this issue as intentional to make %q canonical.", cand.Value),
		},
		RelatedFactIDs: []string{existing.ID},
		Subject:        existing.Subject,
		Attribute:      existing.Attribute,
		ExpectedValue:  existing.Value,
		FoundValue:     cand.Value,
	}
}

func unresolvedThreadIssue(fact entities.StoryFact, cand entities.CandidateFact) entities.ConsistencyIssue {
	return entities.ConsistencyIssue{
		BookID:      fact.BookID,
		Type:        entities.IssueUnresolvedThread,
		Severity:    entities.SeveritySuggestion,
		Title:       fmt.Sprintf("Open plot thread: %s", fact.Subject),
		Description: fmt.Sprintf("%s opens a plot thread (%s: %q) that has not been resolved.", chapterLabel(cand.Source), humanAttribute(fact.Attribute), fact.Value),
		Locations:   []entities.SourceRef{cand.Source},
		Suggestions: []string{
			fmt.Sprintf("Resolve or revisit %q before the end of the book.", fact.Subject),
		},
		RelatedFactIDs: []string{fact.ID},
		Subject:        fact.Subject,
		Attribute:      fact.Attribute,
		FoundValue:     fact.Value,
	}
}

var closedThreadMarkers = []string{"resolved", "closed", "concluded", "answered", "completed", "finished"}

func isClosedThread(value string) bool {
	v := entities.NormalizeValue(value)
	for _, m := range closedThreadMarkers {
		if v == m || strings.HasPrefix(v, m+" ") {
			return true
		}
	}
	return false
}

func humanAttribute(attribute string) string {
	return strings.ReplaceAll(attribute, "_", " ")
}

func chapterLabel(ref entities.SourceRef) string {
	switch {
	case ref.ChapterTitle != "":
		return fmt.Sprintf("%q", ref.ChapterTitle)
	case ref.ChapterID != "":
		return "chapter " + ref.ChapterID
	default:
		return "an earlier chapter"
	}
}

// sortIssues orders issues by chapter, then severity, then title.
func sortIssues(issues []entities.ConsistencyIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		ai, bi := firstIndex(a), firstIndex(b)
		if ai != bi {
			return ai < bi
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.Title < b.Title
	})
}

func firstIndex(issue entities.ConsistencyIssue) int {
	if len(issue.Locations) == 0 {
		return 0
	}
	return issue.Locations[0].ChapterIndex
}
