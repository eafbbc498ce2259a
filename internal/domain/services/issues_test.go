package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/mocks"
)

func seededStore(t *testing.T, repo *mocks.BookRepository) *FactStore {
	t.Helper()
	store, err := OpenFactStore(t.Context(), "book", repo, nil)
	require.NoError(t, err)
	_, err = store.UpsertCandidateFact(t.Context(), entities.CandidateFact{
		Subject:    "Marcus",
		Attribute:  "eye_color",
		Value:      "blue",
		Category:   entities.CategoryCharacterTrait,
		Importance: entities.ImportanceSignificant,
		Source:     entities.SourceRef{ChapterID: "ch1", ChapterIndex: 1, Excerpt: "Marcus had blue eyes", Position: 10},
	})
	require.NoError(t, err)
	return store
}

func detectGreenEyes(t *testing.T, store *FactStore) []entities.ConsistencyIssue {
	t.Helper()
	eval, err := NewConsistencyChecker(nil, CheckerConfig{}, nil).
		Evaluate(t.Context(), store.Snapshot(), &Extraction{Candidates: []entities.CandidateFact{greenEyes()}})
	require.NoError(t, err)
	return eval.Issues
}

func TestIssueTracker_RaiseNewIssue(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)

	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, RaiseNew, results[0].Outcome)
	issue := results[0].Issue
	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, entities.StatusOpen, issue.Status)
	require.Len(t, issue.Transitions, 1)

	stored, err := repo.LoadIssues(t.Context(), "book")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestIssueTracker_RedetectionMergesOpenIssue(t *testing.T) {
	store := seededStore(t, mocks.NewBookRepository())
	tracker := NewIssueTracker("book", store, nil, IssueConfig{}, nil, nil)

	first, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	again := detectGreenEyes(t, store)
	again[0].Locations[0].Excerpt = "green eyes again"
	second, err := tracker.Raise(t.Context(), again)
	require.NoError(t, err)

	assert.Equal(t, RaiseMerged, second[0].Outcome)
	assert.Equal(t, first[0].Issue.ID, second[0].Issue.ID)
	assert.Len(t, tracker.List(entities.IssueFilter{}), 1)
	assert.Len(t, second[0].Issue.Locations, 3)
}

func TestIssueTracker_DedupStableFingerprint(t *testing.T) {
	store := seededStore(t, mocks.NewBookRepository())
	tracker := NewIssueTracker("book", store, nil, IssueConfig{}, nil, nil)

	_, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	fp := tracker.Fingerprint()
	_, err = tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)

	assert.Equal(t, fp, tracker.Fingerprint())
}

func TestIssueTracker_Transitions(t *testing.T) {
	store := seededStore(t, mocks.NewBookRepository())
	tracker := NewIssueTracker("book", store, nil, IssueConfig{}, nil, nil)
	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	id := results[0].Issue.ID

	_, err = tracker.Acknowledge(t.Context(), id, "seen")
	require.NoError(t, err)

	_, err = tracker.Acknowledge(t.Context(), id, "again")
	assert.True(t, errors.Is(err, entities.ErrInvalidTransition))

	dismissed, err := tracker.Dismiss(t.Context(), id, "not a problem")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusDismissed, dismissed.Status)
	require.NotNil(t, dismissed.Resolution)

	reopened, err := tracker.Reopen(t.Context(), id, "")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusOpen, reopened.Status)
	assert.Nil(t, reopened.Resolution)
	assert.Len(t, reopened.Transitions, 4)

	_, err = tracker.Reopen(t.Context(), id, "")
	assert.True(t, errors.Is(err, entities.ErrInvalidTransition))

	_, err = tracker.Acknowledge(t.Context(), "missing", "")
	assert.True(t, errors.Is(err, entities.ErrIssueNotFound))
}

func TestIssueTracker_TransitionsAreAudited(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)
	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	id := results[0].Issue.ID

	_, err = tracker.Resolve(t.Context(), id, ResolveRequest{Notes: "rewrote chapter 5"})
	require.NoError(t, err)

	log, err := repo.FindAuditLog(t.Context(), "book", id)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, entities.AuditIssueTransition, log[0].Action)
	assert.Equal(t, "resolved", log[0].Details["to"])
}

func TestIssueTracker_ResolveIntentionalMakesValueCanonical(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)
	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)

	resolved, err := tracker.Resolve(t.Context(), results[0].Issue.ID, ResolveRequest{
		Method: entities.ResolutionIntentional,
		Notes:  "eyes changed by the curse",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusResolved, resolved.Status)
	assert.Equal(t, "green", resolved.Resolution.Value)

	fact, ok := store.ActiveValue("Marcus", "eye color")
	require.True(t, ok)
	assert.Equal(t, "green", fact.Value)
	require.Len(t, fact.History, 1)
	assert.Equal(t, "blue", fact.History[0].Value)
	assert.Equal(t, entities.ChangeRetcon, fact.History[0].ChangeType)

	assert.Empty(t, detectGreenEyes(t, store), "green is canonical now")
	assert.Equal(t, 100, tracker.Analysis().ContinuityScore)
}

func TestIssueTracker_ResolveIntentionalOverrideValue(t *testing.T) {
	store := seededStore(t, mocks.NewBookRepository())
	tracker := NewIssueTracker("book", store, nil, IssueConfig{}, nil, nil)
	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)

	_, err = tracker.Resolve(t.Context(), results[0].Issue.ID, ResolveRequest{
		Method: entities.ResolutionIntentional,
		Value:  "hazel",
	})
	require.NoError(t, err)

	fact, ok := store.ActiveValue("Marcus", "eye_color")
	require.True(t, ok)
	assert.Equal(t, "hazel", fact.Value)
}

func TestIssueTracker_ResolveRejectsUnknownMethod(t *testing.T) {
	store := seededStore(t, mocks.NewBookRepository())
	tracker := NewIssueTracker("book", store, nil, IssueConfig{}, nil, nil)
	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)

	_, err = tracker.Resolve(t.Context(), results[0].Issue.ID, ResolveRequest{Method: "ignored"})

	assert.True(t, errors.Is(err, entities.ErrInvalidRequest))
}

func TestIssueTracker_ResolveIntentionalFailureLeavesIssueOpen(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)
	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)

	repo.ApplyErr = errors.New("disk full")
	_, err = tracker.Resolve(t.Context(), results[0].Issue.ID, ResolveRequest{Method: entities.ResolutionIntentional})
	require.Error(t, err)

	issue, err := tracker.Get(results[0].Issue.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusOpen, issue.Status)
	fact, _ := store.ActiveValue("Marcus", "eye_color")
	assert.Equal(t, "blue", fact.Value)

	repo.ApplyErr = nil
	stored, err := repo.LoadIssues(t.Context(), "book")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, entities.StatusOpen, stored[0].Status, "the saved resolution is restored")
}

func TestIssueTracker_ResolveIntentionalSaveFailureKeepsFact(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)
	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	id := results[0].Issue.ID

	repo.SaveIssuesErr = errors.New("disk full")
	_, err = tracker.Resolve(t.Context(), id, ResolveRequest{Method: entities.ResolutionIntentional})
	require.Error(t, err)

	fact, _ := store.ActiveValue("Marcus", "eye_color")
	assert.Equal(t, "blue", fact.Value)
	assert.Empty(t, fact.History)
	issue, err := tracker.Get(id)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusOpen, issue.Status)

	// A retry supersedes exactly once.
	repo.SaveIssuesErr = nil
	_, err = tracker.Resolve(t.Context(), id, ResolveRequest{Method: entities.ResolutionIntentional})
	require.NoError(t, err)
	fact, _ = store.ActiveValue("Marcus", "eye_color")
	assert.Equal(t, "green", fact.Value)
	require.Len(t, fact.History, 1)
	assert.Equal(t, "blue", fact.History[0].Value)
}

func TestIssueTracker_RedetectionAfterClose(t *testing.T) {
	tests := []struct {
		name     string
		close    func(tr *IssueTracker, id string) error
		reraise  bool
		want     RaiseOutcome
		wantOpen bool
	}{
		{
			name:  "dismissed stays suppressed",
			close: func(tr *IssueTracker, id string) error { _, err := tr.Dismiss(t.Context(), id, ""); return err },
			want:  RaiseSuppressed,
		},
		{
			name: "wont fix stays suppressed",
			close: func(tr *IssueTracker, id string) error {
				_, err := tr.Resolve(t.Context(), id, ResolveRequest{Method: entities.ResolutionWontFix})
				return err
			},
			want: RaiseSuppressed,
		},
		{
			name:     "dismissed reopens when reraise is set",
			close:    func(tr *IssueTracker, id string) error { _, err := tr.Dismiss(t.Context(), id, ""); return err },
			reraise:  true,
			want:     RaiseReopened,
			wantOpen: true,
		},
		{
			name: "fixed stays closed",
			close: func(tr *IssueTracker, id string) error {
				_, err := tr.Resolve(t.Context(), id, ResolveRequest{Method: entities.ResolutionFixed})
				return err
			},
			reraise: true,
			want:    RaiseClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore(t, mocks.NewBookRepository())
			tracker := NewIssueTracker("book", store, nil, IssueConfig{ReraiseSuppressed: tt.reraise}, nil, nil)
			first, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
			require.NoError(t, err)
			id := first[0].Issue.ID
			require.NoError(t, tt.close(tracker, id))

			again, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
			require.NoError(t, err)

			assert.Equal(t, tt.want, again[0].Outcome)
			assert.Equal(t, id, again[0].Issue.ID)
			issue, err := tracker.Get(id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOpen, issue.Status == entities.StatusOpen)
		})
	}
}

func TestIssueTracker_ListFiltersAndAnalysis(t *testing.T) {
	store := seededStore(t, mocks.NewBookRepository())
	tracker := NewIssueTracker("book", store, nil, IssueConfig{}, nil, nil)
	thread := entities.ConsistencyIssue{
		Type:      entities.IssueUnresolvedThread,
		Severity:  entities.SeveritySuggestion,
		Subject:   "the letter",
		Attribute: "status",
		Locations: []entities.SourceRef{{ChapterID: "ch2", ChapterIndex: 2}},
	}
	_, err := tracker.Raise(t.Context(), append(detectGreenEyes(t, store), thread))
	require.NoError(t, err)

	warnings := tracker.List(entities.IssueFilter{Severity: entities.Only(entities.SeverityWarning)})
	require.Len(t, warnings, 1)
	assert.Equal(t, entities.IssueFactContradiction, warnings[0].Type)

	all := tracker.List(entities.IssueFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "ch2", all[0].ChapterID(), "ordered by chapter")

	analysis := tracker.Analysis()
	assert.Equal(t, entities.SeverityCounts{Warning: 1, Suggestion: 1}, analysis.OpenIssues)
	assert.Equal(t, 96, analysis.ContinuityScore)
	assert.Equal(t, 1, analysis.FactCount)
}

func TestIssueTracker_OpenLoadsFromRepository(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)
	first, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)

	reopened, err := OpenIssueTracker(t.Context(), "book", store, repo, IssueConfig{}, nil, nil)
	require.NoError(t, err)

	again, err := reopened.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	assert.Equal(t, RaiseMerged, again[0].Outcome)
	assert.Equal(t, first[0].Issue.ID, again[0].Issue.ID)
}

func TestIssueTracker_RaisePersistFailure(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)

	repo.Err = errors.New("db down")
	_, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.Error(t, err)
	repo.Err = nil

	results, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	assert.Equal(t, RaiseNew, results[0].Outcome)
	assert.Len(t, tracker.List(entities.IssueFilter{}), 1)
}

func TestIssueTracker_RedetectionAfterAliasMerges(t *testing.T) {
	repo := mocks.NewBookRepository()
	store := seededStore(t, repo)
	tracker := NewIssueTracker("book", store, repo, IssueConfig{}, nil, nil)

	first, err := tracker.Raise(t.Context(), detectGreenEyes(t, store))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "Marcus", first[0].Issue.Subject)

	require.NoError(t, store.RegisterAlias(t.Context(), "Marcus", "Marcus Webb"))
	found := detectGreenEyes(t, store)
	require.Len(t, found, 1)
	assert.Equal(t, "Marcus Webb", found[0].Subject)
	assert.Equal(t, entities.DedupKey(entities.IssueFactContradiction, "Marcus Webb", "eye_color", "ch5"), found[0].DedupKey)

	again, err := tracker.Raise(t.Context(), found)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, RaiseMerged, again[0].Outcome)
	assert.Equal(t, first[0].Issue.ID, again[0].Issue.ID)
	assert.Equal(t, found[0].DedupKey, again[0].Issue.DedupKey)
	assert.Len(t, tracker.List(entities.IssueFilter{}), 1)

	stored, err := repo.LoadIssues(t.Context(), "book")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, found[0].DedupKey, stored[0].DedupKey)
}
