package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// FactStore is the canonical fact store of one book.
//
// Readers take a read lock and never wait for a batch scan. Every mutation
// goes through the commit lock: the current set is cloned, mutated,
// persisted and then swapped in. A batch scan holds the commit lock for its
// whole run, so incremental commits queue behind it.
type FactStore struct {
	bookID string
	repo   ports.BookRepository
	logger *slog.Logger

	mu  sync.RWMutex
	set *FactSet

	commit chan struct{}
}

// NewFactStore creates an empty, memory-only fact store.
func NewFactStore(bookID string, logger *slog.Logger) *FactStore {
	return newFactStore(bookID, NewFactSet(bookID), nil, logger)
}

// OpenFactStore loads a book's fact store from repo and verifies it.
func OpenFactStore(ctx context.Context, bookID string, repo ports.BookRepository, logger *slog.Logger) (*FactStore, error) {
	facts, err := repo.LoadFacts(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("loading facts: %w", err)
	}
	events, err := repo.LoadEvents(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	aliases, err := repo.LoadAliases(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}

	set, err := LoadFactSet(bookID, facts, events, aliases)
	if err != nil {
		return nil, err
	}
	if err := set.Verify(); err != nil {
		return nil, err
	}
	return newFactStore(bookID, set, repo, logger), nil
}

func newFactStore(bookID string, set *FactSet, repo ports.BookRepository, logger *slog.Logger) *FactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactStore{
		bookID: bookID,
		repo:   repo,
		logger: logger.With("book_id", bookID),
		set:    set,
		commit: make(chan struct{}, 1),
	}
}

// BookID returns the book the store belongs to.
func (s *FactStore) BookID() string {
	return s.bookID
}

// Snapshot returns a deep copy of the current state.
func (s *FactStore) Snapshot() *FactSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Clone()
}

// Resolve returns the normalized canonical name of name.
func (s *FactStore) Resolve(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Resolve(name)
}

// ActiveValue returns the active fact for a subject and attribute.
func (s *FactStore) ActiveValue(subject, attribute string) (entities.StoryFact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.ActiveValue(subject, attribute)
}

// Facts returns the active facts matching filter.
func (s *FactStore) Facts(filter entities.FactFilter) []entities.StoryFact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.List(filter)
}

// FactsByCategory returns the active facts of one category.
func (s *FactStore) FactsByCategory(category entities.Category) []entities.StoryFact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.FactsByCategory(category)
}

// AllEvents returns the timeline in story order.
func (s *FactStore) AllEvents() []entities.TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Events()
}

// Counts returns the number of active facts and timeline events.
func (s *FactStore) Counts() (facts, events int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Len(), s.set.EventCount()
}

// Fingerprint returns the content hash of the current state.
func (s *FactStore) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Fingerprint()
}

// UpsertCandidateFact proposes one candidate and commits it when accepted.
func (s *FactStore) UpsertCandidateFact(ctx context.Context, c entities.CandidateFact) (UpsertResult, error) {
	var result UpsertResult
	err := s.Apply(ctx, func(fs *FactSet) error {
		result = fs.Upsert(c)
		return nil
	})
	return result, err
}

// Supersede replaces an active value and commits the change.
func (s *FactStore) Supersede(ctx context.Context, subject, attribute, value string, source entities.SourceRef, change entities.ChangeType, reason string) (entities.StoryFact, error) {
	var fact entities.StoryFact
	err := s.Apply(ctx, func(fs *FactSet) error {
		var err error
		fact, err = fs.Supersede(subject, attribute, value, source, change, reason)
		return err
	})
	return fact, err
}

// RegisterAlias registers an alias and commits the resulting merge.
func (s *FactStore) RegisterAlias(ctx context.Context, alias, canonical string) error {
	return s.Apply(ctx, func(fs *FactSet) error {
		return fs.RegisterAlias(alias, canonical)
	})
}

// Compact compacts the store and commits the result.
func (s *FactStore) Compact(ctx context.Context) (CompactionReport, error) {
	var report CompactionReport
	err := s.Apply(ctx, func(fs *FactSet) error {
		report = fs.Compact()
		return nil
	})
	return report, err
}

// Apply runs fn against a staged copy and commits the copy when fn
// succeeds. It waits for the commit lock, so it queues behind a running
// batch scan until ctx is done.
func (s *FactStore) Apply(ctx context.Context, fn func(*FactSet) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	staged := s.Snapshot()
	if err := fn(staged); err != nil {
		return err
	}
	return s.commitStaged(ctx, staged)
}

// BeginBatch takes the commit lock and returns a transaction over a staged
// copy of the store. The caller must Commit or Rollback.
func (s *FactStore) BeginBatch(ctx context.Context) (*BatchTxn, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	return &BatchTxn{store: s, staged: s.Snapshot()}, nil
}

func (s *FactStore) lock(ctx context.Context) error {
	select {
	case s.commit <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for commit lock: %w", ctx.Err())
	}
}

func (s *FactStore) unlock() {
	<-s.commit
}

// commitStaged persists the staged changes, then swaps the staged set in.
// Callers hold the commit lock.
func (s *FactStore) commitStaged(ctx context.Context, staged *FactSet) error {
	changes := staged.TakeChanges()
	if changes.IsEmpty() {
		return nil
	}
	if s.repo != nil {
		if err := s.repo.ApplyChanges(ctx, s.bookID, changes); err != nil {
			return fmt.Errorf("persisting fact store: %w", err)
		}
	}

	s.mu.Lock()
	s.set = staged
	s.mu.Unlock()

	s.logger.Debug("fact store committed",
		"facts", len(changes.UpsertFacts),
		"deleted_facts", len(changes.DeleteFactIDs),
		"events", len(changes.UpsertEvents),
		"aliases", len(changes.UpsertAliases))
	return nil
}

// BatchTxn is an exclusive transaction over a staged copy of a fact store.
type BatchTxn struct {
	store  *FactStore
	staged *FactSet
	done   bool
}

// Staged returns the staged set. Changes to it become visible only on Commit.
func (t *BatchTxn) Staged() *FactSet {
	return t.staged
}

// Commit persists and publishes the staged set and releases the lock.
// On error the store keeps its state from before the batch.
func (t *BatchTxn) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.unlock()
	return t.store.commitStaged(ctx, t.staged)
}

// Rollback discards the staged set and releases the lock. It is a no-op
// after Commit.
func (t *BatchTxn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.store.unlock()
}
