package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// BookRepository is an in-memory implementation of ports.BookRepository.
type BookRepository struct {
	// Err is returned from every call when set.
	Err error
	// ApplyErr is returned from ApplyChanges only.
	ApplyErr error
	// SaveIssuesErr is returned from SaveIssues only.
	SaveIssuesErr error

	mu      sync.Mutex
	facts   map[string]map[string]entities.StoryFact
	events  map[string]map[string]entities.TimelineEvent
	aliases map[string]map[string]entities.Alias
	issues  map[string]entities.ConsistencyIssue
	audit   []entities.AuditEntry

	ApplyCallCount int
}

// NewBookRepository creates an empty repository.
func NewBookRepository() *BookRepository {
	return &BookRepository{
		facts:   make(map[string]map[string]entities.StoryFact),
		events:  make(map[string]map[string]entities.TimelineEvent),
		aliases: make(map[string]map[string]entities.Alias),
		issues:  make(map[string]entities.ConsistencyIssue),
	}
}

// EnsureSchema returns the configured error.
func (m *BookRepository) EnsureSchema(_ context.Context) error {
	return m.Err
}

// Close does nothing.
func (m *BookRepository) Close() error {
	return nil
}

// SeedFacts stores facts directly, bypassing ApplyChanges.
func (m *BookRepository) SeedFacts(bookID string, facts ...entities.StoryFact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.facts[bookID] == nil {
		m.facts[bookID] = make(map[string]entities.StoryFact)
	}
	for _, f := range facts {
		m.facts[bookID][f.ID] = f.Clone()
	}
}

// LoadFacts returns the stored facts ordered by ID.
func (m *BookRepository) LoadFacts(_ context.Context, bookID string) ([]entities.StoryFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]entities.StoryFact, 0, len(m.facts[bookID]))
	for _, f := range m.facts[bookID] {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadEvents returns the stored events ordered by ID.
func (m *BookRepository) LoadEvents(_ context.Context, bookID string) ([]entities.TimelineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]entities.TimelineEvent, 0, len(m.events[bookID]))
	for _, e := range m.events[bookID] {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadAliases returns the stored aliases.
func (m *BookRepository) LoadAliases(_ context.Context, bookID string) ([]entities.Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]entities.Alias, 0, len(m.aliases[bookID]))
	for _, a := range m.aliases[bookID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

// ApplyChanges applies a commit.
func (m *BookRepository) ApplyChanges(_ context.Context, bookID string, changes ports.FactChanges) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyCallCount++
	if m.Err != nil {
		return m.Err
	}
	if m.ApplyErr != nil {
		return m.ApplyErr
	}

	if m.facts[bookID] == nil {
		m.facts[bookID] = make(map[string]entities.StoryFact)
	}
	if m.events[bookID] == nil {
		m.events[bookID] = make(map[string]entities.TimelineEvent)
	}
	if m.aliases[bookID] == nil {
		m.aliases[bookID] = make(map[string]entities.Alias)
	}
	for _, f := range changes.UpsertFacts {
		m.facts[bookID][f.ID] = f.Clone()
	}
	for _, id := range changes.DeleteFactIDs {
		delete(m.facts[bookID], id)
	}
	for _, e := range changes.UpsertEvents {
		m.events[bookID][e.ID] = e.Clone()
	}
	for _, id := range changes.DeleteEventIDs {
		delete(m.events[bookID], id)
	}
	for _, a := range changes.UpsertAliases {
		m.aliases[bookID][entities.NormalizeName(a.Alias)] = a
	}
	m.audit = append(m.audit, changes.Audit...)
	return nil
}

// LoadIssues returns the stored issues of a book ordered by ID.
func (m *BookRepository) LoadIssues(_ context.Context, bookID string) ([]entities.ConsistencyIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []entities.ConsistencyIssue
	for _, issue := range m.issues {
		if issue.BookID == bookID {
			out = append(out, issue.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveIssues stores issues by ID.
func (m *BookRepository) SaveIssues(_ context.Context, issues []entities.ConsistencyIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.SaveIssuesErr != nil {
		return m.SaveIssuesErr
	}
	for i := range issues {
		m.issues[issues[i].ID] = issues[i].Clone()
	}
	return nil
}

// LogAction appends an audit entry.
func (m *BookRepository) LogAction(_ context.Context, entry entities.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	entry.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, entry)
	return nil
}

// FindAuditLog returns the entries for one target.
func (m *BookRepository) FindAuditLog(_ context.Context, bookID, targetID string) ([]entities.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.AuditEntry
	for _, e := range m.audit {
		if e.BookID == bookID && e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, m.Err
}

// FindAuditLogByAction returns the latest entries of one action, newest first.
func (m *BookRepository) FindAuditLogByAction(_ context.Context, bookID, action string, limit int) ([]entities.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.AuditEntry
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audit[i].BookID == bookID && m.audit[i].Action == action {
			out = append(out, m.audit[i])
		}
	}
	return out, m.Err
}
