package ports

import (
	"context"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// FactChanges is the set of rows touched by one fact store commit.
type FactChanges struct {
	UpsertFacts    []entities.StoryFact
	DeleteFactIDs  []string
	UpsertEvents   []entities.TimelineEvent
	DeleteEventIDs []string
	UpsertAliases  []entities.Alias
	Audit          []entities.AuditEntry
}

// IsEmpty reports whether the commit touched nothing.
func (c FactChanges) IsEmpty() bool {
	return len(c.UpsertFacts) == 0 && len(c.DeleteFactIDs) == 0 &&
		len(c.UpsertEvents) == 0 && len(c.DeleteEventIDs) == 0 &&
		len(c.UpsertAliases) == 0 && len(c.Audit) == 0
}

// BookRepository persists per-book engine state.
// All writes of one ApplyChanges call happen in a single transaction.
type BookRepository interface {
	// EnsureSchema creates the database schema if it doesn't exist.
	EnsureSchema(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// LoadFacts returns every active fact of a book.
	LoadFacts(ctx context.Context, bookID string) ([]entities.StoryFact, error)

	// LoadEvents returns every timeline event of a book.
	LoadEvents(ctx context.Context, bookID string) ([]entities.TimelineEvent, error)

	// LoadAliases returns the alias registry of a book.
	LoadAliases(ctx context.Context, bookID string) ([]entities.Alias, error)

	// ApplyChanges writes one fact store commit atomically.
	ApplyChanges(ctx context.Context, bookID string, changes FactChanges) error

	// LoadIssues returns every issue of a book, in any status.
	LoadIssues(ctx context.Context, bookID string) ([]entities.ConsistencyIssue, error)

	// SaveIssues inserts or updates issues.
	SaveIssues(ctx context.Context, issues []entities.ConsistencyIssue) error

	// LogAction appends an entry to the audit log.
	LogAction(ctx context.Context, entry entities.AuditEntry) error

	// FindAuditLog finds audit log entries for a target (fact or issue ID).
	FindAuditLog(ctx context.Context, bookID, targetID string) ([]entities.AuditEntry, error)

	// FindAuditLogByAction finds the most recent audit log entries of one action.
	FindAuditLogByAction(ctx context.Context, bookID, action string, limit int) ([]entities.AuditEntry, error)
}
