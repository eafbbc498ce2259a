// Package sqlite provides a SQLite implementation of the BookRepository interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/infrastructure/config"
)

// timeNow returns the current time (can be mocked in tests).
var timeNow = time.Now

// Repository implements ports.BookRepository using SQLite.
type Repository struct {
	db   *sql.DB
	path string
}

var _ ports.BookRepository = (*Repository)(nil)

// NewRepository creates a new SQLite repository.
func NewRepository(cfg config.SQLiteConfig) (*Repository, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// An in-memory database exists per connection.
	if cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign keys for referential integrity
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to avoid "database is locked" errors
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &Repository{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Repository) Path() string {
	return r.path
}

// EnsureSchema creates the database schema if it doesn't exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			normalized_subject TEXT NOT NULL,
			attribute TEXT NOT NULL,
			value TEXT NOT NULL,
			category TEXT NOT NULL,
			importance TEXT NOT NULL,
			established_in TEXT NOT NULL,
			sightings TEXT,
			history TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_facts_book ON facts(book_id);
		CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(book_id, normalized_subject, attribute);

		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL,
			story_label TEXT,
			day_number INTEGER,
			description TEXT NOT NULL,
			characters TEXT,
			locations TEXT,
			chapter_id TEXT NOT NULL,
			chapter_index INTEGER NOT NULL,
			position INTEGER NOT NULL,
			importance TEXT NOT NULL,
			excerpt TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_book ON events(book_id, chapter_index, position);

		CREATE TABLE IF NOT EXISTS aliases (
			book_id TEXT NOT NULL,
			normalized_alias TEXT NOT NULL,
			alias TEXT NOT NULL,
			canonical TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (book_id, normalized_alias)
		);

		CREATE TABLE IF NOT EXISTS issues (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL,
			dedup_key TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_issues_book ON issues(book_id, status);
		CREATE INDEX IF NOT EXISTS idx_issues_dedup ON issues(book_id, dedup_key);

		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			book_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target_id TEXT,
			details TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(book_id, target_id);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(book_id, action);
	`

	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LoadFacts returns every active fact of a book.
func (r *Repository) LoadFacts(ctx context.Context, bookID string) ([]entities.StoryFact, error) {
	query := `
		SELECT id, book_id, subject, attribute, value, category, importance,
			established_in, sightings, history, created_at, updated_at
		FROM facts
		WHERE book_id = ?
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	var facts []entities.StoryFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func scanFact(rows *sql.Rows) (entities.StoryFact, error) {
	var (
		f                    entities.StoryFact
		category, importance string
		established          string
		sightings, history   sql.NullString
	)
	if err := rows.Scan(
		&f.ID,
		&f.BookID,
		&f.Subject,
		&f.Attribute,
		&f.Value,
		&category,
		&importance,
		&established,
		&sightings,
		&history,
		&f.CreatedAt,
		&f.UpdatedAt,
	); err != nil {
		return f, fmt.Errorf("scanning fact: %w", err)
	}
	f.Category = entities.Category(category)
	f.Importance = entities.Importance(importance)

	if err := json.Unmarshal([]byte(established), &f.EstablishedIn); err != nil {
		return f, fmt.Errorf("unmarshaling fact %s source: %w", f.ID, err)
	}
	if err := unmarshalNullable(sightings, &f.Sightings); err != nil {
		return f, fmt.Errorf("unmarshaling fact %s sightings: %w", f.ID, err)
	}
	if err := unmarshalNullable(history, &f.History); err != nil {
		return f, fmt.Errorf("unmarshaling fact %s history: %w", f.ID, err)
	}
	return f, nil
}

// LoadEvents returns every timeline event of a book.
func (r *Repository) LoadEvents(ctx context.Context, bookID string) ([]entities.TimelineEvent, error) {
	query := `
		SELECT id, book_id, story_label, day_number, description, characters, locations,
			chapter_id, chapter_index, position, importance, excerpt, created_at
		FROM events
		WHERE book_id = ?
		ORDER BY chapter_index ASC, position ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []entities.TimelineEvent
	for rows.Next() {
		var (
			e                     entities.TimelineEvent
			label, excerpt        sql.NullString
			day                   sql.NullInt64
			characters, locations sql.NullString
			importance            string
		)
		if err := rows.Scan(
			&e.ID,
			&e.BookID,
			&label,
			&day,
			&e.Description,
			&characters,
			&locations,
			&e.ChapterID,
			&e.ChapterIndex,
			&e.Position,
			&importance,
			&excerpt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.StoryTime.Label = label.String
		if day.Valid {
			d := int(day.Int64)
			e.StoryTime.DayNumber = &d
		}
		e.Importance = entities.Importance(importance)
		e.Excerpt = excerpt.String
		if err := unmarshalNullable(characters, &e.Characters); err != nil {
			return nil, fmt.Errorf("unmarshaling event %s characters: %w", e.ID, err)
		}
		if err := unmarshalNullable(locations, &e.Locations); err != nil {
			return nil, fmt.Errorf("unmarshaling event %s locations: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadAliases returns the alias registry of a book.
func (r *Repository) LoadAliases(ctx context.Context, bookID string) ([]entities.Alias, error) {
	query := `
		SELECT book_id, alias, canonical, created_at
		FROM aliases
		WHERE book_id = ?
		ORDER BY normalized_alias ASC
	`
	rows, err := r.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("querying aliases: %w", err)
	}
	defer rows.Close()

	var aliases []entities.Alias
	for rows.Next() {
		var a entities.Alias
		if err := rows.Scan(&a.BookID, &a.Alias, &a.Canonical, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// ApplyChanges writes one fact store commit in a single transaction.
func (r *Repository) ApplyChanges(ctx context.Context, bookID string, changes ports.FactChanges) error {
	if changes.IsEmpty() {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range changes.UpsertFacts {
		if err := saveFact(ctx, tx, bookID, &changes.UpsertFacts[i]); err != nil {
			return err
		}
	}
	if err := deleteByID(ctx, tx, "facts", bookID, changes.DeleteFactIDs); err != nil {
		return err
	}
	for i := range changes.UpsertEvents {
		if err := saveEvent(ctx, tx, bookID, &changes.UpsertEvents[i]); err != nil {
			return err
		}
	}
	if err := deleteByID(ctx, tx, "events", bookID, changes.DeleteEventIDs); err != nil {
		return err
	}
	for _, a := range changes.UpsertAliases {
		if err := saveAlias(ctx, tx, bookID, a); err != nil {
			return err
		}
	}
	for _, entry := range changes.Audit {
		entry.BookID = bookID
		if err := logAction(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing changes: %w", err)
	}
	return nil
}

func saveFact(ctx context.Context, db execer, bookID string, f *entities.StoryFact) error {
	established, err := json.Marshal(f.EstablishedIn)
	if err != nil {
		return fmt.Errorf("marshaling fact source: %w", err)
	}
	sightings, err := marshalNullable(f.Sightings)
	if err != nil {
		return fmt.Errorf("marshaling fact sightings: %w", err)
	}
	history, err := marshalNullable(f.History)
	if err != nil {
		return fmt.Errorf("marshaling fact history: %w", err)
	}

	query := `
		INSERT INTO facts (id, book_id, subject, normalized_subject, attribute, value, category,
			importance, established_in, sightings, history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			normalized_subject = excluded.normalized_subject,
			attribute = excluded.attribute,
			value = excluded.value,
			category = excluded.category,
			importance = excluded.importance,
			established_in = excluded.established_in,
			sightings = excluded.sightings,
			history = excluded.history,
			updated_at = excluded.updated_at
	`
	_, err = db.ExecContext(ctx, query,
		f.ID,
		bookID,
		f.Subject,
		entities.NormalizeName(f.Subject),
		f.Attribute,
		f.Value,
		string(f.Category),
		string(f.Importance),
		string(established),
		sightings,
		history,
		orNow(f.CreatedAt),
		orNow(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving fact %s: %w", f.ID, err)
	}
	return nil
}

func saveEvent(ctx context.Context, db execer, bookID string, e *entities.TimelineEvent) error {
	characters, err := marshalNullable(e.Characters)
	if err != nil {
		return fmt.Errorf("marshaling event characters: %w", err)
	}
	locations, err := marshalNullable(e.Locations)
	if err != nil {
		return fmt.Errorf("marshaling event locations: %w", err)
	}
	var day sql.NullInt64
	if e.StoryTime.DayNumber != nil {
		day = sql.NullInt64{Int64: int64(*e.StoryTime.DayNumber), Valid: true}
	}

	query := `
		INSERT INTO events (id, book_id, story_label, day_number, description, characters, locations,
			chapter_id, chapter_index, position, importance, excerpt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			story_label = excluded.story_label,
			day_number = excluded.day_number,
			description = excluded.description,
			characters = excluded.characters,
			locations = excluded.locations,
			chapter_id = excluded.chapter_id,
			chapter_index = excluded.chapter_index,
			position = excluded.position,
			importance = excluded.importance,
			excerpt = excluded.excerpt
	`
	_, err = db.ExecContext(ctx, query,
		e.ID,
		bookID,
		nullString(e.StoryTime.Label),
		day,
		e.Description,
		characters,
		locations,
		e.ChapterID,
		e.ChapterIndex,
		e.Position,
		string(e.Importance),
		nullString(e.Excerpt),
		orNow(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving event %s: %w", e.ID, err)
	}
	return nil
}

func saveAlias(ctx context.Context, db execer, bookID string, a entities.Alias) error {
	query := `
		INSERT INTO aliases (book_id, normalized_alias, alias, canonical, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(book_id, normalized_alias) DO UPDATE SET
			alias = excluded.alias,
			canonical = excluded.canonical
	`
	_, err := db.ExecContext(ctx, query,
		bookID,
		entities.NormalizeName(a.Alias),
		a.Alias,
		a.Canonical,
		orNow(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving alias %q: %w", a.Alias, err)
	}
	return nil
}

func deleteByID(ctx context.Context, db execer, table, bookID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	// Build placeholders for IN clause
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, bookID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE book_id = ? AND id IN (%s)`, table, strings.Join(placeholders, ","))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

// LoadIssues returns every issue of a book, in any status.
func (r *Repository) LoadIssues(ctx context.Context, bookID string) ([]entities.ConsistencyIssue, error) {
	query := `SELECT id, data FROM issues WHERE book_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	var issues []entities.ConsistencyIssue
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning issue: %w", err)
		}
		var issue entities.ConsistencyIssue
		if err := json.Unmarshal([]byte(data), &issue); err != nil {
			return nil, fmt.Errorf("unmarshaling issue %s: %w", id, err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// SaveIssues inserts or updates issues in a single transaction.
func (r *Repository) SaveIssues(ctx context.Context, issues []entities.ConsistencyIssue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO issues (id, book_id, dedup_key, type, severity, status, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	for i := range issues {
		issue := &issues[i]
		data, err := json.Marshal(issue)
		if err != nil {
			return fmt.Errorf("marshaling issue %s: %w", issue.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query,
			issue.ID,
			issue.BookID,
			issue.DedupKey,
			string(issue.Type),
			string(issue.Severity),
			string(issue.Status),
			string(data),
			orNow(issue.UpdatedAt),
		); err != nil {
			return fmt.Errorf("saving issue %s: %w", issue.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing issues: %w", err)
	}
	return nil
}

// LogAction logs an action to the audit log.
func (r *Repository) LogAction(ctx context.Context, entry entities.AuditEntry) error {
	return logAction(ctx, r.db, entry)
}

func logAction(ctx context.Context, db execer, entry entities.AuditEntry) error {
	var detailsJSON sql.NullString
	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `INSERT INTO audit_log (book_id, action, target_id, details, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		entry.BookID,
		entry.Action,
		nullString(entry.TargetID),
		detailsJSON,
		orNow(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("logging action: %w", err)
	}
	return nil
}

// FindAuditLog finds audit log entries for a fact or issue, oldest first.
func (r *Repository) FindAuditLog(ctx context.Context, bookID, targetID string) ([]entities.AuditEntry, error) {
	query := `
		SELECT id, book_id, action, target_id, details, created_at
		FROM audit_log
		WHERE book_id = ? AND target_id = ?
		ORDER BY id ASC
	`
	return r.queryAuditLog(ctx, query, bookID, targetID)
}

// FindAuditLogByAction finds the most recent audit log entries of one action.
func (r *Repository) FindAuditLogByAction(ctx context.Context, bookID, action string, limit int) ([]entities.AuditEntry, error) {
	query := `
		SELECT id, book_id, action, target_id, details, created_at
		FROM audit_log
		WHERE book_id = ? AND action = ?
		ORDER BY id DESC
		LIMIT ?
	`
	return r.queryAuditLog(ctx, query, bookID, action, limit)
}

// queryAuditLog is a helper to execute audit log queries.
func (r *Repository) queryAuditLog(ctx context.Context, query string, args ...any) ([]entities.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []entities.AuditEntry
	for rows.Next() {
		var entry entities.AuditEntry
		var targetID, details sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.BookID,
			&entry.Action,
			&targetID,
			&details,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		entry.TargetID = targetID.String

		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling details: %w", err)
			}
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func marshalNullable[T any](v []T) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable[T any](s sql.NullString, v *[]T) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return timeNow().UTC()
	}
	return t.UTC()
}
