package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// UpsertOutcome is the result of proposing a candidate fact.
type UpsertOutcome int

const (
	// UpsertAccepted means the candidate was stored or matched the active value.
	UpsertAccepted UpsertOutcome = iota
	// UpsertConflict means the candidate disagrees with the active value.
	UpsertConflict
)

// UpsertResult describes what Upsert did with a candidate.
// On conflict Fact holds the untouched active fact.
type UpsertResult struct {
	Outcome UpsertOutcome
	Fact    entities.StoryFact
	Created bool
}

// CompactionReport summarizes one compaction pass.
type CompactionReport struct {
	SightingsRemoved int `json:"sightings_removed"`
	EstablishedMoved int `json:"established_moved"`
	EventsMerged     int `json:"events_merged"`
	EventsRenamed    int `json:"events_renamed"`
}

// FactSet is the in-memory state of one book's fact store: active facts,
// timeline events and the alias registry. A FactSet is not safe for
// concurrent use; FactStore guards it and hands out clones.
type FactSet struct {
	bookID  string
	facts   map[entities.FactKey]*entities.StoryFact
	aliases map[string]entities.Alias // keyed by normalized alias
	events  []entities.TimelineEvent

	version   uint64
	fpVersion uint64
	fp        string

	changes factChanges
	now     func() time.Time
}

// factChanges accumulates rows touched since the last TakeChanges,
// deduplicated by ID so that the latest write wins.
type factChanges struct {
	facts         map[string]entities.StoryFact
	deletedFacts  map[string]struct{}
	events        map[string]entities.TimelineEvent
	deletedEvents map[string]struct{}
	aliases       map[string]entities.Alias
	audit         []entities.AuditEntry
}

func newFactChanges() factChanges {
	return factChanges{
		facts:         make(map[string]entities.StoryFact),
		deletedFacts:  make(map[string]struct{}),
		events:        make(map[string]entities.TimelineEvent),
		deletedEvents: make(map[string]struct{}),
		aliases:       make(map[string]entities.Alias),
	}
}

// NewFactSet creates an empty fact set for a book.
func NewFactSet(bookID string) *FactSet {
	return &FactSet{
		bookID:  bookID,
		facts:   make(map[entities.FactKey]*entities.StoryFact),
		aliases: make(map[string]entities.Alias),
		changes: newFactChanges(),
		now:     time.Now,
	}
}

// LoadFactSet rebuilds a fact set from persisted rows. It fails with
// ErrStoreCorrupted when two facts resolve to the same key.
func LoadFactSet(bookID string, facts []entities.StoryFact, events []entities.TimelineEvent, aliases []entities.Alias) (*FactSet, error) {
	fs := NewFactSet(bookID)
	for _, a := range aliases {
		fs.aliases[entities.NormalizeName(a.Alias)] = a
	}
	for i := range facts {
		f := facts[i].Clone()
		key := fs.KeyOf(f.Subject, f.Attribute)
		if existing, ok := fs.facts[key]; ok {
			return nil, fmt.Errorf("facts %s and %s share key %s: %w", existing.ID, f.ID, key, entities.ErrStoreCorrupted)
		}
		fs.facts[key] = &f
	}
	for i := range events {
		fs.events = append(fs.events, events[i].Clone())
	}
	return fs, nil
}

// BookID returns the book the set belongs to.
func (fs *FactSet) BookID() string {
	return fs.bookID
}

// Version increases whenever an active value, an importance or the alias
// registry changes.
func (fs *FactSet) Version() uint64 {
	return fs.version
}

// Clone returns a deep copy with no pending changes.
func (fs *FactSet) Clone() *FactSet {
	c := &FactSet{
		bookID:    fs.bookID,
		facts:     make(map[entities.FactKey]*entities.StoryFact, len(fs.facts)),
		aliases:   make(map[string]entities.Alias, len(fs.aliases)),
		events:    make([]entities.TimelineEvent, len(fs.events)),
		version:   fs.version,
		fpVersion: fs.fpVersion,
		fp:        fs.fp,
		changes:   newFactChanges(),
		now:       fs.now,
	}
	for k, f := range fs.facts {
		cp := f.Clone()
		c.facts[k] = &cp
	}
	for k, a := range fs.aliases {
		c.aliases[k] = a
	}
	for i := range fs.events {
		c.events[i] = fs.events[i].Clone()
	}
	return c
}

// Resolve maps a name to its canonical normalized form by following the
// alias registry. Unregistered names resolve to themselves.
func (fs *FactSet) Resolve(name string) string {
	n := entities.NormalizeName(name)
	for range len(fs.aliases) {
		a, ok := fs.aliases[n]
		if !ok {
			break
		}
		next := entities.NormalizeName(a.Canonical)
		if next == n {
			break
		}
		n = next
	}
	return n
}

// KeyOf returns the resolved key for a subject and attribute.
func (fs *FactSet) KeyOf(subject, attribute string) entities.FactKey {
	return entities.FactKey{
		Subject:   fs.Resolve(subject),
		Attribute: entities.NormalizeAttribute(attribute),
	}
}

// displayName returns the name facts about a resolved subject are stored under.
func (fs *FactSet) displayName(name string) string {
	resolved := fs.Resolve(name)
	var first *entities.StoryFact
	for k, f := range fs.facts {
		if k.Subject == resolved && (first == nil || f.Attribute < first.Attribute) {
			first = f
		}
	}
	if first != nil {
		return first.Subject
	}
	if entities.NormalizeName(name) != resolved {
		for _, a := range fs.Aliases() {
			if entities.NormalizeName(a.Canonical) == resolved {
				return strings.TrimSpace(a.Canonical)
			}
		}
	}
	return strings.TrimSpace(name)
}

// Upsert proposes a candidate fact.
//
// A new key is stored. A candidate whose normalized value matches the active
// value adds a sighting and may raise the importance. A candidate with a
// different value is a conflict and leaves the set untouched.
func (fs *FactSet) Upsert(c entities.CandidateFact) UpsertResult {
	key := fs.KeyOf(c.Subject, c.Attribute)
	importance := c.Importance
	if !importance.IsValid() {
		importance = entities.ImportanceMinor
	}

	existing, ok := fs.facts[key]
	if !ok {
		now := fs.now()
		f := &entities.StoryFact{
			ID:            uuid.New().String(),
			BookID:        fs.bookID,
			Subject:       fs.displayName(c.Subject),
			Attribute:     key.Attribute,
			Value:         strings.TrimSpace(c.Value),
			Category:      c.Category,
			Importance:    importance,
			EstablishedIn: c.Source,
			Sightings:     []entities.SourceRef{c.Source},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		fs.facts[key] = f
		fs.touchFact(f)
		fs.version++
		return UpsertResult{Outcome: UpsertAccepted, Fact: f.Clone(), Created: true}
	}

	if entities.NormalizeValue(existing.Value) != entities.NormalizeValue(c.Value) {
		return UpsertResult{Outcome: UpsertConflict, Fact: existing.Clone()}
	}

	changed := false
	if !hasSighting(existing.Sightings, c.Source) {
		existing.Sightings = append(existing.Sightings, c.Source)
		changed = true
	}
	if importance.Rank() > existing.Importance.Rank() {
		existing.Importance = importance
		fs.version++
		changed = true
	}
	if changed {
		existing.UpdatedAt = fs.now()
		fs.touchFact(existing)
	}
	return UpsertResult{Outcome: UpsertAccepted, Fact: existing.Clone()}
}

// Supersede replaces the active value of a fact. The previous value moves
// to the fact's history. It is the only way an active value changes.
func (fs *FactSet) Supersede(subject, attribute, value string, source entities.SourceRef, change entities.ChangeType, reason string) (entities.StoryFact, error) {
	key := fs.KeyOf(subject, attribute)
	f, ok := fs.facts[key]
	if !ok {
		return entities.StoryFact{}, fmt.Errorf("superseding %s: %w", key, entities.ErrFactNotFound)
	}

	now := fs.now()
	previous := f.Value
	f.History = append(f.History, entities.FactRevision{
		Value:         f.Value,
		EstablishedIn: f.EstablishedIn,
		ChangeType:    change,
		Reason:        reason,
		ReplacedAt:    now,
	})
	f.Value = strings.TrimSpace(value)
	if source.ChapterID != "" {
		f.EstablishedIn = source
		f.Sightings = []entities.SourceRef{source}
	}
	f.UpdatedAt = now
	fs.touchFact(f)
	fs.version++

	fs.changes.audit = append(fs.changes.audit, entities.AuditEntry{
		BookID:   fs.bookID,
		Action:   entities.AuditFactSuperseded,
		TargetID: f.ID,
		Details: map[string]any{
			"previous":    previous,
			"value":       f.Value,
			"change_type": string(change),
			"reason":      reason,
		},
		CreatedAt: now,
	})
	return f.Clone(), nil
}

// ActiveValue returns the active fact for a subject and attribute.
func (fs *FactSet) ActiveValue(subject, attribute string) (entities.StoryFact, bool) {
	f, ok := fs.facts[fs.KeyOf(subject, attribute)]
	if !ok {
		return entities.StoryFact{}, false
	}
	return f.Clone(), true
}

// FactByID returns the active fact with the given ID.
func (fs *FactSet) FactByID(id string) (entities.StoryFact, bool) {
	for _, f := range fs.facts {
		if f.ID == id {
			return f.Clone(), true
		}
	}
	return entities.StoryFact{}, false
}

// List returns the active facts matching filter, ordered by subject then attribute.
func (fs *FactSet) List(filter entities.FactFilter) []entities.StoryFact {
	subject := ""
	if filter.Subject != "" {
		subject = fs.Resolve(filter.Subject)
	}

	keys := make([]entities.FactKey, 0, len(fs.facts))
	for k, f := range fs.facts {
		if subject != "" && k.Subject != subject {
			continue
		}
		if !filter.Category.Matches(f.Category) {
			continue
		}
		keys = append(keys, k)
	}
	sortKeys(keys)

	out := make([]entities.StoryFact, len(keys))
	for i, k := range keys {
		out[i] = fs.facts[k].Clone()
	}
	return out
}

// FactsByCategory returns the active facts of one category.
func (fs *FactSet) FactsByCategory(category entities.Category) []entities.StoryFact {
	return fs.List(entities.FactFilter{Category: entities.Only(category)})
}

// Len returns the number of active facts.
func (fs *FactSet) Len() int {
	return len(fs.facts)
}

// AddEvent stores a timeline event unless an event with the same chapter
// and description already exists. It reports whether the event was added.
func (fs *FactSet) AddEvent(e entities.TimelineEvent) bool {
	desc := entities.NormalizeValue(e.Description)
	for i := range fs.events {
		if fs.events[i].ChapterID == e.ChapterID && entities.NormalizeValue(fs.events[i].Description) == desc {
			return false
		}
	}
	e = e.Clone()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.BookID = fs.bookID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = fs.now()
	}
	if !e.Importance.IsValid() {
		e.Importance = entities.ImportanceMinor
	}
	fs.events = append(fs.events, e)
	fs.changes.events[e.ID] = e.Clone()
	return true
}

// Events returns every timeline event in story order.
func (fs *FactSet) Events() []entities.TimelineEvent {
	out := make([]entities.TimelineEvent, len(fs.events))
	for i := range fs.events {
		out[i] = fs.events[i].Clone()
	}
	entities.SortEvents(out)
	return out
}

// EventCount returns the number of timeline events.
func (fs *FactSet) EventCount() int {
	return len(fs.events)
}

// Aliases returns the alias registry ordered by alias.
func (fs *FactSet) Aliases() []entities.Alias {
	out := make([]entities.Alias, 0, len(fs.aliases))
	for _, a := range fs.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return entities.NormalizeName(out[i].Alias) < entities.NormalizeName(out[j].Alias)
	})
	return out
}

// AliasesOf returns every name that resolves to the same entity as name,
// including the canonical name itself.
func (fs *FactSet) AliasesOf(name string) []string {
	resolved := fs.Resolve(name)
	names := []string{resolved}
	for n := range fs.aliases {
		if n != resolved && fs.Resolve(n) == resolved {
			names = append(names, n)
		}
	}
	sort.Strings(names[1:])
	return names
}

// RegisterAlias declares alias as another name for canonical. Facts stored
// under the alias are merged into the canonical entity. When a merge would
// join two different values for one attribute nothing changes and
// ErrAliasConflict is returned.
func (fs *FactSet) RegisterAlias(alias, canonical string) error {
	na := entities.NormalizeName(alias)
	if na == "" || entities.NormalizeName(canonical) == "" {
		return fmt.Errorf("alias and canonical name are required: %w", entities.ErrInvalidRequest)
	}
	nc := fs.Resolve(canonical)
	if nc == na {
		return fmt.Errorf("%q already resolves to %q: %w", canonical, alias, entities.ErrAliasConflict)
	}
	if existing, ok := fs.aliases[na]; ok {
		if fs.Resolve(existing.Canonical) == nc {
			return nil
		}
		return fmt.Errorf("%q is already an alias of %q: %w", alias, existing.Canonical, entities.ErrAliasConflict)
	}

	var moving []entities.FactKey
	for k, f := range fs.facts {
		if k.Subject != na {
			continue
		}
		target := entities.FactKey{Subject: nc, Attribute: k.Attribute}
		if t, ok := fs.facts[target]; ok && entities.NormalizeValue(t.Value) != entities.NormalizeValue(f.Value) {
			return fmt.Errorf("%s is %q for %s but %q for %s: %w",
				k.Attribute, f.Value, alias, t.Value, canonical, entities.ErrAliasConflict)
		}
		moving = append(moving, k)
	}
	sortKeys(moving)

	display := fs.displayName(canonical)
	now := fs.now()
	a := entities.Alias{
		BookID:    fs.bookID,
		Alias:     strings.TrimSpace(alias),
		Canonical: display,
		CreatedAt: now,
	}
	fs.aliases[na] = a
	fs.changes.aliases[na] = a

	var merged []string
	for _, k := range moving {
		f := fs.facts[k]
		delete(fs.facts, k)
		target := entities.FactKey{Subject: nc, Attribute: k.Attribute}
		t, ok := fs.facts[target]
		if !ok {
			f.Subject = display
			f.UpdatedAt = now
			fs.facts[target] = f
			fs.touchFact(f)
			continue
		}
		for _, s := range f.Sightings {
			if !hasSighting(t.Sightings, s) {
				t.Sightings = append(t.Sightings, s)
			}
		}
		if f.EstablishedIn.Before(t.EstablishedIn) {
			t.EstablishedIn = f.EstablishedIn
		}
		if f.Importance.Rank() > t.Importance.Rank() {
			t.Importance = f.Importance
		}
		// The alias's row goes away; its value and history live on in the
		// canonical fact.
		t.History = append(t.History, f.History...)
		t.History = append(t.History, entities.FactRevision{
			Value:         f.Value,
			EstablishedIn: f.EstablishedIn,
			ChangeType:    entities.ChangeMerge,
			Reason:        fmt.Sprintf("merged from %s (fact %s)", f.Subject, f.ID),
			ReplacedAt:    now,
		})
		t.UpdatedAt = now
		fs.touchFact(t)
		fs.deleteFact(f.ID)
		merged = append(merged, f.ID)
	}
	fs.version++

	fs.changes.audit = append(fs.changes.audit, entities.AuditEntry{
		BookID:   fs.bookID,
		Action:   entities.AuditAliasRegistered,
		TargetID: na,
		Details: map[string]any{
			"alias":        a.Alias,
			"canonical":    display,
			"merged_facts": len(moving),
			"folded_ids":   merged,
		},
		CreatedAt: now,
	})
	return nil
}

// Compact removes duplicate sightings, moves each fact's establishedIn to
// its earliest sighting, merges duplicate events and re-resolves event
// character names through the alias registry.
func (fs *FactSet) Compact() CompactionReport {
	var report CompactionReport

	for _, f := range fs.facts {
		changed := false
		kept := f.Sightings[:0:0]
		for _, s := range f.Sightings {
			if hasSighting(kept, s) {
				report.SightingsRemoved++
				changed = true
				continue
			}
			kept = append(kept, s)
		}
		f.Sightings = kept

		if len(f.Sightings) > 0 {
			earliest := f.Sightings[0]
			for _, s := range f.Sightings[1:] {
				if s.Before(earliest) {
					earliest = s
				}
			}
			if earliest.ChapterID != f.EstablishedIn.ChapterID || earliest.Position != f.EstablishedIn.Position {
				f.EstablishedIn = earliest
				report.EstablishedMoved++
				changed = true
			}
		}
		if changed {
			fs.touchFact(f)
		}
	}

	kept := fs.events[:0:0]
	for i := range fs.events {
		e := fs.events[i]
		renamed := false
		for j, name := range e.Characters {
			if display := fs.displayName(name); display != name && fs.Resolve(name) != entities.NormalizeName(name) {
				e.Characters[j] = display
				renamed = true
			}
		}
		if renamed {
			report.EventsRenamed++
		}

		dup := -1
		desc := entities.NormalizeValue(e.Description)
		for k := range kept {
			if kept[k].ChapterID == e.ChapterID && entities.NormalizeValue(kept[k].Description) == desc {
				dup = k
				break
			}
		}
		if dup < 0 {
			kept = append(kept, e)
			if renamed {
				fs.changes.events[e.ID] = e.Clone()
			}
			continue
		}

		target := &kept[dup]
		target.Characters = mergeNames(target.Characters, e.Characters)
		target.Locations = mergeNames(target.Locations, e.Locations)
		if target.StoryTime.DayNumber == nil && e.StoryTime.DayNumber != nil {
			target.StoryTime = e.StoryTime
		}
		fs.changes.events[target.ID] = target.Clone()
		delete(fs.changes.events, e.ID)
		fs.changes.deletedEvents[e.ID] = struct{}{}
		report.EventsMerged++
	}
	fs.events = kept

	return report
}

// Verify checks that every fact sits under the key its subject and
// attribute resolve to, so no key has two active facts.
func (fs *FactSet) Verify() error {
	seen := make(map[entities.FactKey]string, len(fs.facts))
	for k, f := range fs.facts {
		resolved := fs.KeyOf(f.Subject, f.Attribute)
		if resolved != k {
			return fmt.Errorf("fact %s stored under %s resolves to %s: %w", f.ID, k, resolved, entities.ErrStoreCorrupted)
		}
		if other, ok := seen[resolved]; ok {
			return fmt.Errorf("facts %s and %s share key %s: %w", other, f.ID, resolved, entities.ErrStoreCorrupted)
		}
		seen[resolved] = f.ID
	}
	return nil
}

// Fingerprint hashes the active values, importances and aliases.
// Sightings and events do not affect it.
func (fs *FactSet) Fingerprint() string {
	if fs.fp != "" && fs.fpVersion == fs.version {
		return fs.fp
	}

	keys := make([]entities.FactKey, 0, len(fs.facts))
	for k := range fs.facts {
		keys = append(keys, k)
	}
	sortKeys(keys)

	h := sha256.New()
	for _, k := range keys {
		f := fs.facts[k]
		fmt.Fprintf(h, "f\x00%s\x00%s\x00%s\x00%s\n", k.Subject, k.Attribute, entities.NormalizeValue(f.Value), f.Importance)
	}
	for _, a := range fs.Aliases() {
		fmt.Fprintf(h, "a\x00%s\x00%s\n", entities.NormalizeName(a.Alias), entities.NormalizeName(a.Canonical))
	}

	fs.fp = hex.EncodeToString(h.Sum(nil))
	fs.fpVersion = fs.version
	return fs.fp
}

// TakeChanges returns the rows touched since the previous call and resets
// the change log.
func (fs *FactSet) TakeChanges() ports.FactChanges {
	c := fs.changes
	fs.changes = newFactChanges()

	var out ports.FactChanges
	for _, f := range c.facts {
		out.UpsertFacts = append(out.UpsertFacts, f)
	}
	for id := range c.deletedFacts {
		out.DeleteFactIDs = append(out.DeleteFactIDs, id)
	}
	for _, e := range c.events {
		out.UpsertEvents = append(out.UpsertEvents, e)
	}
	for id := range c.deletedEvents {
		out.DeleteEventIDs = append(out.DeleteEventIDs, id)
	}
	for _, a := range c.aliases {
		out.UpsertAliases = append(out.UpsertAliases, a)
	}
	out.Audit = c.audit

	sort.Slice(out.UpsertFacts, func(i, j int) bool { return out.UpsertFacts[i].ID < out.UpsertFacts[j].ID })
	sort.Strings(out.DeleteFactIDs)
	sort.Slice(out.UpsertEvents, func(i, j int) bool { return out.UpsertEvents[i].ID < out.UpsertEvents[j].ID })
	sort.Strings(out.DeleteEventIDs)
	sort.Slice(out.UpsertAliases, func(i, j int) bool { return out.UpsertAliases[i].Alias < out.UpsertAliases[j].Alias })
	return out
}

func (fs *FactSet) touchFact(f *entities.StoryFact) {
	fs.changes.facts[f.ID] = f.Clone()
	delete(fs.changes.deletedFacts, f.ID)
}

func (fs *FactSet) deleteFact(id string) {
	delete(fs.changes.facts, id)
	fs.changes.deletedFacts[id] = struct{}{}
}

func hasSighting(sightings []entities.SourceRef, s entities.SourceRef) bool {
	for _, existing := range sightings {
		if existing.ChapterID == s.ChapterID && existing.Excerpt == s.Excerpt {
			return true
		}
	}
	return false
}

func mergeNames(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, name := range b {
		found := false
		for _, existing := range out {
			if entities.NormalizeName(existing) == entities.NormalizeName(name) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, name)
		}
	}
	return out
}

func sortKeys(keys []entities.FactKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Subject != keys[j].Subject {
			return keys[i].Subject < keys[j].Subject
		}
		return keys[i].Attribute < keys[j].Attribute
	})
}
