package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
)

func candidate(subject, attribute, value, chapterID string, index int, excerpt string) entities.CandidateFact {
	return entities.CandidateFact{
		Subject:    subject,
		Attribute:  attribute,
		Value:      value,
		Category:   entities.CategoryCharacterTrait,
		Importance: entities.ImportanceSignificant,
		Source: entities.SourceRef{
			ChapterID:    chapterID,
			ChapterIndex: index,
			Excerpt:      excerpt,
		},
	}
}

func TestFactSet_UpsertCreatesFact(t *testing.T) {
	fs := NewFactSet("book")

	res := fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "his blue eyes"))

	assert.Equal(t, UpsertAccepted, res.Outcome)
	assert.True(t, res.Created)
	assert.Equal(t, "eye_color", res.Fact.Attribute)
	assert.Equal(t, "ch1", res.Fact.EstablishedIn.ChapterID)
	assert.Equal(t, uint64(1), fs.Version())
}

func TestFactSet_UpsertSameValueAddsSighting(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "his blue eyes"))
	version := fs.Version()

	res := fs.Upsert(candidate("marcus", "Eye-Color", "Blue.", "ch2", 2, "blue eyes again"))

	assert.Equal(t, UpsertAccepted, res.Outcome)
	assert.False(t, res.Created)
	assert.Len(t, res.Fact.Sightings, 2)
	assert.Equal(t, version, fs.Version(), "a sighting does not change the active value")
}

func TestFactSet_UpsertEscalatesImportance(t *testing.T) {
	fs := NewFactSet("book")
	c := candidate("Marcus", "eye color", "blue", "ch1", 1, "his blue eyes")
	c.Importance = entities.ImportanceMinor
	fs.Upsert(c)

	c.Importance = entities.ImportanceCritical
	c.Source.ChapterID = "ch2"
	res := fs.Upsert(c)

	assert.Equal(t, entities.ImportanceCritical, res.Fact.Importance)
}

func TestFactSet_NoSilentOverwrite(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "his blue eyes"))
	before := fs.Fingerprint()

	res := fs.Upsert(candidate("Marcus", "eye color", "green", "ch5", 5, "green eyes"))

	assert.Equal(t, UpsertConflict, res.Outcome)
	assert.Equal(t, "blue", res.Fact.Value)
	active, ok := fs.ActiveValue("Marcus", "eye_color")
	require.True(t, ok)
	assert.Equal(t, "blue", active.Value)
	assert.Equal(t, before, fs.Fingerprint())
}

func TestFactSet_SupersedeKeepsHistory(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "his blue eyes"))

	src := entities.SourceRef{ChapterID: "ch5", ChapterIndex: 5, Excerpt: "green eyes"}
	f, err := fs.Supersede("Marcus", "eye color", "green", src, entities.ChangeRetcon, "intentional")
	require.NoError(t, err)

	assert.Equal(t, "green", f.Value)
	require.Len(t, f.History, 1)
	assert.Equal(t, "blue", f.History[0].Value)
	assert.Equal(t, entities.ChangeRetcon, f.History[0].ChangeType)
	assert.Equal(t, "ch1", f.History[0].EstablishedIn.ChapterID)
	assert.Equal(t, "ch5", f.EstablishedIn.ChapterID)

	changes := fs.TakeChanges()
	require.Len(t, changes.Audit, 1)
	assert.Equal(t, entities.AuditFactSuperseded, changes.Audit[0].Action)
}

func TestFactSet_SupersedeMissing(t *testing.T) {
	_, err := NewFactSet("book").Supersede("Nobody", "age", "3", entities.SourceRef{}, entities.ChangeCorrection, "")
	assert.True(t, errors.Is(err, entities.ErrFactNotFound))
}

func TestFactSet_RegisterAliasMergesFacts(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus Webb", "eye color", "blue", "ch1", 1, "Webb's blue eyes"))
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch2", 2, "Marcus had blue eyes"))
	fs.Upsert(candidate("Marcus", "height", "tall", "ch2", 2, "Marcus was tall"))
	require.Equal(t, 3, fs.Len())

	require.NoError(t, fs.RegisterAlias("Marcus", "Marcus Webb"))

	assert.Equal(t, 2, fs.Len())
	eye, ok := fs.ActiveValue("Marcus", "eye color")
	require.True(t, ok)
	assert.Equal(t, "Marcus Webb", eye.Subject)
	assert.Len(t, eye.Sightings, 2)
	height, ok := fs.ActiveValue("Marcus Webb", "height")
	require.True(t, ok)
	assert.Equal(t, "tall", height.Value)
	require.NoError(t, fs.Verify())

	changes := fs.TakeChanges()
	assert.Len(t, changes.DeleteFactIDs, 1)
	assert.Len(t, changes.UpsertAliases, 1)
}

func TestFactSet_RegisterAliasKeepsFoldedFactAsRevision(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus Webb", "eye color", "blue", "ch1", 1, "Webb's blue eyes"))
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch2", 2, "Marcus had blue eyes"))
	folded, ok := fs.ActiveValue("Marcus", "eye color")
	require.True(t, ok)

	require.NoError(t, fs.RegisterAlias("Marcus", "Marcus Webb"))

	eye, ok := fs.ActiveValue("Marcus Webb", "eye color")
	require.True(t, ok)
	require.Len(t, eye.History, 1)
	rev := eye.History[0]
	assert.Equal(t, entities.ChangeMerge, rev.ChangeType)
	assert.Equal(t, "blue", rev.Value)
	assert.Equal(t, "ch2", rev.EstablishedIn.ChapterID)
	assert.Contains(t, rev.Reason, folded.ID)

	changes := fs.TakeChanges()
	assert.Equal(t, []string{folded.ID}, changes.DeleteFactIDs)
	require.Len(t, changes.Audit, 1)
	assert.Equal(t, []string{folded.ID}, changes.Audit[0].Details["folded_ids"])
}

func TestFactSet_RegisterAliasConflict(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus Webb", "eye color", "blue", "ch1", 1, "blue"))
	fs.Upsert(candidate("Marcus", "eye color", "green", "ch2", 2, "green"))
	before := fs.Fingerprint()

	err := fs.RegisterAlias("Marcus", "Marcus Webb")

	assert.True(t, errors.Is(err, entities.ErrAliasConflict))
	assert.Equal(t, 2, fs.Len())
	assert.Equal(t, before, fs.Fingerprint())
}

func TestFactSet_RegisterAliasRejectsCycles(t *testing.T) {
	fs := NewFactSet("book")
	require.NoError(t, fs.RegisterAlias("Webb", "Marcus Webb"))

	err := fs.RegisterAlias("Marcus Webb", "Webb")
	assert.True(t, errors.Is(err, entities.ErrAliasConflict))

	require.NoError(t, fs.RegisterAlias("Webb", "marcus webb"), "re-registering the same alias is a no-op")
	assert.Equal(t, "marcus webb", fs.Resolve("Webb's"))
}

func TestFactSet_UnregisteredNamesAreNewEntities(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus Webb", "eye color", "blue", "ch1", 1, "blue"))

	res := fs.Upsert(candidate("Marcus", "eye color", "green", "ch2", 2, "green"))

	assert.Equal(t, UpsertAccepted, res.Outcome)
	assert.True(t, res.Created)
}

func TestFactSet_ListFilters(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))
	loc := candidate("Harbor", "weather", "foggy", "ch1", 1, "fog")
	loc.Category = entities.CategoryLocation
	fs.Upsert(loc)

	assert.Len(t, fs.List(entities.FactFilter{}), 2)
	assert.Len(t, fs.FactsByCategory(entities.CategoryLocation), 1)
	assert.Len(t, fs.List(entities.FactFilter{Subject: "MARCUS"}), 1)
	assert.Empty(t, fs.List(entities.FactFilter{Category: entities.Only(entities.CategoryPlotThread)}))
}

func TestFactSet_CloneIsIndependent(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))

	c := fs.Clone()
	_, err := c.Supersede("Marcus", "eye color", "green", entities.SourceRef{}, entities.ChangeCorrection, "")
	require.NoError(t, err)

	active, _ := fs.ActiveValue("Marcus", "eye color")
	assert.Equal(t, "blue", active.Value)
	assert.NotEqual(t, fs.Fingerprint(), c.Fingerprint())
}

func TestFactSet_AddEventDedupes(t *testing.T) {
	fs := NewFactSet("book")
	e := entities.TimelineEvent{Description: "The storm breaks", ChapterID: "ch1"}

	assert.True(t, fs.AddEvent(e))
	e.Description = "the storm breaks."
	assert.False(t, fs.AddEvent(e))
	e.ChapterID = "ch2"
	assert.True(t, fs.AddEvent(e))
	assert.Equal(t, 2, fs.EventCount())
}

func TestFactSet_Compact(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch3", 3, "blue eyes"))
	key := fs.KeyOf("Marcus", "eye color")
	f := fs.facts[key]
	f.Sightings = append(f.Sightings,
		entities.SourceRef{ChapterID: "ch1", ChapterIndex: 1, Excerpt: "early blue"},
		entities.SourceRef{ChapterID: "ch3", ChapterIndex: 3, Excerpt: "blue eyes"},
	)
	fs.events = append(fs.events,
		entities.TimelineEvent{ID: "e1", ChapterID: "ch1", Description: "Marcus arrives", Characters: []string{"Marcus"}},
		entities.TimelineEvent{ID: "e2", ChapterID: "ch1", Description: "marcus arrives", Characters: []string{"Ann"}},
	)
	fs.aliases["marcus"] = entities.Alias{Alias: "Marcus", Canonical: "Marcus Webb"}
	fs.facts = map[entities.FactKey]*entities.StoryFact{fs.KeyOf("Marcus", "eye color"): f}
	f.Subject = "Marcus Webb"

	report := fs.Compact()

	assert.Equal(t, 1, report.SightingsRemoved)
	assert.Equal(t, 1, report.EstablishedMoved)
	assert.Equal(t, 1, report.EventsMerged)
	assert.Equal(t, 1, report.EventsRenamed)

	compacted, ok := fs.ActiveValue("Marcus Webb", "eye color")
	require.True(t, ok)
	assert.Equal(t, "ch1", compacted.EstablishedIn.ChapterID)
	assert.Len(t, compacted.Sightings, 2)

	events := fs.Events()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"Marcus Webb", "Ann"}, events[0].Characters)

	changes := fs.TakeChanges()
	assert.Equal(t, []string{"e2"}, changes.DeleteEventIDs)
}

func TestFactSet_Verify(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))
	require.NoError(t, fs.Verify())

	// An alias added behind the set's back makes the stored key stale.
	fs.aliases["marcus"] = entities.Alias{Alias: "Marcus", Canonical: "Marcus Webb"}

	assert.True(t, errors.Is(fs.Verify(), entities.ErrStoreCorrupted))
}

func TestLoadFactSet_DuplicateKeyIsCorruption(t *testing.T) {
	facts := []entities.StoryFact{
		{ID: "a", Subject: "Marcus", Attribute: "eye_color", Value: "blue"},
		{ID: "b", Subject: "marcus", Attribute: "eye color", Value: "green"},
	}

	_, err := LoadFactSet("book", facts, nil, nil)

	assert.True(t, errors.Is(err, entities.ErrStoreCorrupted))
}

func TestFactSet_FingerprintIgnoresSightings(t *testing.T) {
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))
	fp := fs.Fingerprint()

	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch2", 2, "still blue"))
	assert.Equal(t, fp, fs.Fingerprint())

	require.NoError(t, fs.RegisterAlias("Webb", "Marcus"))
	assert.NotEqual(t, fp, fs.Fingerprint())
}
