package entities

import (
	"sort"
	"time"
)

// StoryTime is when an event happens inside the story.
// Label is freeform ("the next morning", "3pm"); DayNumber is set only when
// the extractor could place the event on an orderable day.
type StoryTime struct {
	Label     string `json:"label,omitempty"`
	DayNumber *int   `json:"day_number,omitempty"`
}

// HasDay reports whether the time carries an orderable day number.
func (t StoryTime) HasDay() bool {
	return t.DayNumber != nil
}

// TimelineEvent is something that happens at a point of story time.
type TimelineEvent struct {
	ID           string     `json:"id"`
	BookID       string     `json:"book_id"`
	StoryTime    StoryTime  `json:"story_time"`
	Description  string     `json:"description"`
	Characters   []string   `json:"characters,omitempty"`
	Locations    []string   `json:"locations,omitempty"`
	ChapterID    string     `json:"chapter_id"`
	ChapterIndex int        `json:"chapter_index"`
	Position     int        `json:"position"`
	Importance   Importance `json:"importance"`
	Excerpt      string     `json:"excerpt,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Source returns the event location as a SourceRef.
func (e TimelineEvent) Source() SourceRef {
	return SourceRef{
		ChapterID:    e.ChapterID,
		ChapterIndex: e.ChapterIndex,
		Excerpt:      e.Excerpt,
		Position:     e.Position,
	}
}

// Clone returns a deep copy of the event.
func (e TimelineEvent) Clone() TimelineEvent {
	c := e
	c.Characters = append([]string(nil), e.Characters...)
	c.Locations = append([]string(nil), e.Locations...)
	if e.StoryTime.DayNumber != nil {
		day := *e.StoryTime.DayNumber
		c.StoryTime.DayNumber = &day
	}
	return c
}

// SortEvents orders events in place.
//
// Events are first laid out in chapter/position sequence. Events without a
// day number keep their slot in that sequence; events with a day number are
// reordered by day among the slots that dated events occupy. Dated and
// undated events are never compared with each other.
func SortEvents(events []TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.ChapterIndex != b.ChapterIndex {
			return a.ChapterIndex < b.ChapterIndex
		}
		return a.Position < b.Position
	})

	var slots []int
	var dated []TimelineEvent
	for i := range events {
		if events[i].StoryTime.HasDay() {
			slots = append(slots, i)
			dated = append(dated, events[i])
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		return *dated[i].StoryTime.DayNumber < *dated[j].StoryTime.DayNumber
	})

	for n, slot := range slots {
		events[slot] = dated[n]
	}
}
