// Package entities contains core domain data structures.
package entities

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Category classifies what a fact describes.
type Category string

// Fact categories understood by the engine.
const (
	CategoryCharacterTrait     Category = "character_trait"
	CategoryCharacterKnowledge Category = "character_knowledge"
	CategoryCharacterStatus    Category = "character_status"
	CategoryTimeline           Category = "timeline"
	CategoryLocation           Category = "location"
	CategoryObject             Category = "object"
	CategoryWorldRule          Category = "world_rule"
	CategoryRelationship       Category = "relationship"
	CategoryPlotThread         Category = "plot_thread"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryCharacterTrait,
	CategoryCharacterKnowledge,
	CategoryCharacterStatus,
	CategoryTimeline,
	CategoryLocation,
	CategoryObject,
	CategoryWorldRule,
	CategoryRelationship,
	CategoryPlotThread,
}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a raw string into a Category.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q", raw)
	}
	return c, nil
}

// Importance weighs how much a fact matters to the story.
type Importance string

const (
	ImportanceMinor       Importance = "minor"
	ImportanceSignificant Importance = "significant"
	ImportanceCritical    Importance = "critical"
)

// IsValid reports whether i is a known importance level.
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceMinor, ImportanceSignificant, ImportanceCritical:
		return true
	}
	return false
}

// Rank orders importance levels; higher is more important.
func (i Importance) Rank() int {
	switch i {
	case ImportanceCritical:
		return 3
	case ImportanceSignificant:
		return 2
	case ImportanceMinor:
		return 1
	}
	return 0
}

// Severity maps the importance of a contradicted fact to an issue severity.
func (i Importance) Severity() Severity {
	switch i {
	case ImportanceCritical:
		return SeverityCritical
	case ImportanceSignificant:
		return SeverityWarning
	default:
		return SeveritySuggestion
	}
}

// SourceRef locates a piece of text inside a chapter.
type SourceRef struct {
	ChapterID    string `json:"chapter_id"`
	ChapterTitle string `json:"chapter_title,omitempty"`
	ChapterIndex int    `json:"chapter_index"`
	Excerpt      string `json:"excerpt"`
	Position     int    `json:"position"` // byte offset of Excerpt in the chapter text, -1 if unknown
}

// Before reports whether r occurs earlier in the book than other.
func (r SourceRef) Before(other SourceRef) bool {
	if r.ChapterIndex != other.ChapterIndex {
		return r.ChapterIndex < other.ChapterIndex
	}
	return r.Position < other.Position
}

// FactRevision is a prior value of a fact, kept when the fact is superseded.
type FactRevision struct {
	Value         string     `json:"value"`
	EstablishedIn SourceRef  `json:"established_in"`
	ChangeType    ChangeType `json:"change_type"`
	Reason        string     `json:"reason,omitempty"`
	ReplacedAt    time.Time  `json:"replaced_at"`
}

// StoryFact is the active value of one attribute of one entity.
type StoryFact struct {
	ID            string         `json:"id"`
	BookID        string         `json:"book_id"`
	Subject       string         `json:"subject"`
	Attribute     string         `json:"attribute"`
	Value         string         `json:"value"`
	Category      Category       `json:"category"`
	Importance    Importance     `json:"importance"`
	EstablishedIn SourceRef      `json:"established_in"`
	Sightings     []SourceRef    `json:"sightings,omitempty"`
	History       []FactRevision `json:"history,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the fact.
func (f StoryFact) Clone() StoryFact {
	c := f
	c.Sightings = append([]SourceRef(nil), f.Sightings...)
	c.History = append([]FactRevision(nil), f.History...)
	return c
}

// CandidateFact is a fact proposed by the extractor, not yet stored.
type CandidateFact struct {
	Subject    string     `json:"subject"`
	Attribute  string     `json:"attribute"`
	Value      string     `json:"value"`
	Category   Category   `json:"category"`
	Importance Importance `json:"importance"`
	Source     SourceRef  `json:"source"`
}

// FactKey identifies the single active fact for an entity attribute.
type FactKey struct {
	Subject   string `json:"subject"`
	Attribute string `json:"attribute"`
}

// String renders the key as subject/attribute.
func (k FactKey) String() string {
	return k.Subject + "/" + k.Attribute
}

// NormalizeAttribute lowercases an attribute and joins words with underscores,
// so "Eye Color" and "eye-color" both become "eye_color".
func NormalizeAttribute(attribute string) string {
	fields := strings.FieldsFunc(strings.ToLower(attribute), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// NormalizeValue folds case, whitespace and surrounding punctuation so that
// "Blue." and "blue" compare equal.
func NormalizeValue(value string) string {
	value = strings.Join(strings.Fields(strings.ToLower(value)), " ")
	return strings.TrimFunc(value, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
