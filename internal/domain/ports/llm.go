// Package ports defines interfaces for external service communication.
package ports

import (
	"context"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// LLMClient is the external extraction and judgement capability.
type LLMClient interface {
	// ExtractRecords extracts raw fact and event records from text.
	// factContext holds already-known facts the model may refer to.
	ExtractRecords(ctx context.Context, text string, factContext []entities.StoryFact) (*RawExtraction, error)

	// JudgeContradiction decides whether candidate contradicts existing.
	JudgeContradiction(ctx context.Context, existing entities.StoryFact, candidate entities.CandidateFact) (Judgement, error)
}

// RawExtraction is the unvalidated output of one extraction call.
type RawExtraction struct {
	Facts  []RawFact  `json:"facts"`
	Events []RawEvent `json:"events"`
}

// RawFact is one fact record as returned by the capability.
type RawFact struct {
	Subject    string `json:"subject" validate:"required"`
	Attribute  string `json:"attribute" validate:"required"`
	Value      string `json:"value" validate:"required"`
	Category   string `json:"category" validate:"required,oneof=character_trait character_knowledge character_status timeline location object world_rule relationship plot_thread"`
	Importance string `json:"importance" validate:"omitempty,oneof=minor significant critical"`
	Excerpt    string `json:"excerpt" validate:"required"`
}

// RawEvent is one timeline event record as returned by the capability.
type RawEvent struct {
	Description string   `json:"description" validate:"required"`
	StoryTime   string   `json:"story_time"`
	DayNumber   *int     `json:"day_number" validate:"omitempty,gte=0"`
	Characters  []string `json:"characters" validate:"dive,required"`
	Locations   []string `json:"locations" validate:"dive,required"`
	Importance  string   `json:"importance" validate:"omitempty,oneof=minor significant critical"`
	Excerpt     string   `json:"excerpt" validate:"required"`
}

// Judgement is the verdict of a contradiction judge.
type Judgement struct {
	Contradicts bool   `json:"contradicts"`
	Reason      string `json:"reason,omitempty"`
}
