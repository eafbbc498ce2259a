package services

import (
	"math"
	"sync"

	"github.com/ersonp/continuity/internal/domain/entities"
)

// ScoreWeights are the per-severity penalties of the continuity score.
type ScoreWeights struct {
	Critical   float64 `yaml:"critical"`
	Warning    float64 `yaml:"warning"`
	Suggestion float64 `yaml:"suggestion"`
}

// DefaultScoreWeights returns the default penalties.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Critical: 8, Warning: 3, Suggestion: 1}
}

// ContinuityScore computes max(0, 100 - sum(weight * sqrt(count))), rounded.
func ContinuityScore(counts entities.SeverityCounts, w ScoreWeights) int {
	penalty := w.Critical*math.Sqrt(float64(counts.Critical)) +
		w.Warning*math.Sqrt(float64(counts.Warning)) +
		w.Suggestion*math.Sqrt(float64(counts.Suggestion))
	return int(math.Round(math.Max(0, 100-penalty)))
}

// ScoreAggregator caches the score for the latest severity counts.
type ScoreAggregator struct {
	weights ScoreWeights

	mu     sync.Mutex
	counts entities.SeverityCounts
	score  int
	valid  bool
}

// NewScoreAggregator creates an aggregator with the given weights.
func NewScoreAggregator(w ScoreWeights) *ScoreAggregator {
	return &ScoreAggregator{weights: w}
}

// Score returns the score for counts, recomputing only when counts changed.
func (a *ScoreAggregator) Score(counts entities.SeverityCounts) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.valid && a.counts == counts {
		return a.score
	}
	a.counts = counts
	a.score = ContinuityScore(counts, a.weights)
	a.valid = true
	return a.score
}
