package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// Judge strategies.
const (
	JudgeRule     = "rule"
	JudgeSemantic = "semantic"
	JudgeLLM      = "llm"
)

// DefaultSemanticThreshold is the cosine similarity at or above which two
// values are considered the same.
const DefaultSemanticThreshold = 0.9

// ContradictionJudge decides whether a candidate value contradicts the
// active value of the same fact. It is only asked when the normalized
// values differ.
type ContradictionJudge interface {
	Judge(ctx context.Context, existing entities.StoryFact, candidate entities.CandidateFact) (ports.Judgement, error)
}

// NewJudge builds the judge for a strategy name.
func NewJudge(strategy string, llm ports.LLMClient, embedder ports.Embedder, threshold float64) (ContradictionJudge, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", JudgeRule:
		return RuleJudge{}, nil
	case JudgeSemantic:
		if embedder == nil {
			return nil, fmt.Errorf("semantic judge requires an embedder")
		}
		if threshold <= 0 {
			threshold = DefaultSemanticThreshold
		}
		return &SemanticJudge{embedder: embedder, threshold: threshold}, nil
	case JudgeLLM:
		if llm == nil {
			return nil, fmt.Errorf("llm judge requires an llm client")
		}
		return &LLMJudge{llm: llm}, nil
	default:
		return nil, fmt.Errorf("unknown judge strategy %q", strategy)
	}
}

// RuleJudge treats any normalized difference as a contradiction, except in
// descriptive categories where one value refining the other ("blue" and
// "pale blue") is accepted.
type RuleJudge struct{}

// Judge implements ContradictionJudge.
func (RuleJudge) Judge(_ context.Context, existing entities.StoryFact, candidate entities.CandidateFact) (ports.Judgement, error) {
	a := entities.NormalizeValue(existing.Value)
	b := entities.NormalizeValue(candidate.Value)
	if a == b {
		return ports.Judgement{Reason: "values match"}, nil
	}
	if isDescriptive(existing.Category) && (tokenSubset(a, b) || tokenSubset(b, a)) {
		return ports.Judgement{Reason: "one value refines the other"}, nil
	}
	return ports.Judgement{
		Contradicts: true,
		Reason:      fmt.Sprintf("%q differs from %q", candidate.Value, existing.Value),
	}, nil
}

func isDescriptive(c entities.Category) bool {
	switch c {
	case entities.CategoryCharacterTrait, entities.CategoryLocation, entities.CategoryObject:
		return true
	}
	return false
}

// tokenSubset reports whether every word of a appears in b.
func tokenSubset(a, b string) bool {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(b) {
		words[w] = struct{}{}
	}
	fields := strings.Fields(a)
	if len(fields) == 0 {
		return false
	}
	for _, w := range fields {
		if _, ok := words[w]; !ok {
			return false
		}
	}
	return true
}

// SemanticJudge compares the embeddings of the two values.
type SemanticJudge struct {
	embedder  ports.Embedder
	threshold float64
}

// Judge implements ContradictionJudge.
func (j *SemanticJudge) Judge(ctx context.Context, existing entities.StoryFact, candidate entities.CandidateFact) (ports.Judgement, error) {
	vectors, err := j.embedder.EmbedBatch(ctx, []string{existing.Value, candidate.Value})
	if err != nil {
		return ports.Judgement{}, fmt.Errorf("embedding values: %w", err)
	}
	if len(vectors) != 2 {
		return ports.Judgement{}, fmt.Errorf("embedding values: got %d vectors, want 2", len(vectors))
	}

	sim := cosine(vectors[0], vectors[1])
	if sim >= j.threshold {
		return ports.Judgement{Reason: fmt.Sprintf("similarity %.2f", sim)}, nil
	}
	return ports.Judgement{
		Contradicts: true,
		Reason:      fmt.Sprintf("similarity %.2f below %.2f", sim, j.threshold),
	}, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LLMJudge delegates the decision to the external capability.
type LLMJudge struct {
	llm ports.LLMClient
}

// Judge implements ContradictionJudge.
func (j *LLMJudge) Judge(ctx context.Context, existing entities.StoryFact, candidate entities.CandidateFact) (ports.Judgement, error) {
	verdict, err := j.llm.JudgeContradiction(ctx, existing, candidate)
	if err != nil {
		return ports.Judgement{}, fmt.Errorf("judging contradiction: %w", err)
	}
	return verdict, nil
}
