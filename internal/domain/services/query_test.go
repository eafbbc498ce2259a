package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/mocks"
)

func contextSet(t *testing.T) *FactSet {
	t.Helper()
	fs := NewFactSet("book")
	fs.Upsert(candidate("Marcus", "eye color", "blue", "ch1", 1, "blue eyes"))
	fs.Upsert(candidate("Elena", "hair", "red", "ch1", 1, "red hair"))
	fs.Upsert(candidate("Tor", "height", "short", "ch2", 2, "short"))
	require.NoError(t, fs.RegisterAlias("Lena", "Elena"))
	return fs
}

func subjects(facts []entities.StoryFact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Subject
	}
	return out
}

func TestContextBuilder_LexicalMatches(t *testing.T) {
	fs := contextSet(t)
	b := NewContextBuilder(nil, nil, 0, nil)

	facts := b.Build(t.Context(), fs, "Marcus's gaze found Lena across the room. Torches burned.")

	assert.ElementsMatch(t, []string{"Marcus", "Elena"}, subjects(facts), "Tor only appears inside another word")
}

func TestContextBuilder_AddsSemanticNeighbours(t *testing.T) {
	fs := contextSet(t)
	tor, ok := fs.ActiveValue("Tor", "height")
	require.True(t, ok)
	marcus, _ := fs.ActiveValue("Marcus", "eye_color")
	index := &mocks.FactIndex{SearchResult: []string{marcus.ID, tor.ID, "unknown"}}
	b := NewContextBuilder(&mocks.Embedder{EmbeddingResult: []float32{1}}, index, 5, nil)

	facts := b.Build(t.Context(), fs, "Marcus waited.")

	assert.Equal(t, []string{"Marcus", "Tor"}, subjects(facts))
	assert.Equal(t, 1, index.SearchCalls)
}

func TestContextBuilder_SemanticFailureIsSkipped(t *testing.T) {
	fs := contextSet(t)
	b := NewContextBuilder(&mocks.Embedder{Err: errors.New("quota")}, &mocks.FactIndex{}, 5, nil)

	facts := b.Build(t.Context(), fs, "Marcus waited.")

	assert.Equal(t, []string{"Marcus"}, subjects(facts))
}

func TestContextBuilder_Refresh(t *testing.T) {
	fs := contextSet(t)
	index := &mocks.FactIndex{}
	b := NewContextBuilder(&mocks.Embedder{EmbeddingResult: []float32{1, 0}}, index, 5, nil)

	require.NoError(t, b.Refresh(t.Context(), fs))

	assert.Equal(t, []string{"book"}, index.DeletedBooks)
	assert.Len(t, index.Indexed["book"], 3)
}

func TestContextBuilder_RefreshWithoutIndexIsNoop(t *testing.T) {
	b := NewContextBuilder(nil, nil, 0, nil)
	assert.NoError(t, b.Refresh(t.Context(), contextSet(t)))
}

func TestMentions(t *testing.T) {
	tests := []struct {
		text string
		name string
		want bool
	}{
		{"marcus waited", "marcus", true},
		{"torches burned", "tor", false},
		{"at the tor.", "tor", true},
		{"mr tor, tor", "tor", true},
		{"anything", "", false},
		{"marcus webb left", "marcus webb", true},
	}

	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mentions(tt.text, tt.name))
		})
	}
}
