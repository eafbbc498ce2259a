package qdrant

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/infrastructure/config"
)

const (
	testVectorSize = 4
	testCollection = "continuity_integration_test"
)

// liveRepository connects to a local Qdrant. Set INTEGRATION_TEST=1 to run.
func liveRepository(t *testing.T) *Repository {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("INTEGRATION_TEST not set")
	}

	repo, err := NewRepository(config.QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: testCollection,
	})
	require.NoError(t, err)

	ctx := t.Context()
	_ = repo.DeleteCollection(ctx) // Ignore error if collection doesn't exist
	require.NoError(t, repo.EnsureCollection(ctx, testVectorSize))

	t.Cleanup(func() {
		_ = repo.DeleteCollection(t.Context())
		repo.Close()
	})
	return repo
}

func TestIntegration_CollectionLifecycle(t *testing.T) {
	repo := liveRepository(t)

	count, err := repo.Count(t.Context(), "saga")
	require.NoError(t, err)
	assert.Zero(t, count)

	// Ensure idempotent - calling EnsureCollection again should not fail
	require.NoError(t, repo.EnsureCollection(t.Context(), testVectorSize))
}

func TestIntegration_UpsertSearchDelete(t *testing.T) {
	repo := liveRepository(t)
	ctx := t.Context()

	facts := []entities.StoryFact{
		{ID: "eyes", BookID: "saga", Subject: "Marcus", Attribute: "eye color", Value: "blue", Category: entities.CategoryCharacterTrait},
		{ID: "home", BookID: "saga", Subject: "Elena", Attribute: "hometown", Value: "Varn", Category: entities.CategoryLocation},
	}
	embeddings := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}
	require.NoError(t, repo.Upsert(ctx, "saga", facts, embeddings))

	// Another book's points stay out of saga's results.
	other := []entities.StoryFact{{ID: "eyes", BookID: "sequel", Subject: "Marcus", Attribute: "eye color", Value: "green", Category: entities.CategoryCharacterTrait}}
	require.NoError(t, repo.Upsert(ctx, "sequel", other, [][]float32{{1, 0, 0, 0}}))

	ids, err := repo.Search(ctx, "saga", []float32{0.9, 0.1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "eyes", ids[0])

	count, err := repo.Count(ctx, "saga")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	require.NoError(t, repo.DeleteBook(ctx, "saga"))

	count, err = repo.Count(ctx, "saga")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = repo.Count(ctx, "sequel")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
