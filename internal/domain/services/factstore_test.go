package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/mocks"
)

func TestFactStore_UpsertPersists(t *testing.T) {
	ctx := t.Context()
	repo := mocks.NewBookRepository()
	store, err := OpenFactStore(ctx, "book", repo, nil)
	require.NoError(t, err)

	res, err := store.UpsertCandidateFact(ctx, candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))
	require.NoError(t, err)
	assert.True(t, res.Created)

	reopened, err := OpenFactStore(ctx, "book", repo, nil)
	require.NoError(t, err)
	f, ok := reopened.ActiveValue("Marcus", "eye_color")
	require.True(t, ok)
	assert.Equal(t, "blue", f.Value)
}

func TestFactStore_OpenRejectsCorruption(t *testing.T) {
	repo := mocks.NewBookRepository()
	repo.SeedFacts("book",
		entities.StoryFact{ID: "a", Subject: "Marcus", Attribute: "eye_color", Value: "blue"},
		entities.StoryFact{ID: "b", Subject: "MARCUS", Attribute: "eye_color", Value: "green"},
	)

	_, err := OpenFactStore(t.Context(), "book", repo, nil)

	assert.True(t, errors.Is(err, entities.ErrStoreCorrupted))
}

func TestFactStore_PersistFailureKeepsState(t *testing.T) {
	ctx := t.Context()
	repo := mocks.NewBookRepository()
	store, err := OpenFactStore(ctx, "book", repo, nil)
	require.NoError(t, err)

	repo.ApplyErr = errors.New("disk full")
	_, err = store.UpsertCandidateFact(ctx, candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))

	require.Error(t, err)
	_, ok := store.ActiveValue("Marcus", "eye color")
	assert.False(t, ok)
}

func TestFactStore_BatchRollbackDiscards(t *testing.T) {
	ctx := t.Context()
	store := NewFactStore("book", nil)
	_, err := store.UpsertCandidateFact(ctx, candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))
	require.NoError(t, err)
	before := store.Fingerprint()

	txn, err := store.BeginBatch(ctx)
	require.NoError(t, err)
	txn.Staged().Upsert(candidate("Ann", "age", "30", "ch1", 1, "thirty"))
	_, err = txn.Staged().Supersede("Marcus", "eye color", "green", entities.SourceRef{}, entities.ChangeCorrection, "")
	require.NoError(t, err)

	facts, _ := store.Counts()
	assert.Equal(t, 1, facts, "staged changes are invisible before commit")

	txn.Rollback()

	assert.Equal(t, before, store.Fingerprint())
	facts, _ = store.Counts()
	assert.Equal(t, 1, facts)
}

func TestFactStore_BatchCommitPublishes(t *testing.T) {
	ctx := t.Context()
	store := NewFactStore("book", nil)

	txn, err := store.BeginBatch(ctx)
	require.NoError(t, err)
	txn.Staged().Upsert(candidate("Ann", "age", "30", "ch1", 1, "thirty"))
	require.NoError(t, txn.Commit(ctx))
	txn.Rollback()

	_, ok := store.ActiveValue("Ann", "age")
	assert.True(t, ok)
}

func TestFactStore_IncrementalCommitQueuesBehindBatch(t *testing.T) {
	ctx := t.Context()
	store := NewFactStore("book", nil)

	txn, err := store.BeginBatch(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := store.UpsertCandidateFact(ctx, candidate("Ann", "age", "30", "ch1", 1, "thirty"))
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("incremental commit must wait for the batch")
	case <-time.After(50 * time.Millisecond):
	}

	// Reads never wait for the commit lock.
	assert.Empty(t, store.Facts(entities.FactFilter{}))

	txn.Rollback()
	require.NoError(t, <-done)
	_, ok := store.ActiveValue("Ann", "age")
	assert.True(t, ok)
}

func TestFactStore_ApplyHonoursContext(t *testing.T) {
	store := NewFactStore("book", nil)
	txn, err := store.BeginBatch(t.Context())
	require.NoError(t, err)
	defer txn.Rollback()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err = store.Apply(ctx, func(*FactSet) error { return nil })
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFactStore_SnapshotIsIsolated(t *testing.T) {
	ctx := t.Context()
	store := NewFactStore("book", nil)
	_, err := store.UpsertCandidateFact(ctx, candidate("Marcus", "eye color", "blue", "ch1", 1, "blue"))
	require.NoError(t, err)

	snap := store.Snapshot()
	_, err = store.Supersede(ctx, "Marcus", "eye color", "green", entities.SourceRef{}, entities.ChangeCorrection, "typo")
	require.NoError(t, err)

	f, _ := snap.ActiveValue("Marcus", "eye color")
	assert.Equal(t, "blue", f.Value)
	f, _ = store.ActiveValue("Marcus", "eye color")
	assert.Equal(t, "green", f.Value)
}

func TestFactStore_RegisterAliasWritesAudit(t *testing.T) {
	ctx := t.Context()
	repo := mocks.NewBookRepository()
	store, err := OpenFactStore(ctx, "book", repo, nil)
	require.NoError(t, err)

	require.NoError(t, store.RegisterAlias(ctx, "Webb", "Marcus Webb"))

	entries, err := repo.FindAuditLogByAction(ctx, "book", entities.AuditAliasRegistered, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
