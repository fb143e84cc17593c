package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/synccore/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeltaState_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	size := int64(42)
	state := model.DeltaState{
		Source:       model.SourceLibrary,
		EntityID:     "book-1",
		EntityType:   model.EntityBook,
		Hash:         "abc123",
		LastModified: now,
		LastSynced:   now,
		Size:         &size,
	}

	require.NoError(t, s.PutDeltaState(ctx, state))

	got, err := s.GetDeltaState(ctx, model.SourceLibrary, "book-1")
	require.NoError(t, err)
	require.Equal(t, state.Hash, got.Hash)
	require.Equal(t, *state.Size, *got.Size)
	require.True(t, state.LastModified.Equal(got.LastModified))
}

func TestDeltaState_GetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDeltaState(context.Background(), model.SourceLibrary, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeltaState_UpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	state := model.DeltaState{Source: model.SourceFile, EntityID: "note-1", Hash: "v1", LastModified: now, LastSynced: now}
	require.NoError(t, s.PutDeltaState(ctx, state))

	state.Hash = "v2"
	require.NoError(t, s.PutDeltaState(ctx, state))

	got, err := s.GetDeltaState(ctx, model.SourceFile, "note-1")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Hash)
}

func TestDeltaState_BatchIsTransactional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	states := []model.DeltaState{
		{Source: model.SourceServer, EntityID: "p-1", LastModified: now, LastSynced: now},
		{Source: model.SourceServer, EntityID: "p-2", LastModified: now, LastSynced: now},
		{Source: model.SourceServer, EntityID: "p-3", LastModified: now, LastSynced: now},
	}
	require.NoError(t, s.PutDeltaStateBatch(ctx, states))

	all, err := s.GetAllDeltaStates(ctx, model.SourceServer)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestDeltaState_ClearRemovesOnlyThatSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutDeltaState(ctx, model.DeltaState{Source: model.SourceLibrary, EntityID: "a", LastModified: now, LastSynced: now}))
	require.NoError(t, s.PutDeltaState(ctx, model.DeltaState{Source: model.SourceServer, EntityID: "b", LastModified: now, LastSynced: now}))

	require.NoError(t, s.ClearDeltaStates(ctx, model.SourceLibrary))

	libStates, err := s.GetAllDeltaStates(ctx, model.SourceLibrary)
	require.NoError(t, err)
	require.Empty(t, libStates)

	srvStates, err := s.GetAllDeltaStates(ctx, model.SourceServer)
	require.NoError(t, err)
	require.Len(t, srvStates, 1)
}

func TestSyncMetadata_SetAndGetLastSyncTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.SetLastSyncTime(ctx, model.SourceFile, now))

	got, err := s.GetLastSyncTime(ctx, model.SourceFile)
	require.NoError(t, err)
	require.True(t, now.Equal(got))
}

func TestSyncMetadata_GetLastSyncTimeDefaultsToZero(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetLastSyncTime(context.Background(), model.SourceServer)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestCheckpoint_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	record := model.CheckpointRecord{
		Checkpoint: model.Checkpoint{SessionID: "sess-1", Timestamp: now},
		CreatedAt:  now,
		UpdatedAt:  now,
		Complete:   false,
	}
	require.NoError(t, s.PutCheckpoint(ctx, record))

	got, err := s.GetCheckpoint(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", got.Checkpoint.SessionID)
	require.False(t, got.Complete)
}

func TestCheckpoint_PutIsIdempotentOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	record := model.CheckpointRecord{Checkpoint: model.Checkpoint{SessionID: "sess-2"}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.PutCheckpoint(ctx, record))

	record.Complete = true
	record.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.PutCheckpoint(ctx, record))

	got, err := s.GetCheckpoint(ctx, "sess-2")
	require.NoError(t, err)
	require.True(t, got.Complete)
}

func TestCheckpoint_ListIncompleteMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, id := range []string{"a", "b", "c"} {
		rec := model.CheckpointRecord{
			Checkpoint: model.Checkpoint{SessionID: id},
			CreatedAt:  base,
			UpdatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.PutCheckpoint(ctx, rec))
	}

	list, err := s.ListIncompleteCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "c", list[0].Checkpoint.SessionID)
	require.Equal(t, "a", list[2].Checkpoint.SessionID)
}

func TestManifest_CachedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	m := model.Manifest{Version: 1, GeneratedAt: now, Source: model.SourceLibrary, TotalCount: 2}
	require.NoError(t, s.PutCachedManifest(ctx, model.SourceLibrary, m))

	got, err := s.GetCachedManifest(ctx, model.SourceLibrary)
	require.NoError(t, err)
	require.Equal(t, 2, got.TotalCount)
}

func TestConflict_PutGetAndListUnresolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	c := model.Conflict{ID: "c-1", Kind: model.ConflictFieldLevel, EntityType: model.EntityBook, EntityID: "b-1", DetectedAt: now}
	require.NoError(t, s.PutConflict(ctx, c))

	got, err := s.GetConflict(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, model.ConflictFieldLevel, got.Kind)

	unresolved, err := s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	got.Resolved = true
	require.NoError(t, s.PutConflict(ctx, *got))

	unresolved, err = s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	require.Empty(t, unresolved)
}

func TestResolutionMemory_PutGetAndMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetResolutionMemory(ctx, model.EntityBook, "title")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutResolutionMemory(ctx, model.EntityBook, "title", model.StrategyPreferRemote))

	strategy, ok, err := s.GetResolutionMemory(ctx, model.EntityBook, "title")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.StrategyPreferRemote, strategy)
}

func TestIsCorrupt_WrapsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	wrapped := NewCorruptError("key-1", base)
	require.True(t, IsCorrupt(wrapped))
	require.False(t, IsCorrupt(base))
	require.ErrorIs(t, wrapped, base)
}

func TestOpen_SecondAttemptAtNewerVersionIsBlocked(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sync.db")

	// Simulate an older-version process holding the store open: take the
	// lock directly and stamp it with a version below storeVersion.
	holder := flock.New(dbPath + ".lock")
	ok, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, os.WriteFile(holder.Path(), []byte("0"), 0644))
	t.Cleanup(func() { holder.Unlock() })

	_, err = Open(dbPath)
	require.ErrorIs(t, err, ErrBlocked)
}
