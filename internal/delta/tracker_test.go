package delta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChanged_HashMismatch(t *testing.T) {
	local := model.DeltaState{Hash: "a"}
	remote := model.ManifestEntry{Hash: "b"}
	require.True(t, Changed(local, remote))
}

func TestChanged_HashMatchIsUnchanged(t *testing.T) {
	local := model.DeltaState{Hash: "a", LastModified: time.Now()}
	remote := model.ManifestEntry{Hash: "a", LastModified: time.Now().Add(time.Hour)}
	require.False(t, Changed(local, remote))
}

func TestChanged_FallsBackToTimestampWhenHashMissing(t *testing.T) {
	now := time.Now()
	local := model.DeltaState{LastModified: now}
	remote := model.ManifestEntry{LastModified: now.Add(time.Second)}
	require.True(t, Changed(local, remote))
}

func TestChanged_TieOnTimestampIsUnchanged(t *testing.T) {
	now := time.Now()
	local := model.DeltaState{Hash: "a", LastModified: now}
	remote := model.ManifestEntry{Hash: "a", LastModified: now}
	require.False(t, Changed(local, remote))
}

func TestDetectChanges_PartitionsCorrectly(t *testing.T) {
	s := newTestStore(t)
	tracker := New(s)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.PutDeltaStateBatch(ctx, []model.DeltaState{
		{Source: model.SourceLibrary, EntityID: "unchanged-1", Hash: "h1", LastModified: now, LastSynced: now},
		{Source: model.SourceLibrary, EntityID: "modified-1", Hash: "old-hash", LastModified: now, LastSynced: now},
		{Source: model.SourceLibrary, EntityID: "deleted-1", Hash: "h3", LastModified: now, LastSynced: now},
	}))

	manifest := model.Manifest{
		Source: model.SourceLibrary,
		Entries: []model.ManifestEntry{
			{ID: "unchanged-1", Hash: "h1", LastModified: now},
			{ID: "modified-1", Hash: "new-hash", LastModified: now.Add(time.Minute)},
			{ID: "added-1", Hash: "h4", LastModified: now},
		},
	}

	diff, err := tracker.DetectChanges(ctx, model.SourceLibrary, manifest)
	require.NoError(t, err)

	require.Len(t, diff.Added, 1)
	require.Equal(t, "added-1", diff.Added[0].ID)

	require.Len(t, diff.Modified, 1)
	require.Equal(t, "modified-1", diff.Modified[0].ID)

	require.Len(t, diff.Deleted, 1)
	require.Equal(t, "deleted-1", diff.Deleted[0].EntityID)

	require.Len(t, diff.Unchanged, 1)
	require.Equal(t, "unchanged-1", diff.Unchanged[0].ID)
}

func TestDetectChanges_SameManifestAfterFullSyncYieldsNoChanges(t *testing.T) {
	s := newTestStore(t)
	tracker := New(s)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []model.ManifestEntry{{ID: "a", Hash: "h1", LastModified: now}}
	manifest := model.Manifest{Source: model.SourceFile, Entries: entries}

	diff, err := tracker.DetectChanges(ctx, model.SourceFile, manifest)
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)

	for _, a := range diff.Added {
		require.NoError(t, tracker.RecordApply(ctx, model.Change{
			Source: model.SourceFile, EntityID: a.ID, Hash: a.Hash, Timestamp: a.LastModified,
		}, now))
	}

	diff, err = tracker.DetectChanges(ctx, model.SourceFile, manifest)
	require.NoError(t, err)
	require.Empty(t, diff.Added)
	require.Empty(t, diff.Modified)
	require.Empty(t, diff.Deleted)
	require.Len(t, diff.Unchanged, 1)
}

func TestHasLocalModifications_RespectsGrace(t *testing.T) {
	now := time.Now()
	ahead := model.DeltaState{LastModified: now, LastSynced: now.Add(-2 * time.Second)}
	require.True(t, HasLocalModifications(ahead))

	withinGrace := model.DeltaState{LastModified: now, LastSynced: now.Add(-200 * time.Millisecond)}
	require.False(t, HasLocalModifications(withinGrace))
}

func TestRecordApply_PersistsHashAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	tracker := New(s)
	ctx := context.Background()
	applyTime := time.Now().UTC().Truncate(time.Millisecond)

	change := model.Change{
		Source:     model.SourceServer,
		EntityID:   "progress-1",
		EntityType: model.EntityProgress,
		Hash:       "new-hash",
		Timestamp:  applyTime.Add(-time.Minute),
	}
	require.NoError(t, tracker.RecordApply(ctx, change, applyTime))

	got, err := s.GetDeltaState(ctx, model.SourceServer, "progress-1")
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.Hash)
	require.True(t, applyTime.Equal(got.LastSynced))
}

func TestVerifyIntegrity_PartitionsValidInvalidMissing(t *testing.T) {
	s := newTestStore(t)
	tracker := New(s)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutDeltaStateBatch(ctx, []model.DeltaState{
		{Source: model.SourceLibrary, EntityID: "good", Hash: "h-good", LastModified: now, LastSynced: now},
		{Source: model.SourceLibrary, EntityID: "tampered", Hash: "h-tampered", LastModified: now, LastSynced: now},
		{Source: model.SourceLibrary, EntityID: "gone", Hash: "h-gone", LastModified: now, LastSynced: now},
	}))

	rehash := func(ctx context.Context, state model.DeltaState) (string, bool, error) {
		switch state.EntityID {
		case "good":
			return "h-good", true, nil
		case "tampered":
			return "different-hash", true, nil
		default:
			return "", false, nil
		}
	}

	results, err := tracker.VerifyIntegrity(ctx, model.SourceLibrary, rehash)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[string]IntegrityStatus)
	for _, r := range results {
		byID[r.EntityID] = r.Status
	}
	require.Equal(t, IntegrityValid, byID["good"])
	require.Equal(t, IntegrityInvalid, byID["tampered"])
	require.Equal(t, IntegrityMissing, byID["gone"])
}
