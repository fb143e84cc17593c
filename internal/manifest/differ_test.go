package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/synccore/internal/model"
)

func TestDiff_ClassifiesAddedModifiedDeletedUnchanged(t *testing.T) {
	now := time.Now().UTC()

	previous := model.Manifest{Entries: []model.ManifestEntry{
		{ID: "a", Hash: "h1", LastModified: now},
		{ID: "b", Hash: "h2", LastModified: now},
		{ID: "c", Hash: "h3", LastModified: now},
	}}

	current := model.Manifest{Entries: []model.ManifestEntry{
		{ID: "a", Hash: "h1", LastModified: now},
		{ID: "b", Hash: "h2-changed", LastModified: now.Add(time.Minute)},
		{ID: "d", Hash: "h4", LastModified: now},
	}}

	d := New()
	results := d.Diff(previous, current)

	byID := make(map[string]EntryDiff)
	for _, r := range results {
		byID[r.Entry.ID] = r
	}

	require.Equal(t, ClassUnchanged, byID["a"].Classification)
	require.Equal(t, ClassModified, byID["b"].Classification)
	require.Contains(t, byID["b"].ChangedFields, "hash")
	require.Equal(t, ClassAdded, byID["d"].Classification)

	var deleted []EntryDiff
	for _, r := range results {
		if r.Classification == ClassDeleted {
			deleted = append(deleted, r)
		}
	}
	require.Len(t, deleted, 1)
	require.Equal(t, "c", deleted[0].Entry.ID)
}

func TestDiff_MetadataIgnoreList(t *testing.T) {
	now := time.Now().UTC()
	previous := model.Manifest{Entries: []model.ManifestEntry{
		{ID: "a", Hash: "h1", LastModified: now, Metadata: map[string]interface{}{"etag": "v1", "title": "Dune"}},
	}}
	current := model.Manifest{Entries: []model.ManifestEntry{
		{ID: "a", Hash: "h1", LastModified: now, Metadata: map[string]interface{}{"etag": "v2", "title": "Dune"}},
	}}

	d := New(WithCriteria(CriterionMetadata), WithIgnoredMetadataKeys("etag"))
	results := d.Diff(previous, current)

	require.Len(t, results, 1)
	require.Equal(t, ClassUnchanged, results[0].Classification)
}

func TestDiff_MetadataChangeDetectedWhenNotIgnored(t *testing.T) {
	now := time.Now().UTC()
	previous := model.Manifest{Entries: []model.ManifestEntry{
		{ID: "a", Hash: "h1", LastModified: now, Metadata: map[string]interface{}{"title": "Dune"}},
	}}
	current := model.Manifest{Entries: []model.ManifestEntry{
		{ID: "a", Hash: "h1", LastModified: now, Metadata: map[string]interface{}{"title": "Dune Messiah"}},
	}}

	d := New(WithCriteria(CriterionMetadata))
	results := d.Diff(previous, current)

	require.Len(t, results, 1)
	require.Equal(t, ClassModified, results[0].Classification)
	require.Contains(t, results[0].ChangedFields, "metadata")
}

func TestDiffStream_EmitsAllEntriesAndCloses(t *testing.T) {
	now := time.Now().UTC()
	var entries []model.ManifestEntry
	for i := 0; i < 2500; i++ {
		entries = append(entries, model.ManifestEntry{ID: string(rune('a' + i%26)), Hash: "h", LastModified: now})
	}
	current := model.Manifest{Entries: entries}

	d := New(WithChunkSize(100))
	ctx := context.Background()

	count := 0
	for range d.DiffStream(ctx, model.Manifest{}, current) {
		count++
	}
	require.Equal(t, len(entries), count)
}

func TestDiffStream_StopsOnContextCancel(t *testing.T) {
	now := time.Now().UTC()
	var entries []model.ManifestEntry
	for i := 0; i < 5000; i++ {
		entries = append(entries, model.ManifestEntry{ID: "id", Hash: "h", LastModified: now})
	}
	current := model.Manifest{Entries: entries}

	d := New()
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	for range d.DiffStream(ctx, model.Manifest{}, current) {
		count++
		if count == 10 {
			cancel()
		}
	}
	require.LessOrEqual(t, count, len(entries))
	require.GreaterOrEqual(t, count, 10)
}
