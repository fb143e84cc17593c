// Package manifest implements the Manifest Differ: a Delta
// Tracker variant that compares two manifests directly, without touching
// the Store. Used to diff a cached manifest against a freshly fetched one.
package manifest

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hyperengineering/synccore/internal/model"
)

func toComparableString(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// Criterion is one axis of comparison a Differ can be configured to check.
type Criterion string

const (
	CriterionHash     Criterion = "hash"
	CriterionTime     Criterion = "timestamp"
	CriterionSize     Criterion = "size"
	CriterionMetadata Criterion = "metadata"
)

// DefaultChunkSize is the number of entries processed between yields in
// streaming mode.
const DefaultChunkSize = 1000

// EntryDiff classifies one entity across two manifests.
type EntryDiff struct {
	Entry         model.ManifestEntry
	Previous      *model.ManifestEntry
	Classification Classification
	ChangedFields []string
}

// Classification is the outcome for one entity in a manifest diff.
type Classification string

const (
	ClassAdded     Classification = "added"
	ClassModified  Classification = "modified"
	ClassDeleted   Classification = "deleted"
	ClassUnchanged Classification = "unchanged"
)

// Differ compares two manifests according to a configurable set of
// criteria, ignoring any metadata keys listed in IgnoreMetadataKeys.
type Differ struct {
	Criteria            []Criterion
	IgnoreMetadataKeys  map[string]bool
	ChunkSize           int
}

// New creates a Differ with the default criteria (hash, timestamp, size)
// and the default chunk size.
func New(opts ...Option) *Differ {
	d := &Differ{
		Criteria:           []Criterion{CriterionHash, CriterionTime, CriterionSize},
		IgnoreMetadataKeys: make(map[string]bool),
		ChunkSize:          DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Option configures a Differ.
type Option func(*Differ)

// WithCriteria overrides the comparison criteria used to classify an entry
// as modified.
func WithCriteria(criteria ...Criterion) Option {
	return func(d *Differ) { d.Criteria = criteria }
}

// WithIgnoredMetadataKeys excludes the named metadata keys from the
// CriterionMetadata comparison.
func WithIgnoredMetadataKeys(keys ...string) Option {
	return func(d *Differ) {
		for _, k := range keys {
			d.IgnoreMetadataKeys[k] = true
		}
	}
}

// WithChunkSize overrides the streaming yield interval.
func WithChunkSize(n int) Option {
	return func(d *Differ) {
		if n > 0 {
			d.ChunkSize = n
		}
	}
}

func (d *Differ) hasCriterion(c Criterion) bool {
	for _, want := range d.Criteria {
		if want == c {
			return true
		}
	}
	return false
}

// classify compares two entries with the same ID and returns the
// classification plus the list of fields that differ.
func (d *Differ) classify(prev, cur model.ManifestEntry) (Classification, []string) {
	var changed []string

	if d.hasCriterion(CriterionHash) && prev.Hash != cur.Hash {
		changed = append(changed, "hash")
	}
	if d.hasCriterion(CriterionTime) && !prev.LastModified.Equal(cur.LastModified) {
		changed = append(changed, "last_modified")
	}
	if d.hasCriterion(CriterionSize) && !sizeEqual(prev.Size, cur.Size) {
		changed = append(changed, "size")
	}
	if d.hasCriterion(CriterionMetadata) && d.metadataChanged(prev.Metadata, cur.Metadata) {
		changed = append(changed, "metadata")
	}

	if len(changed) == 0 {
		return ClassUnchanged, nil
	}
	return ClassModified, changed
}

func sizeEqual(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func (d *Differ) metadataChanged(prev, cur map[string]interface{}) bool {
	filteredPrev := d.filterMetadata(prev)
	filteredCur := d.filterMetadata(cur)

	if len(filteredPrev) != len(filteredCur) {
		return true
	}
	for k, v := range filteredPrev {
		cv, ok := filteredCur[k]
		if !ok {
			return true
		}
		if toComparableString(v) != toComparableString(cv) {
			return true
		}
	}
	return false
}

func (d *Differ) filterMetadata(m map[string]interface{}) map[string]interface{} {
	if len(d.IgnoreMetadataKeys) == 0 {
		return m
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if d.IgnoreMetadataKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// Diff compares two manifests entirely in memory and returns the full set
// of per-entry classifications.
func (d *Differ) Diff(previous, current model.Manifest) []EntryDiff {
	results := make([]EntryDiff, 0, len(current.Entries)+len(previous.Entries))

	prevByID := make(map[string]model.ManifestEntry, len(previous.Entries))
	for _, e := range previous.Entries {
		prevByID[e.ID] = e
	}

	seen := make(map[string]bool, len(current.Entries))
	for _, cur := range current.Entries {
		seen[cur.ID] = true
		prev, known := prevByID[cur.ID]
		if !known {
			results = append(results, EntryDiff{Entry: cur, Classification: ClassAdded})
			continue
		}

		class, changedFields := d.classify(prev, cur)
		prevCopy := prev
		results = append(results, EntryDiff{Entry: cur, Previous: &prevCopy, Classification: class, ChangedFields: changedFields})
	}

	for id, prev := range prevByID {
		if !seen[id] {
			results = append(results, EntryDiff{Entry: prev, Classification: ClassDeleted})
		}
	}

	return results
}

// DiffStream runs Diff in streaming mode: entries are emitted one at a time
// on the returned channel, ceding the scheduler every ChunkSize items so
// latency stays bounded on very large manifests. The channel is closed when
// the diff completes or ctx is cancelled.
func (d *Differ) DiffStream(ctx context.Context, previous, current model.Manifest) <-chan EntryDiff {
	out := make(chan EntryDiff)

	go func() {
		defer close(out)

		diffs := d.Diff(previous, current)
		chunk := d.ChunkSize
		if chunk <= 0 {
			chunk = DefaultChunkSize
		}

		for i, entry := range diffs {
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
			if (i+1)%chunk == 0 {
				runtime.Gosched()
			}
		}
	}()

	return out
}
