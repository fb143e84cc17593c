// Package delta implements the Delta Tracker: the per-source
// record of last-known hash, last-modified, and last-synced state for every
// entity, and the logic that turns a fresh manifest into adds/modifies/
// deletes against that record.
package delta

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/store"
)

// LocalModificationGrace absorbs clock resolution when comparing
// last_modified against last_synced.
const LocalModificationGrace = 1 * time.Second

// IntegrityStatus classifies the result of rehashing a tracked entity.
type IntegrityStatus string

const (
	IntegrityValid   IntegrityStatus = "valid"
	IntegrityInvalid IntegrityStatus = "invalid"
	IntegrityMissing IntegrityStatus = "missing"
)

// Diff is the result of detect_changes: the remote manifest partitioned
// against tracked state.
type Diff struct {
	Added     []model.ManifestEntry
	Modified  []model.ManifestEntry
	Deleted   []model.DeltaState
	Unchanged []model.ManifestEntry
}

// Tracker answers "what changed?" against the Store for one source.
type Tracker struct {
	store store.Store
}

// New creates a Tracker backed by the given Store.
func New(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// Changed reports whether a remote entry differs from tracked local state.
// Missing hashes fall back to timestamp comparison; a tie on timestamp with
// a matching hash is unchanged.
func Changed(local model.DeltaState, remote model.ManifestEntry) bool {
	if local.Hash != "" && remote.Hash != "" {
		return remote.Hash != local.Hash
	}
	return remote.LastModified.After(local.LastModified)
}

// HasLocalModifications reports whether state has been modified locally
// since its last sync, using the standard grace period.
func HasLocalModifications(state model.DeltaState) bool {
	return state.HasLocalModifications(LocalModificationGrace)
}

// DetectChanges partitions a remote manifest against tracked state for
// source into added/modified/deleted/unchanged, in O(n+m) using hash maps
// keyed by entity id.
func (t *Tracker) DetectChanges(ctx context.Context, source model.Source, manifest model.Manifest) (Diff, error) {
	tracked, err := t.store.GetAllDeltaStates(ctx, source)
	if err != nil {
		return Diff{}, fmt.Errorf("load tracked state for %s: %w", source, err)
	}

	byID := make(map[string]model.DeltaState, len(tracked))
	for _, state := range tracked {
		byID[state.EntityID] = state
	}

	seen := make(map[string]bool, len(manifest.Entries))
	var diff Diff

	for _, entry := range manifest.Entries {
		seen[entry.ID] = true
		local, known := byID[entry.ID]
		switch {
		case !known:
			diff.Added = append(diff.Added, entry)
		case Changed(local, entry):
			diff.Modified = append(diff.Modified, entry)
		default:
			diff.Unchanged = append(diff.Unchanged, entry)
		}
	}

	for id, state := range byID {
		if !seen[id] {
			diff.Deleted = append(diff.Deleted, state)
		}
	}

	return diff, nil
}

// RecordApply writes the post-apply tracking state for a change: hash,
// last_modified, and last_synced := now.
func (t *Tracker) RecordApply(ctx context.Context, change model.Change, now time.Time) error {
	var size *int64
	if existing, err := t.store.GetDeltaState(ctx, change.Source, change.EntityID); err == nil {
		size = existing.Size
	}

	return t.store.PutDeltaState(ctx, model.DeltaState{
		Source:       change.Source,
		EntityID:     change.EntityID,
		EntityType:   change.EntityType,
		Hash:         change.Hash,
		LastModified: change.Timestamp,
		LastSynced:   now,
		Size:         size,
	})
}

// RecordDelete removes tracking state for an entity deleted at the source.
func (t *Tracker) RecordDelete(ctx context.Context, source model.Source, entityID string) error {
	return t.store.DeleteDeltaState(ctx, source, entityID)
}

// Rehasher computes the current content hash for a tracked entity, or
// reports that the entity could not be found.
type Rehasher func(ctx context.Context, state model.DeltaState) (hash string, found bool, err error)

// IntegrityResult is one entity's rehash verdict.
type IntegrityResult struct {
	EntityID string
	Status   IntegrityStatus
}

// VerifyIntegrity rehashes every tracked entity for source and partitions
// the result into valid/invalid/missing.
func (t *Tracker) VerifyIntegrity(ctx context.Context, source model.Source, rehash Rehasher) ([]IntegrityResult, error) {
	states, err := t.store.GetAllDeltaStates(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load tracked state for integrity check: %w", err)
	}

	results := make([]IntegrityResult, 0, len(states))
	for _, state := range states {
		current, found, err := rehash(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("rehash %s: %w", state.EntityID, err)
		}

		status := IntegrityValid
		switch {
		case !found:
			status = IntegrityMissing
		case current != state.Hash:
			status = IntegrityInvalid
		}
		results = append(results, IntegrityResult{EntityID: state.EntityID, Status: status})
	}
	return results, nil
}
