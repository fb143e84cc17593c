// Package store implements the Persistent Store: a namespaced
// key-value-shaped store for delta states, checkpoints, manifest caches,
// conflicts, remembered resolutions, and per-source sync metadata.
package store

import (
	"context"
	"time"

	"github.com/hyperengineering/synccore/internal/model"
)

// Store defines the interface contract for all durable sync-core state.
// All writes are atomic per key; PutDeltaStateBatch is transactional across
// the delta_states collection.
type Store interface {
	// Delta states (collection: delta_states).
	GetDeltaState(ctx context.Context, source model.Source, entityID string) (*model.DeltaState, error)
	GetAllDeltaStates(ctx context.Context, source model.Source) ([]model.DeltaState, error)
	PutDeltaState(ctx context.Context, state model.DeltaState) error
	PutDeltaStateBatch(ctx context.Context, states []model.DeltaState) error
	DeleteDeltaState(ctx context.Context, source model.Source, entityID string) error
	ClearDeltaStates(ctx context.Context, source model.Source) error

	// Sync metadata (collection: sync_metadata).
	GetSyncMetadata(ctx context.Context, source model.Source) (*model.SyncMetadata, error)
	PutSyncMetadata(ctx context.Context, meta model.SyncMetadata) error
	GetLastSyncTime(ctx context.Context, source model.Source) (time.Time, error)
	SetLastSyncTime(ctx context.Context, source model.Source, t time.Time) error

	// Checkpoints (collection: checkpoints).
	GetCheckpoint(ctx context.Context, sessionID string) (*model.CheckpointRecord, error)
	PutCheckpoint(ctx context.Context, record model.CheckpointRecord) error
	DeleteCheckpoint(ctx context.Context, sessionID string) error
	ListIncompleteCheckpoints(ctx context.Context) ([]model.CheckpointRecord, error)
	ListCompleteCheckpoints(ctx context.Context) ([]model.CheckpointRecord, error)

	// Manifests (collection: manifests).
	GetCachedManifest(ctx context.Context, source model.Source) (*model.Manifest, error)
	PutCachedManifest(ctx context.Context, source model.Source, manifest model.Manifest) error

	// Conflicts.
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)
	PutConflict(ctx context.Context, c model.Conflict) error
	ListUnresolvedConflicts(ctx context.Context) ([]model.Conflict, error)

	// Remembered resolution choices.
	GetResolutionMemory(ctx context.Context, entityType model.EntityType, field string) (model.ResolutionStrategy, bool, error)
	PutResolutionMemory(ctx context.Context, entityType model.EntityType, field string, strategy model.ResolutionStrategy) error

	Close() error
}
