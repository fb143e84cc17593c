// Package adapter defines the Adapter contract: the external
// collaborator interface through which the core talks to a book-metadata
// library, a remote annotation server, or a local note/highlight file tree,
// plus the registry the Sync Engine uses to enumerate them.
package adapter

import (
	"context"
	"time"

	"github.com/hyperengineering/synccore/internal/model"
)

// Capabilities describes what an adapter supports, so the Engine and
// Executor can make scheduling decisions without a type switch.
type Capabilities struct {
	IncrementalSync  bool
	BatchOperations  bool
	ContentHashing   bool
	Resumable        bool
	Bidirectional    bool
	ParallelRequests bool
	MaxConcurrency   int
	EntityTypes      []model.EntityType
}

// Stats reports adapter-side bookkeeping.
type Stats struct {
	TotalEntities  int
	LastSyncAt     time.Time
	TotalSize      int64
	PendingChanges int
	ErrorCount     int
}

// Pagination limits a get_manifest call to a page of entities.
type Pagination struct {
	Cursor   string
	PageSize int
}

// Adapter is the contract every source integration implements.
type Adapter interface {
	Type() model.Source
	Name() string
	Capabilities() Capabilities

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context) (bool, error)

	// DetectChanges returns changes since the given time (zero value means
	// "from the beginning"), optionally filtered to entityTypes.
	DetectChanges(ctx context.Context, since time.Time, entityTypes []model.EntityType) ([]model.Change, error)

	GetManifest(ctx context.Context, entityTypes []model.EntityType, page Pagination) (model.Manifest, error)

	// CompareManifest diffs the adapter's current state against a
	// caller-supplied set of local entries, without requiring a full
	// GetManifest round trip.
	CompareManifest(ctx context.Context, localEntries []model.ManifestEntry) ([]model.Change, error)

	GetEntity(ctx context.Context, entityType model.EntityType, id string) (interface{}, error)
	GetEntities(ctx context.Context, entityType model.EntityType, ids []string) (map[string]interface{}, error)

	// ApplyChange applies one change at the source. ApplyChanges is the bulk
	// form; BaseAdapter supplies a default that applies sequentially,
	// whatever the adapter's BatchOperations capability reports.
	ApplyChange(ctx context.Context, change model.Change) error
	ApplyChanges(ctx context.Context, changes []model.Change) error

	GetStats(ctx context.Context) (Stats, error)
}

// BaseAdapter provides a default sequential ApplyChanges so concrete
// adapters only need to implement ApplyChange, mirroring the registry
// pattern's fallback-to-generic-plugin shape.
type BaseAdapter struct {
	Apply func(ctx context.Context, change model.Change) error
}

// ApplyChanges applies every change sequentially via Apply, collecting
// (not aborting on) per-change errors.
func (b BaseAdapter) ApplyChanges(ctx context.Context, changes []model.Change) error {
	var firstErr error
	for _, c := range changes {
		if err := b.Apply(ctx, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
