// Package model defines the entity, change, manifest, delta-state,
// conflict, session, and checkpoint types shared across the sync core.
package model

import (
	"encoding/json"
	"time"
)

// Source identifies which of the three data sources a record belongs to.
type Source string

const (
	SourceLibrary Source = "library"
	SourceServer  Source = "server"
	SourceFile    Source = "file"
)

// EntityType identifies the kind of syncable item.
type EntityType string

const (
	EntityBook      EntityType = "book"
	EntityProgress  EntityType = "progress"
	EntityHighlight EntityType = "highlight"
	EntityNote      EntityType = "note"
	EntityMetadata  EntityType = "metadata"
	EntityFile      EntityType = "file"
)

// Operation is the kind of mutation a Change represents.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationSync   Operation = "sync"
)

// Priority is the queuing tier assigned to a Change before it is submitted
// to the Parallel Executor.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// FieldChange is a single (field, old, new, timestamp) tuple carried by a
// Change that updates metadata.
type FieldChange struct {
	Field     string      `json:"field"`
	Old       interface{} `json:"old,omitempty"`
	New       interface{} `json:"new,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Change is a detected or planned mutation against one entity.
type Change struct {
	ID           string        `json:"id"`
	Source       Source        `json:"source"`
	EntityType   EntityType    `json:"entity_type"`
	EntityID     string        `json:"entity_id"`
	Operation    Operation     `json:"operation"`
	Timestamp    time.Time     `json:"timestamp"`
	Hash         string        `json:"hash,omitempty"`
	Data         interface{}   `json:"data,omitempty"`
	PreviousData interface{}   `json:"previous_data,omitempty"`
	FieldChanges []FieldChange `json:"field_changes,omitempty"`

	// Priority is assigned by the Sync Engine before queuing;
	// zero value means "not yet assigned".
	Priority Priority `json:"priority,omitempty"`
}

// Key returns the (source, entity_id) identity used for ordering and
// at-most-one-in-flight guarantees.
func (c Change) Key() EntityKey {
	return EntityKey{Source: c.Source, EntityID: c.EntityID}
}

// EntityKey is the stable (source, entity_id) identity of a syncable item.
type EntityKey struct {
	Source   Source
	EntityID string
}

// ManifestEntry is a single entity's identity+hash+timestamp snapshot.
type ManifestEntry struct {
	ID           string                 `json:"id"`
	Type         EntityType             `json:"type"`
	Hash         string                 `json:"hash,omitempty"`
	LastModified time.Time              `json:"last_modified"`
	Size         *int64                 `json:"size,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Manifest is a versioned snapshot of all entities visible at a source at a
// point in time.
type Manifest struct {
	Version     int             `json:"version"`
	GeneratedAt time.Time       `json:"generated_at"`
	Source      Source          `json:"source"`
	Entries     []ManifestEntry `json:"entries"`
	TotalCount  int             `json:"total_count"`
	TotalSize   int64           `json:"total_size"`
}

// MarshalJSON ensures a nil Entries slice marshals as [] not null.
func (m Manifest) MarshalJSON() ([]byte, error) {
	if m.Entries == nil {
		m.Entries = []ManifestEntry{}
	}
	type alias Manifest
	return json.Marshal(alias(m))
}

// DeltaState is the persisted per-entity record of last-known content
// identity and sync time.
type DeltaState struct {
	Source       Source     `json:"source"`
	EntityID     string     `json:"entity_id"`
	EntityType   EntityType `json:"entity_type"`
	Hash         string     `json:"hash,omitempty"`
	LastModified time.Time  `json:"last_modified"`
	LastSynced   time.Time  `json:"last_synced"`
	Size         *int64     `json:"size,omitempty"`
}

// Key returns the (source, entity_id) identity.
func (d DeltaState) Key() EntityKey {
	return EntityKey{Source: d.Source, EntityID: d.EntityID}
}

// HasLocalModifications reports whether the state has been modified locally
// since it was last synced (grace period absorbs clock resolution).
func (d DeltaState) HasLocalModifications(grace time.Duration) bool {
	return d.LastModified.After(d.LastSynced.Add(grace))
}

// ConflictKind classifies how a Conflict was detected.
type ConflictKind string

const (
	ConflictDeleteVsModify ConflictKind = "delete-vs-modify"
	ConflictCrossSource    ConflictKind = "cross-source"
	ConflictFieldLevel     ConflictKind = "field-level"
)

// ResolutionStrategy is a named policy mapping a conflict to a resolved
// value.
type ResolutionStrategy string

const (
	StrategyPreferLocal  ResolutionStrategy = "prefer-local"
	StrategyPreferRemote ResolutionStrategy = "prefer-remote"
	StrategyLastWriteWins ResolutionStrategy = "last-write-wins"
	StrategyMerge        ResolutionStrategy = "merge"
	StrategyAskUser      ResolutionStrategy = "ask-user"
)

// Conflict is a disagreement between a remote change and locally-tracked
// state on the same entity or field.
type Conflict struct {
	ID                 string             `json:"id"`
	Kind               ConflictKind       `json:"kind"`
	EntityType         EntityType         `json:"entity_type"`
	EntityID           string             `json:"entity_id"`
	Field              string             `json:"field,omitempty"`
	LocalChange        *Change            `json:"local_change,omitempty"`
	RemoteChange       *Change            `json:"remote_change,omitempty"`
	LocalValue         interface{}        `json:"local_value,omitempty"`
	RemoteValue        interface{}        `json:"remote_value,omitempty"`
	Resolved           bool               `json:"resolved"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
	ResolvedValue      interface{}        `json:"resolved_value,omitempty"`
	DetectedAt         time.Time          `json:"detected_at"`
}

// SyncMode is the kind of run requested of the Sync Engine.
type SyncMode string

const (
	ModeIncremental SyncMode = "incremental"
	ModeFull        SyncMode = "full"
	ModeCustom      SyncMode = "custom"
)

// SessionCounters tracks per-session progress counters.
type SessionCounters struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Session is one sync run.
type Session struct {
	ID             string          `json:"id"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Mode           SyncMode        `json:"mode"`
	Adapters       []Source        `json:"adapters"`
	Counters       SessionCounters `json:"counters"`
	Conflicts      []Conflict      `json:"conflicts,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	LastCheckpoint *time.Time      `json:"last_checkpoint,omitempty"`
}

// Checkpoint is a durable snapshot of a session's in-progress state
// sufficient to resume it.
type Checkpoint struct {
	SessionID          string               `json:"session_id"`
	Timestamp          time.Time            `json:"timestamp"`
	PendingChanges      []Change            `json:"pending_changes"`
	PendingConflicts    []Conflict          `json:"pending_conflicts"`
	AdapterProgress     map[Source]int      `json:"adapter_progress"`
	LastSyncTimestamp   map[Source]time.Time `json:"last_sync_timestamp"`
}

// CheckpointRecord wraps a Checkpoint with store-level bookkeeping.
type CheckpointRecord struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Complete   bool       `json:"complete"`
}

// SyncMetadata holds per-source bookkeeping.
type SyncMetadata struct {
	Source           Source    `json:"source"`
	LastSyncTime     time.Time `json:"last_sync_time"`
	LastManifestHash string    `json:"last_manifest_hash,omitempty"`
	TotalSyncedItems int64     `json:"total_synced_items"`
	LastError        string    `json:"last_error,omitempty"`
}

// ConflictCounters summarizes conflict outcomes for a SyncResult.
type ConflictCounters struct {
	Detected       int `json:"detected"`
	AutoResolved   int `json:"auto_resolved"`
	ManualRequired int `json:"manual_required"`
}

// SyncResult is returned from a completed (or interrupted) sync() call.
type SyncResult struct {
	Success    bool             `json:"success"`
	Total      int              `json:"total"`
	Processed  int              `json:"processed"`
	Succeeded  int              `json:"succeeded"`
	Skipped    int              `json:"skipped"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	Deleted    int              `json:"deleted"`
	Failed     int              `json:"failed"`
	Errors     []string         `json:"errors,omitempty"`
	Conflicts  ConflictCounters `json:"conflicts"`
	Duration   time.Duration    `json:"duration"`
	Checkpoint *Checkpoint      `json:"checkpoint,omitempty"`
}

// MarshalJSON ensures nil slices in SyncResult marshal as [] not null.
func (r SyncResult) MarshalJSON() ([]byte, error) {
	if r.Errors == nil {
		r.Errors = []string{}
	}
	type alias SyncResult
	return json.Marshal(alias(r))
}
