// Package checkpoint implements the Checkpoint Manager: durable
// snapshots of in-progress session state sufficient to resume it, written
// periodically and reclaimed by age and count limits.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/store"
)

// Config controls checkpoint cadence and reclamation.
type Config struct {
	Interval       int // completions between checkpoint writes
	MaxAge         time.Duration
	MaxCheckpoints int
}

// Manager creates, updates, and reclaims checkpoints for sync sessions.
type Manager struct {
	store    store.Store
	cfg      Config
	archiver Archiver

	completionsSinceCheckpoint int
}

// New creates a Manager backed by the given Store and optional Archiver.
// Pass &NoopArchiver{} (or nil) to disable archival.
func New(s store.Store, cfg Config, archiver Archiver) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 50
	}
	return &Manager{store: s, cfg: cfg, archiver: archiver}
}

// Create writes a fresh, incomplete checkpoint for a session.
func (m *Manager) Create(ctx context.Context, cp model.Checkpoint) error {
	now := time.Now().UTC()
	return m.store.PutCheckpoint(ctx, model.CheckpointRecord{
		Checkpoint: cp,
		CreatedAt:  now,
		UpdatedAt:  now,
		Complete:   false,
	})
}

// RecordCompletion should be called after every applied change. It returns
// true if this completion crossed the configured Interval and the caller
// should call Update with fresh progress.
func (m *Manager) RecordCompletion() bool {
	m.completionsSinceCheckpoint++
	if m.completionsSinceCheckpoint >= m.cfg.Interval {
		m.completionsSinceCheckpoint = 0
		return true
	}
	return false
}

// Update overwrites the checkpoint for cp.SessionID with fresh progress.
// Writes are idempotent: repeated updates for the same session simply
// advance updated_at.
func (m *Manager) Update(ctx context.Context, cp model.Checkpoint) error {
	existing, err := m.store.GetCheckpoint(ctx, cp.SessionID)
	createdAt := time.Now().UTC()
	if err == nil {
		createdAt = existing.CreatedAt
	}

	return m.store.PutCheckpoint(ctx, model.CheckpointRecord{
		Checkpoint: cp,
		CreatedAt:  createdAt,
		UpdatedAt:  time.Now().UTC(),
		Complete:   false,
	})
}

// Complete marks a session's checkpoint complete and, if an Archiver is
// configured, pushes a copy to external storage.
func (m *Manager) Complete(ctx context.Context, sessionID string) error {
	existing, err := m.store.GetCheckpoint(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", sessionID, err)
	}

	existing.Complete = true
	existing.UpdatedAt = time.Now().UTC()
	if err := m.store.PutCheckpoint(ctx, *existing); err != nil {
		return fmt.Errorf("mark checkpoint %s complete: %w", sessionID, err)
	}

	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, sessionID, *existing); err != nil {
			return fmt.Errorf("archive checkpoint %s: %w", sessionID, err)
		}
	}
	return nil
}

// ResumeCandidate returns the most recently updated incomplete checkpoint,
// the discovery order used by resume_if_incomplete.
func (m *Manager) ResumeCandidate(ctx context.Context) (*model.CheckpointRecord, error) {
	incomplete, err := m.store.ListIncompleteCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incomplete checkpoints: %w", err)
	}
	if len(incomplete) == 0 {
		return nil, nil
	}
	return &incomplete[0], nil
}

// Reclaim deletes complete checkpoints older than MaxAge and trims the
// remainder to MaxCheckpoints, most-recent-first.
func (m *Manager) Reclaim(ctx context.Context) (int, error) {
	complete, err := m.store.ListCompleteCheckpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("list complete checkpoints: %w", err)
	}

	cutoff := time.Now().UTC().Add(-m.cfg.MaxAge)
	removed := 0

	kept := make([]model.CheckpointRecord, 0, len(complete))
	for _, record := range complete {
		if m.cfg.MaxAge > 0 && !record.UpdatedAt.After(cutoff) {
			if err := m.store.DeleteCheckpoint(ctx, record.Checkpoint.SessionID); err != nil {
				return removed, fmt.Errorf("delete expired checkpoint %s: %w", record.Checkpoint.SessionID, err)
			}
			removed++
			continue
		}
		kept = append(kept, record)
	}

	if m.cfg.MaxCheckpoints > 0 && len(kept) > m.cfg.MaxCheckpoints {
		for _, record := range kept[m.cfg.MaxCheckpoints:] {
			if err := m.store.DeleteCheckpoint(ctx, record.Checkpoint.SessionID); err != nil {
				return removed, fmt.Errorf("delete excess checkpoint %s: %w", record.Checkpoint.SessionID, err)
			}
			removed++
		}
	}

	return removed, nil
}
