package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/synccore/internal/model"
)

// storeVersion is the on-disk store generation this build expects. Open
// records it alongside the process lock so a newer build can tell it is
// being kept out by an older process rather than just racing on busy_timeout.
const storeVersion = 1

// SQLiteStore is the SQLite-backed implementation of Store, using
// modernc.org/sqlite (pure Go, no cgo) with WAL journaling.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open creates or opens a SQLite-backed store at dbPath, enabling WAL mode
// and applying all pending migrations. A sidecar lock file guards against a
// newer build opening the same store while an older-versioned process still
// holds it, returning ErrBlocked instead of racing on SQLite's own locking.
func Open(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	var lock *flock.Flock
	if dbPath != ":memory:" {
		var err error
		lock, err = acquireVersionLock(dbPath)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, lock: lock}, nil
}

// acquireVersionLock takes an exclusive, non-blocking lock on dbPath's
// sidecar lock file and stamps it with storeVersion. If another process
// already holds it, a holder running an older storeVersion surfaces
// ErrBlocked rather than leaving the caller to block indefinitely on
// SQLite's own file locking.
func acquireVersionLock(dbPath string) (*flock.Flock, error) {
	lock := flock.New(dbPath + ".lock")

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if ok {
		if err := os.WriteFile(lock.Path(), []byte(strconv.Itoa(storeVersion)), 0644); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("write store lock version: %w", err)
		}
		return lock, nil
	}

	holderVersion, _ := readLockVersion(lock.Path())
	if storeVersion > holderVersion {
		return nil, ErrBlocked
	}
	return nil, fmt.Errorf("store at %s is already open by another process", dbPath)
}

func readLockVersion(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

// Close closes the underlying database connection and releases the store's
// version lock, if one was taken.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// --- delta_states ---

func (s *SQLiteStore) GetDeltaState(ctx context.Context, source model.Source, entityID string) (*model.DeltaState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, entity_id, entity_type, hash, last_modified, last_synced, size
		FROM delta_states WHERE source = ? AND entity_id = ?`, source, entityID)

	state, err := scanDeltaState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewCorruptError(fmt.Sprintf("%s/%s", source, entityID), err)
	}
	return state, nil
}

func (s *SQLiteStore) GetAllDeltaStates(ctx context.Context, source model.Source) ([]model.DeltaState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, entity_id, entity_type, hash, last_modified, last_synced, size
		FROM delta_states WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("query delta states: %w", err)
	}
	defer rows.Close()

	var out []model.DeltaState
	for rows.Next() {
		state, err := scanDeltaState(rows)
		if err != nil {
			return nil, NewCorruptError(string(source), err)
		}
		out = append(out, *state)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeltaState(row rowScanner) (*model.DeltaState, error) {
	var d model.DeltaState
	var lastModified, lastSynced string
	var size sql.NullInt64

	if err := row.Scan(&d.Source, &d.EntityID, &d.EntityType, &d.Hash, &lastModified, &lastSynced, &size); err != nil {
		return nil, err
	}

	var err error
	if d.LastModified, err = parseTime(lastModified); err != nil {
		return nil, err
	}
	if d.LastSynced, err = parseTime(lastSynced); err != nil {
		return nil, err
	}
	if size.Valid {
		d.Size = &size.Int64
	}
	return &d, nil
}

func (s *SQLiteStore) PutDeltaState(ctx context.Context, state model.DeltaState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delta_states (source, entity_id, entity_type, hash, last_modified, last_synced, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			hash = excluded.hash,
			last_modified = excluded.last_modified,
			last_synced = excluded.last_synced,
			size = excluded.size`,
		state.Source, state.EntityID, state.EntityType, state.Hash,
		timeStr(state.LastModified), timeStr(state.LastSynced), state.Size)
	if err != nil {
		return fmt.Errorf("put delta state: %w", err)
	}
	return nil
}

// PutDeltaStateBatch writes all states transactionally: either every state
// is persisted or none are.
func (s *SQLiteStore) PutDeltaStateBatch(ctx context.Context, states []model.DeltaState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO delta_states (source, entity_id, entity_type, hash, last_modified, last_synced, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			hash = excluded.hash,
			last_modified = excluded.last_modified,
			last_synced = excluded.last_synced,
			size = excluded.size`)
	if err != nil {
		return fmt.Errorf("prepare batch statement: %w", err)
	}
	defer stmt.Close()

	for _, state := range states {
		if _, err := stmt.ExecContext(ctx, state.Source, state.EntityID, state.EntityType, state.Hash,
			timeStr(state.LastModified), timeStr(state.LastSynced), state.Size); err != nil {
			return fmt.Errorf("batch put %s/%s: %w", state.Source, state.EntityID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteDeltaState(ctx context.Context, source model.Source, entityID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delta_states WHERE source = ? AND entity_id = ?`, source, entityID)
	if err != nil {
		return fmt.Errorf("delete delta state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearDeltaStates(ctx context.Context, source model.Source) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delta_states WHERE source = ?`, source)
	if err != nil {
		return fmt.Errorf("clear delta states: %w", err)
	}
	return nil
}

// --- sync_metadata ---

func (s *SQLiteStore) GetSyncMetadata(ctx context.Context, source model.Source) (*model.SyncMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, last_sync_time, last_manifest_hash, total_synced_items, last_error
		FROM sync_metadata WHERE source = ?`, source)

	var m model.SyncMetadata
	var lastSync string
	if err := row.Scan(&m.Source, &lastSync, &m.LastManifestHash, &m.TotalSyncedItems, &m.LastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, NewCorruptError(string(source), err)
	}

	var err error
	if m.LastSyncTime, err = parseTime(lastSync); err != nil {
		return nil, NewCorruptError(string(source), err)
	}
	return &m, nil
}

func (s *SQLiteStore) PutSyncMetadata(ctx context.Context, meta model.SyncMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (source, last_sync_time, last_manifest_hash, total_synced_items, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			last_sync_time = excluded.last_sync_time,
			last_manifest_hash = excluded.last_manifest_hash,
			total_synced_items = excluded.total_synced_items,
			last_error = excluded.last_error`,
		meta.Source, timeStr(meta.LastSyncTime), meta.LastManifestHash, meta.TotalSyncedItems, meta.LastError)
	if err != nil {
		return fmt.Errorf("put sync metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLastSyncTime(ctx context.Context, source model.Source) (time.Time, error) {
	meta, err := s.GetSyncMetadata(ctx, source)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return meta.LastSyncTime, nil
}

func (s *SQLiteStore) SetLastSyncTime(ctx context.Context, source model.Source, t time.Time) error {
	meta, err := s.GetSyncMetadata(ctx, source)
	if errors.Is(err, ErrNotFound) {
		meta = &model.SyncMetadata{Source: source}
	} else if err != nil {
		return err
	}
	meta.LastSyncTime = t
	return s.PutSyncMetadata(ctx, *meta)
}

// --- checkpoints ---

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, sessionID string) (*model.CheckpointRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, complete, created_at, updated_at FROM checkpoints WHERE session_id = ?`, sessionID)

	var payload string
	var complete int
	var createdAt, updatedAt string
	if err := row.Scan(&payload, &complete, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, NewCorruptError(sessionID, err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, NewCorruptError(sessionID, err)
	}

	record := &model.CheckpointRecord{Checkpoint: cp, Complete: complete != 0}
	var err error
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, NewCorruptError(sessionID, err)
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, NewCorruptError(sessionID, err)
	}
	return record, nil
}

// PutCheckpoint is idempotent: a repeated write for the same session_id
// overwrites the prior record's payload, completion flag and updated_at,
// while created_at keeps its first value.
func (s *SQLiteStore) PutCheckpoint(ctx context.Context, record model.CheckpointRecord) error {
	payload, err := json.Marshal(record.Checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	complete := 0
	if record.Complete {
		complete = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, payload, complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			payload = excluded.payload,
			complete = excluded.complete,
			updated_at = excluded.updated_at`,
		record.Checkpoint.SessionID, string(payload), complete, timeStr(record.CreatedAt), timeStr(record.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListIncompleteCheckpoints(ctx context.Context) ([]model.CheckpointRecord, error) {
	return s.listCheckpoints(ctx, 0)
}

func (s *SQLiteStore) ListCompleteCheckpoints(ctx context.Context) ([]model.CheckpointRecord, error) {
	return s.listCheckpoints(ctx, 1)
}

// listCheckpoints returns checkpoints ordered most-recent-first, matching
// resume's discovery order.
func (s *SQLiteStore) listCheckpoints(ctx context.Context, complete int) ([]model.CheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload, complete, created_at, updated_at FROM checkpoints
		WHERE complete = ? ORDER BY updated_at DESC`, complete)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []model.CheckpointRecord
	for rows.Next() {
		var payload string
		var comp int
		var createdAt, updatedAt string
		if err := rows.Scan(&payload, &comp, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}

		var cp model.Checkpoint
		if err := json.Unmarshal([]byte(payload), &cp); err != nil {
			return nil, NewCorruptError(cp.SessionID, err)
		}

		record := model.CheckpointRecord{Checkpoint: cp, Complete: comp != 0}
		if record.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// --- manifests ---

func (s *SQLiteStore) GetCachedManifest(ctx context.Context, source model.Source) (*model.Manifest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM manifests WHERE source = ?`, source)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, NewCorruptError(string(source), err)
	}

	var m model.Manifest
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, NewCorruptError(string(source), err)
	}
	return &m, nil
}

func (s *SQLiteStore) PutCachedManifest(ctx context.Context, source model.Source, manifest model.Manifest) error {
	payload, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manifests (source, payload, generated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET payload = excluded.payload, generated_at = excluded.generated_at`,
		source, string(payload), timeStr(manifest.GeneratedAt))
	if err != nil {
		return fmt.Errorf("put cached manifest: %w", err)
	}
	return nil
}

// --- conflicts ---

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM conflicts WHERE id = ?`, id)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, NewCorruptError(id, err)
	}

	var c model.Conflict
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, NewCorruptError(id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) PutConflict(ctx context.Context, c model.Conflict) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}

	resolved := 0
	if c.Resolved {
		resolved = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, entity_type, entity_id, field, payload, resolved, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			payload = excluded.payload,
			resolved = excluded.resolved`,
		c.ID, c.EntityType, c.EntityID, c.Field, string(payload), resolved, timeStr(c.DetectedAt))
	if err != nil {
		return fmt.Errorf("put conflict: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUnresolvedConflicts(ctx context.Context) ([]model.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM conflicts WHERE resolved = 0 ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		var c model.Conflict
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, NewCorruptError(c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- resolution_memory ---

func (s *SQLiteStore) GetResolutionMemory(ctx context.Context, entityType model.EntityType, field string) (model.ResolutionStrategy, bool, error) {
	if field == "" {
		field = "*"
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT strategy FROM resolution_memory WHERE entity_type = ? AND field = ?`, entityType, field)

	var strategy string
	if err := row.Scan(&strategy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get resolution memory: %w", err)
	}
	return model.ResolutionStrategy(strategy), true, nil
}

func (s *SQLiteStore) PutResolutionMemory(ctx context.Context, entityType model.EntityType, field string, strategy model.ResolutionStrategy) error {
	if field == "" {
		field = "*"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolution_memory (entity_type, field, strategy)
		VALUES (?, ?, ?)
		ON CONFLICT (entity_type, field) DO UPDATE SET strategy = excluded.strategy`,
		entityType, field, string(strategy))
	if err != nil {
		return fmt.Errorf("put resolution memory: %w", err)
	}
	return nil
}
