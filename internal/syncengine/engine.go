// Package syncengine implements the Sync Engine: the
// orchestrator that runs a session through detect → plan → execute →
// resolve → complete, coordinating the Adapter Registry, Delta Tracker,
// Conflict Resolver, Parallel Executor, and Checkpoint Manager.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/synccore/internal/adapter"
	"github.com/hyperengineering/synccore/internal/checkpoint"
	"github.com/hyperengineering/synccore/internal/conflict"
	"github.com/hyperengineering/synccore/internal/delta"
	"github.com/hyperengineering/synccore/internal/executor"
	"github.com/hyperengineering/synccore/internal/hasher"
	manifestdiff "github.com/hyperengineering/synccore/internal/manifest"
	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/ratelimit"
	"github.com/hyperengineering/synccore/internal/store"
)

// Config controls the components the Engine wires together.
type Config struct {
	Executor                executor.Config
	Checkpoint              checkpoint.Config
	DefaultConflictStrategy model.ResolutionStrategy
	FieldPolicies           map[string]conflict.FieldPolicy
}

// Engine runs sync sessions against the registered adapters.
type Engine struct {
	store    store.Store
	registry *adapter.Registry
	tracker  *delta.Tracker
	limiter  ratelimit.Limiter
	archiver checkpoint.Archiver
	hasher   *hasher.Hasher
	cfg      Config

	checkpointMgr *checkpoint.Manager
	bus           *eventBus

	mu          sync.Mutex
	state       State
	session     *model.Session
	resolver    *conflict.Resolver
	pending     []model.Change
	conflicts   []model.Conflict
	runningExec *executor.Executor
	cancelRun   context.CancelFunc
}

// New creates an Engine. limiter and archiver may be nil/NoopArchiver to
// disable rate limiting and checkpoint archival respectively.
func New(s store.Store, registry *adapter.Registry, limiter ratelimit.Limiter, archiver checkpoint.Archiver, cfg Config) *Engine {
	if archiver == nil {
		archiver = &checkpoint.NoopArchiver{}
	}
	return &Engine{
		store:         s,
		registry:      registry,
		tracker:       delta.New(s),
		limiter:       limiter,
		archiver:      archiver,
		hasher:        hasher.New(),
		cfg:           cfg,
		checkpointMgr: checkpoint.New(s, cfg.Checkpoint, archiver),
		bus:           newEventBus(),
		state:         StateIdle,
	}
}

// RegisterAdapter adds an adapter to the registry. Safe to call
// before Initialize; adapters registered after Initialize take effect on
// the next sync().
func (e *Engine) RegisterAdapter(a adapter.Adapter) {
	e.registry.Register(a)
}

// On registers a listener for an event kind and returns an unsubscribe
// handle.
func (e *Engine) On(kind EventKind, l Listener) Unsubscribe {
	return e.bus.On(kind, l)
}

// Initialize connects every registered adapter and builds the Conflict
// Resolver over the full set of registered sources. Idempotent.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range e.registry.All() {
		if err := a.Connect(ctx); err != nil {
			slog.Error("adapter connect failed",
				"component", "synccore", "phase", "initialize",
				"source", string(a.Type()), "error", err.Error())
			return &AdapterError{Source: string(a.Type()), Stage: StageConnect, Err: err}
		}
	}

	e.resolver = conflict.New(e.store, e.registry.Sources(), e.cfg.DefaultConflictStrategy)
	for field, policy := range e.cfg.FieldPolicies {
		e.resolver.SetFieldPolicy(field, policy)
	}

	slog.Info("engine initialized",
		"component", "synccore", "phase", "initialize",
		"adapters", len(e.registry.All()))
	return nil
}

// FullSync runs a sync covering every tracked entity regardless of last
// sync time.
func (e *Engine) FullSync(ctx context.Context) (model.SyncResult, error) {
	return e.Sync(ctx, SyncOptions{Mode: model.ModeFull})
}

// IncrementalSync runs a sync limited to changes since the given time. A
// zero since is passed through unchanged and means "from the beginning";
// the sources' last recorded sync times are not consulted.
func (e *Engine) IncrementalSync(ctx context.Context, since time.Time) (model.SyncResult, error) {
	return e.Sync(ctx, SyncOptions{Mode: model.ModeIncremental, Since: since})
}

// Sync runs one full pass of the session state machine:
// idle → initializing → detecting-changes → syncing → (resolving-conflicts)?
// → completing → idle.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (model.SyncResult, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return model.SyncResult{}, NewProtocolError("single-session", fmt.Sprintf("sync requested while engine is %s", e.state))
	}
	if e.resolver == nil {
		e.mu.Unlock()
		return model.SyncResult{}, NewProtocolError("initialize-before-sync", "Initialize must be called before Sync")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	session := &model.Session{
		ID:        ulid.Make().String(),
		StartedAt: time.Now().UTC(),
		Mode:      opts.Mode,
		Adapters:  e.registry.Sources(),
	}
	e.session = session
	e.transitionLocked(StateInitializing)
	e.mu.Unlock()

	defer cancel()

	e.emit(StartEvent{SessionID: session.ID, Mode: opts.Mode})
	slog.Info("sync session started",
		"component", "synccore", "phase", "start",
		"session_id", session.ID, "mode", string(opts.Mode))

	result, err := e.runSession(runCtx, session, opts)

	e.mu.Lock()
	if err != nil {
		e.transitionLocked(StateError)
		e.emit(ErrorEvent{SessionID: session.ID, Err: err, Fatal: true})
	}
	e.transitionLocked(StateIdle)
	e.runningExec = nil
	e.cancelRun = nil
	e.mu.Unlock()

	return result, err
}

func (e *Engine) runSession(ctx context.Context, session *model.Session, opts SyncOptions) (model.SyncResult, error) {
	e.setState(StateDetectingChanges)

	changes, err := e.detectChanges(ctx, opts)
	if err != nil {
		return model.SyncResult{}, err
	}

	e.mu.Lock()
	e.pending = changes
	session.Counters.Total = len(changes)
	e.mu.Unlock()

	e.setState(StateSyncing)

	result, runErr := e.executeChanges(ctx, session, changes)
	if runErr != nil {
		if checkpointErr := e.writeResumeCheckpoint(ctx, session); checkpointErr != nil {
			slog.Error("failed to write resume checkpoint after fatal error",
				"component", "synccore", "session_id", session.ID, "error", checkpointErr.Error())
		}
		return result, runErr
	}

	e.mu.Lock()
	unresolved := append([]model.Conflict(nil), e.conflicts...)
	e.mu.Unlock()

	if len(unresolved) > 0 {
		e.setState(StateResolvingConflicts)
		resolved, resolveErr := e.resolver.BatchResolve(ctx, unresolved)
		if resolveErr != nil {
			return result, resolveErr
		}
		e.mu.Lock()
		e.conflicts = nil
		e.mu.Unlock()

		for _, c := range resolved {
			if c.Resolved {
				if err := e.applyResolvedConflict(ctx, session, c); err != nil {
					slog.Error("failed to apply resolved conflict",
						"component", "synccore", "session_id", session.ID,
						"conflict_id", c.ID, "error", err.Error())
					result.Failed++
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				result.Conflicts.AutoResolved++
				e.emit(ConflictResolvedEvent{Conflict: c})
			} else {
				result.Conflicts.ManualRequired++
				e.mu.Lock()
				e.conflicts = append(e.conflicts, c)
				e.mu.Unlock()
			}
		}
	}

	e.setState(StateCompleting)
	if err := e.checkpointMgr.Complete(ctx, session.ID); err != nil {
		slog.Warn("checkpoint completion failed",
			"component", "synccore", "session_id", session.ID, "error", err.Error())
	}

	now := time.Now().UTC()
	session.CompletedAt = &now
	result.Success = result.Failed == 0
	result.Duration = now.Sub(session.StartedAt)
	e.emit(CompleteEvent{Result: result})
	slog.Info("sync session completed",
		"component", "synccore", "phase", "complete",
		"session_id", session.ID, "processed", result.Processed, "failed", result.Failed)

	return result, nil
}

// detectChanges fetches changes from every registered adapter, preferring
// DetectChanges for adapters that support incremental sync and falling
// back to a manifest comparison via the Delta Tracker otherwise.
func (e *Engine) detectChanges(ctx context.Context, opts SyncOptions) ([]model.Change, error) {
	sources := opts.Sources
	if len(sources) == 0 {
		sources = e.registry.Sources()
	}

	var all []model.Change
	for _, src := range sources {
		a, ok := e.registry.Get(src)
		if !ok {
			continue
		}

		var changes []model.Change
		var err error
		if opts.Mode == model.ModeIncremental && a.Capabilities().IncrementalSync {
			changes, err = a.DetectChanges(ctx, opts.Since, opts.EntityTypes)
		} else {
			changes, err = e.detectViaManifest(ctx, a, opts)
		}
		if err != nil {
			return nil, &AdapterError{Source: string(src), Stage: StageDetect, Err: err}
		}

		for i := range changes {
			if changes[i].ID == "" {
				changes[i].ID = ulid.Make().String()
			}
			changes[i].Source = src
			// Adapters without content_hashing capability may report a
			// change with Data but no Hash; the Hasher fills the gap so
			// every stored delta state still carries a canonical digest.
			if changes[i].Hash == "" && changes[i].Data != nil {
				changes[i].Hash = e.hasher.Hash(changes[i].Data)
			}
			changes[i].Priority = priorityFor(changes[i])
			e.emit(ChangeDetectedEvent{Change: changes[i]})
		}
		all = append(all, changes...)
	}
	return all, nil
}

func (e *Engine) detectViaManifest(ctx context.Context, a adapter.Adapter, opts SyncOptions) ([]model.Change, error) {
	fetched, err := a.GetManifest(ctx, opts.EntityTypes, adapter.Pagination{})
	if err != nil {
		return nil, err
	}

	// Cheap short-circuit: if the cached manifest from the last run is
	// byte-for-byte identical in hash/timestamp/size terms, skip the
	// per-entity Delta Tracker pass entirely.
	if cached, cerr := e.store.GetCachedManifest(ctx, a.Type()); cerr == nil && cached != nil {
		if allUnchanged(manifestdiff.New().Diff(*cached, fetched)) {
			if err := e.store.PutCachedManifest(ctx, a.Type(), fetched); err != nil {
				return nil, fmt.Errorf("cache manifest: %w", err)
			}
			return nil, nil
		}
	}

	if err := e.store.PutCachedManifest(ctx, a.Type(), fetched); err != nil {
		return nil, fmt.Errorf("cache manifest: %w", err)
	}

	diff, err := e.tracker.DetectChanges(ctx, a.Type(), fetched)
	if err != nil {
		return nil, err
	}
	return diffToChanges(a.Type(), diff), nil
}

func allUnchanged(diffs []manifestdiff.EntryDiff) bool {
	for _, d := range diffs {
		if d.Classification != manifestdiff.ClassUnchanged {
			return false
		}
	}
	return true
}

func diffToChanges(source model.Source, diff delta.Diff) []model.Change {
	changes := make([]model.Change, 0, len(diff.Added)+len(diff.Modified)+len(diff.Deleted))
	for _, entry := range diff.Added {
		changes = append(changes, changeFromEntry(source, model.OperationCreate, entry))
	}
	for _, entry := range diff.Modified {
		changes = append(changes, changeFromEntry(source, model.OperationUpdate, entry))
	}
	for _, state := range diff.Deleted {
		changes = append(changes, model.Change{
			Source:     source,
			EntityType: state.EntityType,
			EntityID:   state.EntityID,
			Operation:  model.OperationDelete,
			Timestamp:  time.Now().UTC(),
			Hash:       state.Hash,
		})
	}
	return changes
}

func changeFromEntry(source model.Source, op model.Operation, entry model.ManifestEntry) model.Change {
	return model.Change{
		Source:     source,
		EntityType: entry.Type,
		EntityID:   entry.ID,
		Operation:  op,
		Timestamp:  entry.LastModified,
		Hash:       entry.Hash,
	}
}

// executeChanges submits every change to a Parallel Executor and runs the
// per-change apply pipeline: detect conflict → skip on
// conflict; else apply, record delta state, and count.
func (e *Engine) executeChanges(ctx context.Context, session *model.Session, changes []model.Change) (model.SyncResult, error) {
	exec := executor.New(e.cfg.Executor, e.limiter)
	e.mu.Lock()
	e.runningExec = exec
	e.mu.Unlock()

	var mu sync.Mutex
	result := model.SyncResult{Total: len(changes)}

	exec.OnProgress(func(p executor.Progress) {
		e.emit(ProgressEvent{Progress: SyncProgress{
			SessionID:  session.ID,
			Status:     StateSyncing,
			Phase:      "syncing",
			Total:      p.Total,
			Processed:  p.Completed + p.Failed,
			Percentage: p.Percentage,
		}})
	})

	stop, done := exec.Start(ctx)
	for _, c := range changes {
		change := c
		if err := exec.Submit(ctx, executor.Task{
			ID:       string(change.Source) + "/" + change.EntityID,
			Priority: change.Priority,
			Run: func(taskCtx context.Context) (interface{}, error) {
				return nil, e.applyOne(taskCtx, session, &mu, &result, change)
			},
		}); err != nil {
			stop()
			<-done
			return result, err
		}
	}

	waitErr := exec.WaitIdle(ctx)
	stop()
	<-done

	if waitErr != nil {
		return result, fmt.Errorf("wait for executor idle: %w", waitErr)
	}
	return result, nil
}

func (e *Engine) applyOne(ctx context.Context, session *model.Session, mu *sync.Mutex, result *model.SyncResult, change model.Change) error {
	conflicts, err := e.resolver.Detect(ctx, change)
	if err != nil {
		return fmt.Errorf("detect conflict for %s/%s: %w", change.Source, change.EntityID, err)
	}
	if len(conflicts) > 0 {
		mu.Lock()
		result.Conflicts.Detected += len(conflicts)
		result.Skipped++
		session.Counters.Skipped++
		mu.Unlock()

		e.mu.Lock()
		e.conflicts = append(e.conflicts, conflicts...)
		e.mu.Unlock()

		for _, c := range conflicts {
			if err := e.store.PutConflict(ctx, c); err != nil {
				slog.Warn("failed to persist conflict",
					"component", "synccore", "session_id", session.ID, "error", err.Error())
			}
			e.emit(ConflictDetectedEvent{Conflict: c})
		}
		return nil
	}

	if err := e.applyToOtherSources(ctx, change); err != nil {
		e.emit(ErrorEvent{SessionID: session.ID, Err: err, Fatal: false})
		mu.Lock()
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		mu.Unlock()
		return &AdapterError{Source: string(change.Source), Stage: StageApply, Err: err}
	}

	now := time.Now().UTC()
	if err := e.tracker.RecordApply(ctx, change, now); err != nil {
		return fmt.Errorf("record delta state: %w", err)
	}

	mu.Lock()
	result.Processed++
	result.Succeeded++
	switch change.Operation {
	case model.OperationCreate:
		result.Created++
	case model.OperationUpdate:
		result.Updated++
	case model.OperationDelete:
		result.Deleted++
	}
	session.Counters.Processed++
	mu.Unlock()

	e.emit(ChangeAppliedEvent{Change: change})

	if e.checkpointMgr.RecordCompletion() {
		if err := e.writeResumeCheckpoint(ctx, session); err != nil {
			slog.Warn("periodic checkpoint write failed",
				"component", "synccore", "session_id", session.ID, "error", err.Error())
		} else {
			e.emit(CheckpointEvent{SessionID: session.ID, Complete: false})
		}
	}

	return nil
}

// applyToOtherSources propagates a change detected at change.Source to
// every other registered adapter and records delta state for each,
// keeping all sources converged on the same content.
func (e *Engine) applyToOtherSources(ctx context.Context, change model.Change) error {
	var firstErr error
	now := time.Now().UTC()

	for _, src := range e.registry.Sources() {
		if src == change.Source {
			continue
		}
		target, ok := e.registry.Get(src)
		if !ok {
			continue
		}

		targetChange := change
		targetChange.Source = src
		if err := target.ApplyChange(ctx, targetChange); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("apply to %s: %w", src, err)
			}
			continue
		}
		if err := e.tracker.RecordApply(ctx, targetChange, now); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("record delta state for %s: %w", src, err)
		}
	}
	return firstErr
}

// applyResolvedConflict completes the apply pipeline for a conflict that
// BatchResolve marked Resolved: it folds ResolvedValue into the change
// that triggered the conflict, applies the result to every other source,
// and records the new delta state. Without this, a resolved conflict's
// underlying change stays skipped forever and the next sync() re-detects
// the same divergence under a new conflict id.
func (e *Engine) applyResolvedConflict(ctx context.Context, session *model.Session, c model.Conflict) error {
	if c.RemoteChange == nil {
		return nil
	}

	resolved := *c.RemoteChange
	switch {
	case c.Field != "":
		data, _ := resolved.Data.(map[string]interface{})
		merged := make(map[string]interface{}, len(data)+1)
		for k, v := range data {
			merged[k] = v
		}
		merged[c.Field] = c.ResolvedValue
		resolved.Data = merged
		resolved.Hash = e.hasher.Hash(resolved.Data)
	case c.ResolvedValue != nil:
		resolved.Data = c.ResolvedValue
		resolved.Hash = e.hasher.Hash(resolved.Data)
	}

	if err := e.applyToOtherSources(ctx, resolved); err != nil {
		return fmt.Errorf("apply resolved conflict for %s/%s: %w", resolved.Source, resolved.EntityID, err)
	}
	if err := e.tracker.RecordApply(ctx, resolved, time.Now().UTC()); err != nil {
		return fmt.Errorf("record delta state for resolved conflict %s/%s: %w", resolved.Source, resolved.EntityID, err)
	}

	session.Counters.Processed++
	return nil
}

func (e *Engine) writeResumeCheckpoint(ctx context.Context, session *model.Session) error {
	e.mu.Lock()
	pending := append([]model.Change(nil), e.pending...)
	pendingConflicts := append([]model.Conflict(nil), e.conflicts...)
	e.mu.Unlock()

	cp := model.Checkpoint{
		SessionID:         session.ID,
		Timestamp:         time.Now().UTC(),
		PendingChanges:    pending,
		PendingConflicts:  pendingConflicts,
		AdapterProgress:   map[model.Source]int{},
		LastSyncTimestamp: map[model.Source]time.Time{},
	}
	return e.checkpointMgr.Update(ctx, cp)
}

// ResumeIfIncomplete rehydrates the most recently updated incomplete
// checkpoint, if any, and re-enters syncing with its pending work.
func (e *Engine) ResumeIfIncomplete(ctx context.Context) (model.SyncResult, bool, error) {
	record, err := e.checkpointMgr.ResumeCandidate(ctx)
	if err != nil {
		return model.SyncResult{}, false, err
	}
	if record == nil {
		return model.SyncResult{}, false, nil
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return model.SyncResult{}, false, NewProtocolError("single-session", "resume requested while engine is busy")
	}
	e.pending = record.Checkpoint.PendingChanges
	e.conflicts = record.Checkpoint.PendingConflicts
	e.mu.Unlock()

	session := &model.Session{
		ID:        record.Checkpoint.SessionID,
		StartedAt: record.CreatedAt,
		Mode:      model.ModeCustom,
		Adapters:  e.registry.Sources(),
	}

	e.mu.Lock()
	e.session = session
	e.transitionLocked(StateSyncing)
	e.mu.Unlock()

	result, err := e.executeChanges(ctx, session, record.Checkpoint.PendingChanges)

	e.mu.Lock()
	if err == nil {
		e.transitionLocked(StateCompleting)
	} else {
		e.transitionLocked(StateError)
	}
	e.transitionLocked(StateIdle)
	e.mu.Unlock()

	if err == nil {
		if cerr := e.checkpointMgr.Complete(ctx, session.ID); cerr != nil {
			slog.Warn("checkpoint completion after resume failed",
				"component", "synccore", "session_id", session.ID, "error", cerr.Error())
		}
	}

	return result, true, err
}

// Pause halts scheduling of new work in the current session; in-flight
// applies continue to completion.
func (e *Engine) Pause() {
	e.mu.Lock()
	exec := e.runningExec
	session := e.session
	e.transitionLocked(StatePaused)
	e.mu.Unlock()

	if exec != nil {
		exec.Pause()
	}
	if session != nil {
		e.emit(PauseEvent{SessionID: session.ID})
	}
}

// Resume continues a paused session.
func (e *Engine) Resume() {
	e.mu.Lock()
	exec := e.runningExec
	session := e.session
	e.transitionLocked(StateSyncing)
	e.mu.Unlock()

	if exec != nil {
		exec.Resume()
	}
	if session != nil {
		e.emit(ResumeEvent{SessionID: session.ID})
	}
}

// Cancel aborts the current session and returns the engine to idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	exec := e.runningExec
	cancel := e.cancelRun
	session := e.session
	e.mu.Unlock()

	if exec != nil {
		exec.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	if session != nil {
		e.emit(CancelEvent{SessionID: session.ID})
	}
}

// GetStatus returns the Engine's current state.
func (e *Engine) GetStatus() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GetCurrentSession returns the in-progress session, if any.
func (e *Engine) GetCurrentSession() (model.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return model.Session{}, false
	}
	return *e.session, true
}

// GetPendingChanges returns the changes queued for the current session.
func (e *Engine) GetPendingChanges() []model.Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Change(nil), e.pending...)
}

// GetUnresolvedConflicts returns conflicts awaiting resolution.
func (e *Engine) GetUnresolvedConflicts() []model.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Conflict(nil), e.conflicts...)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.transitionLocked(s)
	e.mu.Unlock()
}

func (e *Engine) transitionLocked(to State) {
	if !canTransition(e.state, to) {
		slog.Warn("unexpected state transition",
			"component", "synccore", "from", string(e.state), "to", string(to))
	}
	e.state = to
}

func (e *Engine) emit(ev Event) {
	if err := e.bus.Emit(ev); err != nil {
		slog.Warn("event listener error",
			"component", "synccore", "event", string(ev.Kind()), "error", err.Error())
	}
}
