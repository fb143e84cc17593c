package syncengine

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/hyperengineering/synccore/internal/model"
)

// EventKind is the closed set of events the Engine emits.
type EventKind string

const (
	EventStart             EventKind = "start"
	EventProgress          EventKind = "progress"
	EventChangeDetected    EventKind = "change-detected"
	EventChangeApplied     EventKind = "change-applied"
	EventConflictDetected  EventKind = "conflict-detected"
	EventConflictResolved  EventKind = "conflict-resolved"
	EventCheckpoint        EventKind = "checkpoint"
	EventError             EventKind = "error"
	EventComplete          EventKind = "complete"
	EventCancel            EventKind = "cancel"
	EventPause             EventKind = "pause"
	EventResume            EventKind = "resume"
)

// Event is implemented by one struct per EventKind.
type Event interface {
	Kind() EventKind
}

// StartEvent fires when a session begins.
type StartEvent struct {
	SessionID string
	Mode      model.SyncMode
}

func (StartEvent) Kind() EventKind { return EventStart }

// ProgressEvent carries a SyncProgress snapshot.
type ProgressEvent struct {
	Progress SyncProgress
}

func (ProgressEvent) Kind() EventKind { return EventProgress }

// ChangeDetectedEvent fires once per change found during detection.
type ChangeDetectedEvent struct {
	Change model.Change
}

func (ChangeDetectedEvent) Kind() EventKind { return EventChangeDetected }

// ChangeAppliedEvent fires after a change is successfully applied.
type ChangeAppliedEvent struct {
	Change model.Change
}

func (ChangeAppliedEvent) Kind() EventKind { return EventChangeApplied }

// ConflictDetectedEvent fires when the Conflict Resolver records a new
// conflict.
type ConflictDetectedEvent struct {
	Conflict model.Conflict
}

func (ConflictDetectedEvent) Kind() EventKind { return EventConflictDetected }

// ConflictResolvedEvent fires once a pending conflict receives a
// resolution.
type ConflictResolvedEvent struct {
	Conflict model.Conflict
}

func (ConflictResolvedEvent) Kind() EventKind { return EventConflictResolved }

// CheckpointEvent fires after a checkpoint write.
type CheckpointEvent struct {
	SessionID string
	Complete  bool
}

func (CheckpointEvent) Kind() EventKind { return EventCheckpoint }

// ErrorEvent fires on any error recorded against the session, fatal or
// not.
type ErrorEvent struct {
	SessionID string
	Err       error
	Fatal     bool
}

func (ErrorEvent) Kind() EventKind { return EventError }

// CompleteEvent fires when a session reaches its terminal success state.
type CompleteEvent struct {
	Result model.SyncResult
}

func (CompleteEvent) Kind() EventKind { return EventComplete }

// CancelEvent fires when a session is cancelled.
type CancelEvent struct {
	SessionID string
}

func (CancelEvent) Kind() EventKind { return EventCancel }

// PauseEvent fires when a session is paused.
type PauseEvent struct {
	SessionID string
}

func (PauseEvent) Kind() EventKind { return EventPause }

// ResumeEvent fires when a paused session resumes.
type ResumeEvent struct {
	SessionID string
}

func (ResumeEvent) Kind() EventKind { return EventResume }

// Listener receives events of one kind.
type Listener func(Event)

// Unsubscribe removes a previously registered listener.
type Unsubscribe func()

// eventBus dispatches events to kind-scoped listeners. A panicking or
// error-returning listener never prevents the remaining listeners for the
// same event from running.
type eventBus struct {
	mu        sync.Mutex
	listeners map[EventKind]map[int]Listener
	nextID    int
}

func newEventBus() *eventBus {
	return &eventBus{listeners: make(map[EventKind]map[int]Listener)}
}

// On registers a listener for kind and returns a handle to remove it.
func (b *eventBus) On(kind EventKind, l Listener) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners[kind] == nil {
		b.listeners[kind] = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[kind][id] = l

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[kind], id)
	}
}

// Emit dispatches ev to every listener registered for its kind, isolating
// each listener's panic or error so one bad listener cannot silence the
// rest.
// Aggregated listener failures are returned via multierr for the caller to
// log; they never propagate as a session-fatal error.
func (b *eventBus) Emit(ev Event) error {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners[ev.Kind()]))
	for _, l := range b.listeners[ev.Kind()] {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	var errs error
	for _, l := range listeners {
		errs = multierr.Append(errs, safeInvoke(l, ev))
	}
	return errs
}

func safeInvoke(l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event listener panicked on %s: %v", ev.Kind(), r)
		}
	}()
	l(ev)
	return nil
}
