package syncengine

import (
	"errors"
	"fmt"
)

// AdapterStage names the adapter operation that failed.
type AdapterStage string

const (
	StageConnect AdapterStage = "connect"
	StageDetect  AdapterStage = "detect"
	StageApply   AdapterStage = "apply"
	StageGet     AdapterStage = "get"
)

// AdapterError reports a failure at the source boundary. Recoverable
// unless Fatal is set by the adapter.
type AdapterError struct {
	Source string
	Stage  AdapterStage
	Fatal  bool
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// ExecutorReason names why a task-runner failure occurred. timeout and
// rate_limited are classed as retryable; cancelled is not. internal/executor
// does not build ExecutorError values: it retries every failed task up to
// MaxRetries, whatever the cause.
type ExecutorReason string

const (
	ReasonTimeout     ExecutorReason = "timeout"
	ReasonCancelled   ExecutorReason = "cancelled"
	ReasonRateLimited ExecutorReason = "rate_limited"
)

// ExecutorError wraps a task-runner failure with its retry classification.
type ExecutorError struct {
	TaskID string
	Reason ExecutorReason
	Err    error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor task %s: %s: %v", e.TaskID, e.Reason, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// Retryable reports whether the reason is classed as retryable (timeout or
// rate_limited).
func (e *ExecutorError) Retryable() bool {
	return e.Reason == ReasonTimeout || e.Reason == ReasonRateLimited
}

// ErrConflictUnresolved is not a failure per se; it marks a change that
// produced a conflict and was skipped pending resolution, surfacing in the
// session's pending-conflicts list rather than its errors vector.
var ErrConflictUnresolved = errors.New("conflict pending resolution")

// ProtocolError is an invariant violation inside the Engine:
// fatal, and carries enough detail to dump diagnostics.
type ProtocolError struct {
	Invariant string
	Detail    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation (%s): %s", e.Invariant, e.Detail)
}

// NewProtocolError constructs a ProtocolError.
func NewProtocolError(invariant, detail string) error {
	return &ProtocolError{Invariant: invariant, Detail: detail}
}
