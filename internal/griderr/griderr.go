// Package griderr formalizes the error taxonomy of §7: the Scheduler, Core
// and Engine classify failures by errors.Is/errors.As against these
// sentinels and the BackendError wrapper, never by matching error strings.
package griderr

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotReady means the Backend cannot accept the submission
	// right now (queue full, quota exhausted) but may later.
	ErrResourceNotReady = errors.New("backend: resource not ready")
	// ErrAuthError means the Backend's credentials are invalid or expired.
	ErrAuthError = errors.New("backend: authentication error")
	// ErrUnrecoverable means the Backend rejected the task permanently.
	ErrUnrecoverable = errors.New("backend: unrecoverable error")
	// ErrTransient means a network/protocol glitch; the caller should
	// retry with backoff and may set the task's run state to UNKNOWN.
	ErrTransient = errors.New("backend: transient error")
	// ErrDataStaging means copying inputs/outputs failed.
	ErrDataStaging = errors.New("backend: data staging error")
	// ErrNotAvailable means a peek() was attempted before the stream exists.
	ErrNotAvailable = errors.New("backend: stream not available yet")

	// ErrNotFound is returned by a Store when a referenced persistent id
	// does not exist.
	ErrNotFound = errors.New("store: object not found")
	// ErrInvalidArgument flags user errors raised synchronously at
	// construction (e.g. an absolute path in Application.outputs).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTransition flags an illegal Run state transition.
	ErrInvalidTransition = errors.New("run: invalid state transition")
	// ErrDirectStateWrite flags an attempt to set a TaskCollection's state
	// directly; collection state is always derived from children.
	ErrDirectStateWrite = errors.New("task: collection state is derived, not settable")
)

// BackendError wraps an error that originated in a specific Backend,
// carrying the Backend name and error kind for the Engine to log. The
// Scheduler does not read it: a Backend that returned one is ranked on the
// next sweep by its Capabilities like any other.
type BackendError struct {
	Backend string
	Kind    error // one of the sentinels above
	Err     error
}

func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("backend %q: %v: %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("backend %q: %v", e.Backend, e.Kind)
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Err != nil {
		return fmt.Errorf("%w", e.Kind)
	}
	return e.Kind
}

// Is lets errors.Is(err, griderr.ErrTransient) succeed against a
// *BackendError whose Kind is ErrTransient, without unwrapping losing Kind.
func (e *BackendError) Is(target error) bool {
	if e == nil {
		return false
	}
	return errors.Is(e.Kind, target)
}

func NewBackendError(backend string, kind error, err error) *BackendError {
	return &BackendError{Backend: backend, Kind: kind, Err: err}
}

// Recoverable reports whether err indicates the Scheduler should retry
// this Task (possibly against another Backend) rather than terminate it.
func Recoverable(err error) bool {
	switch {
	case errors.Is(err, ErrResourceNotReady),
		errors.Is(err, ErrAuthError),
		errors.Is(err, ErrTransient),
		errors.Is(err, ErrDataStaging):
		return true
	default:
		return false
	}
}
