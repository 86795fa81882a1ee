package task

import (
	"fmt"
	"time"

	"github.com/gridforge/gridforge/internal/griderr"
)

// ReturnCode is the (signal, exitcode) pair of §3.2; either half may be
// absent until TERMINATED.
type ReturnCode struct {
	Signal   *int `json:"signal,omitempty"`
	ExitCode *int `json:"exit_code,omitempty"`
}

// Zero reports whether both halves are present and indicate success.
func (rc ReturnCode) Zero() bool {
	return rc.ExitCode != nil && *rc.ExitCode == 0 && (rc.Signal == nil || *rc.Signal == 0)
}

func (rc ReturnCode) String() string {
	sig, code := -1, -1
	if rc.Signal != nil {
		sig = *rc.Signal
	}
	if rc.ExitCode != nil {
		code = *rc.ExitCode
	}
	return fmt.Sprintf("signal=%d exitcode=%d", sig, code)
}

func ExitCode(code int) ReturnCode {
	return ReturnCode{ExitCode: &code}
}

// HistoryEntry is one append-only log line of a Run's history (§3.2).
type HistoryEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Run is the mutable execution record attached to exactly one Task
// (§3.2). owner is bound once at construction (see BaseTask.Init) and
// is never serialized: it exists only so SetState can fire the owning
// Task's lifecycle hook and mark it changed without every caller having to
// pass the Task back in.
type Run struct {
	StateVal     State                `json:"state"`
	ReturnCode   ReturnCode           `json:"returncode"`
	BackendJobID string               `json:"backend_job_id,omitempty"`
	BackendName  string               `json:"backend_name,omitempty"`
	Info         string               `json:"info,omitempty"`
	HistoryLog   []HistoryEntry       `json:"history"`
	Timestamps   map[State]time.Time  `json:"timestamps"`

	derivedOnly bool
	owner       Task
}

// NewRun creates a Run in state NEW with its creation timestamp recorded.
func NewRun() *Run {
	now := time.Now()
	return &Run{
		StateVal:   StateNew,
		Timestamps: map[State]time.Time{StateNew: now},
		HistoryLog: []HistoryEntry{{At: now, Message: "created"}},
	}
}

// NewDerivedRun is used by TaskCollection constructors: its state can never
// be set directly, only recomputed by the collection's own derive logic
// (§3.4's "a collection's own state is derived, not set directly").
func NewDerivedRun() *Run {
	r := NewRun()
	r.derivedOnly = true
	return r
}

// bind attaches the owning Task so later SetState calls can fire hooks and
// mark it changed. Called once by BaseTask.Init.
func (r *Run) bind(owner Task) { r.owner = owner }

func (r *Run) State() State { return r.StateVal }

// Owner returns the Task this Run is attached to, or nil before Init has
// bound one. Exposed (beyond internal hook dispatch) so a Hooks
// implementation can read the owning Task's identity without each
// concrete Task having to thread it through separately.
func (r *Run) Owner() Task { return r.owner }

// SetState validates and performs from -> to, firing the owner's lifecycle
// hook on success. Rejected on a derived (TaskCollection) Run: external
// code must never write a collection's state directly.
func (r *Run) SetState(to State) error {
	if r.derivedOnly {
		return griderr.ErrDirectStateWrite
	}
	return r.transition(to)
}

// setDerived bypasses the derivedOnly guard. Unexported: only this
// package's TaskCollection implementations may call it, from their own
// derive() methods, which is exactly the "derived, not settable externally"
// invariant expressed as a visibility boundary rather than a runtime flag
// alone.
func (r *Run) setDerived(to State) error {
	return r.transition(to)
}

func (r *Run) transition(to State) error {
	if err := ValidateTransition(r.StateVal, to); err != nil {
		return err
	}
	now := time.Now()
	r.StateVal = to
	if _, ok := r.Timestamps[to]; !ok {
		r.Timestamps[to] = now
	}
	r.HistoryLog = append(r.HistoryLog, HistoryEntry{At: now, Message: "-> " + string(to)})
	if r.owner != nil {
		r.owner.SetChanged(true)
		fire(r.owner, to, r)
	}
	return nil
}
