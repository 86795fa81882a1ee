// Package enginerun drives an Engine from inside a Temporal workflow: one
// workflow execution per top-level Task, repeatedly invoking a Tick
// activity that calls Engine.Progress and reports the Task's outcome
// (SPEC_FULL.md §4.14).
package enginerun

import "time"

const (
	WorkflowName = "gridforge_run"
	ActivityTick = "gridforge_tick"
	SignalResume = "gridforge_resume"
)

// TickResult is what one activity invocation reports back to the
// workflow loop: enough to decide whether to keep polling, sleep, wait for
// a resume signal, or return.
type TickResult struct {
	TaskID   string        `json:"task_id"`
	Status   string        `json:"status"` // new|submitted|running|stopped|unknown|terminating|succeeded|failed|canceled
	Info     string        `json:"info,omitempty"`
	NextPoll time.Duration `json:"next_poll,omitempty"`
}
