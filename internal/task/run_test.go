package task

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/persist"
)

// fakeTask is the minimal concrete Task this package's own tests need to
// drive Run.SetState through BaseTask's hook-dispatch plumbing.
type fakeTask struct {
	BaseTask
	NoopHooks
	terminatedCalls int
}

func newFakeTask() *fakeTask {
	f := &fakeTask{}
	f.BaseTask.Init(f, nil)
	return f
}

func (f *fakeTask) TypeTag() string { return "fakeTask" }
func (f *fakeTask) EncodeBody(record func(persist.Persistable) (persist.ID, error)) (json.RawMessage, error) {
	return json.Marshal(struct{}{})
}
func (f *fakeTask) DecodeBody(data json.RawMessage, resolve func(persist.ID) (persist.Persistable, error)) error {
	return nil
}
func (f *fakeTask) Terminated(r *Run) { f.terminatedCalls++ }

func TestRunSetStateLegalSequence(t *testing.T) {
	ft := newFakeTask()
	r := ft.Run()
	if r.State() != StateNew {
		t.Fatalf("new Run state = %s, want NEW", r.State())
	}
	if err := r.SetState(StateSubmitted); err != nil {
		t.Fatalf("NEW -> SUBMITTED: %v", err)
	}
	if err := r.SetState(StateRunning); err != nil {
		t.Fatalf("SUBMITTED -> RUNNING: %v", err)
	}
	if err := r.SetState(StateTerminating); err != nil {
		t.Fatalf("RUNNING -> TERMINATING: %v", err)
	}
	if err := r.SetState(StateTerminated); err != nil {
		t.Fatalf("TERMINATING -> TERMINATED: %v", err)
	}
	if ft.terminatedCalls != 1 {
		t.Errorf("Terminated hook fired %d times, want 1", ft.terminatedCalls)
	}
	if !ft.Changed() {
		t.Error("owning task should be marked changed after a transition")
	}
}

func TestRunSetStateRejectsIllegalTransition(t *testing.T) {
	ft := newFakeTask()
	r := ft.Run()
	err := r.SetState(StateRunning)
	if err == nil {
		t.Fatal("expected NEW -> RUNNING to be rejected")
	}
	if !errors.Is(err, griderr.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if r.State() != StateNew {
		t.Errorf("state should be unchanged after a rejected transition, got %s", r.State())
	}
}

func TestRunSetStateRejectedOnDerivedRun(t *testing.T) {
	ft := &fakeTask{}
	ft.BaseTask.Init(ft, NewDerivedRun())
	if err := ft.Run().SetState(StateSubmitted); !errors.Is(err, griderr.ErrDirectStateWrite) {
		t.Fatalf("expected ErrDirectStateWrite, got %v", err)
	}
}

func TestRunTimestampsRecordedOnce(t *testing.T) {
	ft := newFakeTask()
	r := ft.Run()
	_ = r.SetState(StateSubmitted)
	first := r.Timestamps[StateSubmitted]
	_ = r.SetState(StateRunning)
	_ = r.SetState(StateStopped)
	_ = r.SetState(StateSubmitted) // resume, re-enters SUBMITTED
	if r.Timestamps[StateSubmitted] != first {
		t.Error("re-entering a state should not overwrite its first timestamp")
	}
}

func TestReturnCodeZero(t *testing.T) {
	if !ExitCode(0).Zero() {
		t.Error("exit code 0 with no signal should be Zero")
	}
	if ExitCode(1).Zero() {
		t.Error("exit code 1 should not be Zero")
	}
	var rc ReturnCode
	if rc.Zero() {
		t.Error("a ReturnCode with no exit code set should not be Zero")
	}
}
