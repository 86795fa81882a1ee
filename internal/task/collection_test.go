package task

import "testing"

// terminateWith drives ft through the legal path to TERMINATED and sets its
// final return code.
func terminateWith(t *testing.T, ft *fakeTask, rc ReturnCode) {
	t.Helper()
	r := ft.Run()
	for _, s := range []State{StateSubmitted, StateRunning, StateTerminating} {
		if err := r.SetState(s); err != nil {
			t.Fatalf("%s -> %s: %v", r.State(), s, err)
		}
	}
	r.ReturnCode = rc
	if err := r.SetState(StateTerminated); err != nil {
		t.Fatalf("-> TERMINATED: %v", err)
	}
}

func TestParallelCollectionTerminatesWhenAllChildrenDo(t *testing.T) {
	a, b := newFakeTask(), newFakeTask()
	p := NewParallelTaskCollection("job", []Task{a, b})
	p.Derive()
	if p.Run().State() == StateTerminated {
		t.Fatal("should not be terminated before any child runs")
	}
	terminateWith(t, a, ExitCode(0))
	p.Derive()
	if p.Run().State() != StateRunning {
		t.Errorf("state = %s, want RUNNING with one child still active", p.Run().State())
	}
	terminateWith(t, b, ExitCode(0))
	p.Derive()
	if p.Run().State() != StateTerminated {
		t.Fatalf("state = %s, want TERMINATED", p.Run().State())
	}
	if !p.Run().ReturnCode.Zero() {
		t.Error("return code should be zero when every child succeeded")
	}
}

func TestParallelCollectionPropagatesNonzeroExit(t *testing.T) {
	a, b := newFakeTask(), newFakeTask()
	p := NewParallelTaskCollection("job", []Task{a, b})
	terminateWith(t, a, ExitCode(0))
	terminateWith(t, b, ExitCode(1))
	p.Derive()
	if p.Run().ReturnCode.Zero() {
		t.Error("return code should be nonzero when a child failed")
	}
}

func TestParallelCollectionEmptyChildrenTerminatesImmediately(t *testing.T) {
	p := NewParallelTaskCollection("job", nil)
	p.Derive()
	if p.Run().State() != StateTerminated {
		t.Errorf("empty collection state = %s, want TERMINATED", p.Run().State())
	}
}

func TestSequentialCollectionAdvancesOneAtATime(t *testing.T) {
	a, b := newFakeTask(), newFakeTask()
	s := NewSequentialTaskCollection("job", []Task{a, b}, nil)
	if active := s.ActiveChildren(); len(active) != 1 || active[0] != Task(a) {
		t.Fatalf("ActiveChildren before advancing = %v, want [a]", active)
	}
	terminateWith(t, a, ExitCode(0))
	if err := s.Advance(nil); err != nil {
		t.Fatal(err)
	}
	if active := s.ActiveChildren(); len(active) != 1 || active[0] != Task(b) {
		t.Fatalf("ActiveChildren after a terminates = %v, want [b]", active)
	}
	if b.Run().State() != StateNew {
		t.Error("b should still be NEW until its own turn")
	}
	terminateWith(t, b, ExitCode(0))
	if err := s.Advance(nil); err != nil {
		t.Fatal(err)
	}
	s.Derive()
	if s.Run().State() != StateTerminated {
		t.Errorf("state = %s, want TERMINATED", s.Run().State())
	}
}

func TestStagedCollectionMaterializesLazily(t *testing.T) {
	made := []Task{newFakeTask(), newFakeTask()}
	calls := 0
	st := NewStagedTaskCollection("job", func(n int) (Task, bool) {
		if n >= len(made) {
			return nil, false
		}
		calls++
		return made[n], true
	})
	if calls != 1 {
		t.Fatalf("constructor should materialize only stage 0, got %d calls", calls)
	}
	first := made[0].(*fakeTask)
	terminateWith(t, first, ExitCode(0))
	if err := st.Advance(nil); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("stage 1 should materialize only after stage 0 terminates, got %d calls", calls)
	}
	second := made[1].(*fakeTask)
	terminateWith(t, second, ExitCode(0))
	if err := st.Advance(nil); err != nil {
		t.Fatal(err)
	}
	st.Derive()
	if st.Run().State() != StateTerminated {
		t.Errorf("state = %s, want TERMINATED", st.Run().State())
	}
}

func TestChunkedParameterSweepBuildsChunksOfSize(t *testing.T) {
	var built []int
	newTask := func(param int) Task {
		built = append(built, param)
		return newFakeTask()
	}
	c := NewChunkedParameterSweep("job", 0, 5, 1, 2, newTask)
	if len(built) != 2 {
		t.Fatalf("first chunk should contain 2 params, got %v", built)
	}
	for _, ch := range c.ActiveChildren() {
		terminateWith(t, ch.(*fakeTask), ExitCode(0))
	}
	if err := c.Advance(nil); err != nil {
		t.Fatal(err)
	}
	if len(built) != 4 {
		t.Fatalf("second chunk should bring total params to 4, got %v", built)
	}
}

func TestChunkedParameterSweepEmptyRangeTerminatesImmediately(t *testing.T) {
	c := NewChunkedParameterSweep("job", 5, 5, 1, 2, func(int) Task { return newFakeTask() })
	c.Derive()
	if c.Run().State() != StateTerminated {
		t.Errorf("empty-range sweep state = %s, want TERMINATED", c.Run().State())
	}
}

func TestRetryableTaskResubmitsOnFailureUpToMax(t *testing.T) {
	child := newFakeTask()
	r := NewRetryableTask("job", child, 2, nil)
	terminateWith(t, child, ExitCode(1))
	if err := r.Advance(nil); err != nil {
		t.Fatal(err)
	}
	if child.Run().State() != StateNew {
		t.Fatalf("child should be resubmitted (NEW) after a failing attempt, got %s", child.Run().State())
	}

	terminateWith(t, child, ExitCode(1))
	if err := r.Advance(nil); err != nil {
		t.Fatal(err)
	}
	if child.Run().State() != StateNew {
		t.Fatalf("child should be resubmitted for its second retry, got %s", child.Run().State())
	}

	terminateWith(t, child, ExitCode(1))
	if err := r.Advance(nil); err != nil {
		t.Fatal(err)
	}
	if child.Run().State() != StateTerminated {
		t.Fatalf("after exhausting max_retries the final failure should be accepted, got %s", child.Run().State())
	}
	r.Derive()
	if r.Run().State() != StateTerminated {
		t.Errorf("RetryableTask state = %s, want TERMINATED", r.Run().State())
	}
	if r.Run().ReturnCode.Zero() {
		t.Error("accepted failure should surface as a nonzero return code")
	}
}

func TestRetryableTaskAcceptsFirstSuccess(t *testing.T) {
	child := newFakeTask()
	r := NewRetryableTask("job", child, 3, nil)
	terminateWith(t, child, ExitCode(0))
	if err := r.Advance(nil); err != nil {
		t.Fatal(err)
	}
	if child.Run().State() != StateTerminated {
		t.Errorf("a successful attempt should not be retried, state = %s", child.Run().State())
	}
	r.Derive()
	if !r.Run().ReturnCode.Zero() {
		t.Error("accepted success should surface a zero return code")
	}
}
