package task

import "context"

// Advancer is implemented by every TaskCollection variant. It is the half
// of progress() (§4.5 point 4) that is specific to composites: giving a
// collection a chance to materialize new children or move to the next
// stage, and to recompute its own state from its children.
type Advancer interface {
	Task
	Children() []Task

	// ActiveChildren is the subset of Children the Engine should recurse
	// into this sweep. ParallelTaskCollection returns all of them;
	// Sequential/Staged/Chunked/Retryable return only the child (or
	// chunk) currently in play, which is what keeps later stages NEW
	// until their turn (§8 scenario 3).
	ActiveChildren() []Task

	// Advance runs after every active child has had its own chance to act
	// this sweep. It materializes the next stage/chunk/attempt when the
	// current one has terminated; it never submits or polls anything
	// itself, that happens through the Engine's normal leaf dispatch on
	// the next sweep.
	Advance(ctx context.Context) error

	// Derive recomputes this collection's own Run state from its
	// children's current states (§3.4); a resulting transition fires this
	// collection's own hook. A parent collection picks the change up in its
	// own Derive, which the Engine's depth-first walk runs afterwards.
	// Must run only after Advance.
	Derive()
}

// Collection is the shared base every TaskCollection variant embeds: child
// storage plus the aggregate helpers common to all of them. It does not by
// itself implement Advancer; each variant supplies Advance/Derive.
type Collection struct {
	BaseTask
	NoopHooks
	children []Task
}

// initCollection binds self, marks the Run derived-only, and records the
// initial children. Called by each variant's constructor.
func (c *Collection) initCollection(self Task, children []Task) {
	c.Init(self, NewDerivedRun())
	c.markDerivedOnly()
	c.children = children
	for _, ch := range children {
		ch.SetParentID(c.PersistentID())
	}
}

func (c *Collection) Children() []Task { return append([]Task(nil), c.children...) }

// ActiveChildren defaults to every child (ParallelTaskCollection's
// behavior); Sequential/Staged/Chunked/Retryable override it.
func (c *Collection) ActiveChildren() []Task { return c.Children() }

func (c *Collection) appendChild(t Task) {
	c.children = append(c.children, t)
	c.SetChanged(true)
}

// allTerminated reports whether every child is TERMINATED; vacuously true
// for zero children (§8 boundary: an empty ChunkedParameterSweep terminates
// immediately).
func allTerminated(children []Task) bool {
	for _, c := range children {
		if c.Run().State() != StateTerminated {
			return false
		}
	}
	return true
}

func anyActive(children []Task) bool {
	for _, c := range children {
		if c.Run().State().Active() {
			return true
		}
	}
	return false
}

func allZero(children []Task) bool {
	for _, c := range children {
		if !c.Run().ReturnCode.Zero() {
			return false
		}
	}
	return true
}

// deriveTo moves this collection's Run to target, stepping through
// whatever intermediate states the legal-transition diagram requires.
// Composites only ever occupy NEW, SUBMITTED, RUNNING or TERMINATED
// (§3.4's derived aggregates never themselves enter STOPPED/UNKNOWN), so a
// direct hop is tried first and a NEW->SUBMITTED->RUNNING style walk is the
// fallback.
func (c *Collection) deriveTo(target State) {
	cur := c.Run().State()
	if cur == target {
		return
	}
	if IsLegal(cur, target) {
		_ = c.Run().setDerived(target)
		return
	}
	for _, s := range derivePath(cur, target) {
		_ = c.Run().setDerived(s)
	}
}

var compositeOrder = []State{StateNew, StateSubmitted, StateRunning, StateTerminated}

func derivePath(from, to State) []State {
	fi, ti := indexOf(compositeOrder, from), indexOf(compositeOrder, to)
	if fi < 0 || ti < 0 || ti <= fi {
		return []State{to}
	}
	return compositeOrder[fi+1 : ti+1]
}

func indexOf(order []State, s State) int {
	for i, v := range order {
		if v == s {
			return i
		}
	}
	return -1
}

// lastNonZero returns the return code of the last child to terminate with
// a nonzero exit, or a zero ReturnCode if every child succeeded (or there
// are no children).
func lastNonZero(children []Task) ReturnCode {
	for i := len(children) - 1; i >= 0; i-- {
		if rc := children[i].Run().ReturnCode; !rc.Zero() {
			return rc
		}
	}
	return ExitCode(0)
}
