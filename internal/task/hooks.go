package task

// Hooks are the same-named methods §4.1 says fire when a Run enters a
// state ("entering each state fires a same-named method on the Task").
// NoopHooks supplies empty defaults. Application overrides Terminated with
// an empty body that host subclasses replace to inspect output and
// overwrite returncode. TaskCollection variants keep the NoopHooks
// defaults: they re-derive their own state and materialize new children
// in Advance/Derive instead.
type Hooks interface {
	New(r *Run)
	Submitted(r *Run)
	Running(r *Run)
	Stopped(r *Run)
	Terminating(r *Run)
	Terminated(r *Run)
	Unknown(r *Run)
}

// fire dispatches to the Hooks method matching s. Unexported: only Run's
// own transition machinery calls it, so a hook can never be invoked except
// as a side effect of a legal state change.
func fire(h Hooks, s State, r *Run) {
	switch s {
	case StateNew:
		h.New(r)
	case StateSubmitted:
		h.Submitted(r)
	case StateRunning:
		h.Running(r)
	case StateStopped:
		h.Stopped(r)
	case StateTerminating:
		h.Terminating(r)
	case StateTerminated:
		h.Terminated(r)
	case StateUnknown:
		h.Unknown(r)
	}
}

// NoopHooks implements Hooks with empty bodies; embed it in a concrete Task
// to get the default "do nothing on any state" behavior and override only
// the hooks you care about.
type NoopHooks struct{}

func (NoopHooks) New(*Run)         {}
func (NoopHooks) Submitted(*Run)   {}
func (NoopHooks) Running(*Run)     {}
func (NoopHooks) Stopped(*Run)     {}
func (NoopHooks) Terminating(*Run) {}
func (NoopHooks) Terminated(*Run)  {}
func (NoopHooks) Unknown(*Run)     {}
