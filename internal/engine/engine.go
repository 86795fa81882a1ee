// Package engine implements the cooperative scheduler of spec.md §4.5: a
// single-threaded Engine that repeatedly calls Progress, driving every
// managed Task through its state machine subject to concurrency caps, and
// committing whatever changed to a Store at the end of each sweep.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/core"
	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/store"
	"github.com/gridforge/gridforge/internal/task"
	"github.com/gridforge/gridforge/internal/tracing"
)

// Config bounds one Engine's concurrency and polling behavior (§4.5).
type Config struct {
	MaxInFlight  int // cap on SUBMITTED+RUNNING at once; 0 means unbounded
	MaxSubmitted int // cap on SUBMITTED alone; 0 means unbounded
	AutoFree     bool
	PollInterval time.Duration // steady-state RUNNING poll cadence
	MaxBackoff   time.Duration // ceiling for UNKNOWN exponential backoff

	// OnCommit, if set, is called once per Progress sweep with every Task
	// persisted in that sweep (after Changed() is read, before it is
	// cleared). Lets a host publish lifecycle notifications from a single
	// place instead of wiring task.Hooks into every concrete Task type.
	OnCommit func([]task.Task)

	// SessionDir, if set, is used to expand an about-to-submit Task's
	// output_dir template (PATH/NAME/DATE/TIME/SESSION placeholders) via
	// outputDirResolver, right before Core.Submit is called.
	SessionDir string
}

// outputDirResolver is implemented by Application; matched structurally so
// this package need not import internal/application.
type outputDirResolver interface {
	ResolveOutputDir(sessionDir string, at time.Time)
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	return c
}

type pollState struct {
	next    time.Time
	backoff time.Duration
}

// Engine is the component named in spec.md §4.5. It owns no goroutines: the
// host program calls Progress in its own loop.
type Engine struct {
	id    string
	core  *core.Core
	store store.Store
	log   *gridlog.Logger
	cfg   Config

	topLevel []task.Task
	poll     map[persist.ID]*pollState
}

func New(id string, c *core.Core, st store.Store, log *gridlog.Logger, cfg Config) *Engine {
	if log == nil {
		log = gridlog.Nop()
	}
	return &Engine{
		id: id, core: c, store: st, log: log, cfg: cfg.withDefaults(),
		poll: make(map[persist.ID]*pollState),
	}
}

// Add attaches t to this Engine and registers it for future sweeps. Order
// of Add calls is the insertion order §4.5's ordering guarantee refers to.
func (e *Engine) Add(t task.Task) {
	t.Attach(e.id)
	e.topLevel = append(e.topLevel, t)
}

// Kill records a cancellation request; the actual Backend.Cancel call
// happens on this Task's turn in the next Progress sweep (§4.5
// "Cancellation").
func (e *Engine) Kill(t task.Task) {
	t.RequestCancel()
}

// Lookup returns the top-level Task registered under id, if any. Used by
// the Temporal activity (internal/temporalx/enginerun) to recover the Task
// a workflow execution was started for, since a workflow only carries the
// id across its own restarts, never a live pointer.
func (e *Engine) Lookup(id persist.ID) (task.Task, bool) {
	for _, t := range e.topLevel {
		if t.PersistentID() == id {
			return t, true
		}
	}
	return nil, false
}

// PollInterval exposes the steady-state polling cadence so a caller driving
// this Engine from outside (the Temporal workflow's sleep-between-ticks
// loop) can size its own wait without duplicating Config's defaulting.
func (e *Engine) PollInterval() time.Duration {
	return e.cfg.PollInterval
}

// Progress performs one sweep: submit/poll/fetch/free at most once per
// Task, honoring max_in_flight/max_submitted, recurse into TaskCollections
// depth-first so children act before their collection's Advance/Derive,
// then persist everything that changed.
func (e *Engine) Progress(ctx context.Context) error {
	ctx, span := tracing.StartProgress(ctx, e.id)

	inFlight, submitted := 0, 0
	for _, t := range e.topLevel {
		if t.Attached() {
			e.walk(ctx, t, &inFlight, &submitted)
		}
	}
	err := e.commit(ctx)
	tracing.End(span, err)
	return err
}

// walk processes t depth-first: collections recurse into ActiveChildren
// first (§4.5 point 4, §8 scenario 3's "later stages stay NEW until their
// turn"), then call Advance/Derive; leaves submit/poll/fetch/free directly.
func (e *Engine) walk(ctx context.Context, t task.Task, inFlight, submitted *int) {
	if adv, ok := t.(task.Advancer); ok {
		for _, child := range adv.ActiveChildren() {
			e.walk(ctx, child, inFlight, submitted)
		}
		if err := adv.Advance(ctx); err != nil {
			e.log.Error("engine: advance failed", "task", t.PersistentID(), "err", err)
		}
		adv.Derive()
		return
	}
	sub, ok := t.(backend.Submittable)
	if !ok {
		e.log.Warn("engine: leaf task is not Submittable, skipping", "task", t.PersistentID(), "type", t.TypeTag())
		return
	}
	e.advanceLeaf(ctx, t, sub, inFlight, submitted)
}

func (e *Engine) advanceLeaf(ctx context.Context, t task.Task, sub backend.Submittable, inFlight, submitted *int) {
	r := t.Run()
	switch r.State() {
	case task.StateNew:
		e.advanceNew(ctx, t, sub, inFlight, submitted)
	case task.StateSubmitted:
		e.advanceActive(ctx, t, sub)
		if r.State().Active() {
			*inFlight++
		}
		if r.State() == task.StateSubmitted {
			*submitted++
		}
	case task.StateRunning, task.StateStopped:
		e.advanceActive(ctx, t, sub)
		if r.State().Active() {
			*inFlight++
		}
	case task.StateUnknown:
		e.advanceUnknown(ctx, t, sub)
		if r.State().Active() {
			*inFlight++
		}
	case task.StateTerminating:
		e.advanceTerminating(ctx, t, sub)
	case task.StateTerminated:
		if e.cfg.AutoFree {
			if err := e.core.Free(ctx, sub); err != nil {
				e.log.Warn("engine: free failed", "task", t.PersistentID(), "err", err)
			}
		}
	}
}

func (e *Engine) advanceNew(ctx context.Context, t task.Task, sub backend.Submittable, inFlight, submitted *int) {
	r := t.Run()
	if t.CancelRequested() {
		_ = r.SetState(task.StateTerminated)
		return
	}
	if e.cfg.MaxInFlight > 0 && *inFlight >= e.cfg.MaxInFlight {
		return
	}
	if e.cfg.MaxSubmitted > 0 && *submitted >= e.cfg.MaxSubmitted {
		return
	}
	if e.cfg.SessionDir != "" {
		if resolver, ok := sub.(outputDirResolver); ok {
			resolver.ResolveOutputDir(e.cfg.SessionDir, time.Now())
		}
	}
	if err := e.core.Submit(ctx, sub); err != nil {
		if griderr.Recoverable(err) {
			e.log.Debug("engine: submit deferred, will retry next sweep", "task", t.PersistentID(), "err", err)
			return
		}
		r.Info = err.Error()
		_ = r.SetState(task.StateTerminated)
		e.log.Warn("engine: submit failed unrecoverably", "task", t.PersistentID(), "err", err)
		return
	}
	*inFlight++
	*submitted++
}

func (e *Engine) advanceActive(ctx context.Context, t task.Task, sub backend.Submittable) {
	r := t.Run()
	if t.CancelRequested() {
		if err := e.core.Kill(ctx, sub); err != nil {
			e.log.Warn("engine: cancel failed", "task", t.PersistentID(), "err", err)
		}
		return
	}
	if !e.duePoll(t.PersistentID()) {
		return
	}
	if err := e.core.UpdateJobState(ctx, sub); err != nil {
		e.handlePollError(t, err)
		return
	}
	e.resetPoll(t.PersistentID())
}

func (e *Engine) advanceUnknown(ctx context.Context, t task.Task, sub backend.Submittable) {
	if !e.duePoll(t.PersistentID()) {
		return
	}
	if err := e.core.UpdateJobState(ctx, sub); err != nil {
		e.handlePollError(t, err)
		return
	}
	e.resetPoll(t.PersistentID())
}

// handlePollError implements §7's "transient backend error" row: set state
// UNKNOWN, backoff, retry next sweep. Non-transient poll errors are logged
// and left for the next sweep to retry at the steady-state cadence.
func (e *Engine) handlePollError(t task.Task, err error) {
	if errors.Is(err, griderr.ErrTransient) {
		if t.Run().State() != task.StateUnknown {
			_ = t.Run().SetState(task.StateUnknown)
		}
		e.backoffPoll(t.PersistentID())
		return
	}
	e.log.Warn("engine: update_state failed", "task", t.PersistentID(), "err", err)
	e.resetPoll(t.PersistentID())
}

func (e *Engine) advanceTerminating(ctx context.Context, t task.Task, sub backend.Submittable) {
	if !e.duePoll(t.PersistentID()) {
		return
	}
	if err := e.core.FetchOutput(ctx, sub, sub.OutputDir(), true); err != nil {
		e.log.Warn("engine: fetch_output failed, will retry", "task", t.PersistentID(), "err", err)
		e.backoffPoll(t.PersistentID())
		return
	}
	e.resetPoll(t.PersistentID())
}

func (e *Engine) duePoll(id persist.ID) bool {
	ps, ok := e.poll[id]
	if !ok {
		return true
	}
	return !time.Now().Before(ps.next)
}

func (e *Engine) resetPoll(id persist.ID) {
	e.poll[id] = &pollState{next: time.Now().Add(e.cfg.PollInterval), backoff: e.cfg.PollInterval}
}

func (e *Engine) backoffPoll(id persist.ID) {
	cur := e.cfg.PollInterval
	if ps, ok := e.poll[id]; ok {
		cur = ps.backoff * 2
		if cur > e.cfg.MaxBackoff {
			cur = e.cfg.MaxBackoff
		}
	}
	e.poll[id] = &pollState{next: time.Now().Add(cur), backoff: cur}
}

// commit walks the full tree (not just what this sweep touched, since a
// collection's Derive may mark an ancestor changed without the sweep
// having visited every descendant) and persists every Changed() object.
func (e *Engine) commit(ctx context.Context) error {
	var dirty []task.Task
	for _, t := range e.topLevel {
		collectChanged(t, &dirty)
	}
	if e.cfg.OnCommit != nil && len(dirty) > 0 {
		e.cfg.OnCommit(dirty)
	}
	var firstErr error
	for _, t := range dirty {
		if _, err := e.store.Save(ctx, t); err != nil {
			e.log.Error("engine: commit failed", "task", t.PersistentID(), "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("engine: commit %s: %w", t.PersistentID(), err)
			}
			continue
		}
		t.SetChanged(false)
	}
	return firstErr
}

func collectChanged(t task.Task, out *[]task.Task) {
	if t.Changed() {
		*out = append(*out, t)
	}
	if adv, ok := t.(task.Advancer); ok {
		for _, child := range adv.Children() {
			collectChanged(child, out)
		}
	}
}
