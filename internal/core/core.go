// Package core implements the Core façade of spec.md §4.4: one-shot
// blocking operations dispatched to whichever Backend currently owns a
// Task, plus submission through the Scheduler. The Core holds no Task set
// of its own; it is stateless across calls.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/scheduler"
	"github.com/gridforge/gridforge/internal/tracing"
)

type Core struct {
	backends map[string]backend.Backend
	broker   *scheduler.Broker
	log      *gridlog.Logger
}

func New(backends []backend.Backend, broker *scheduler.Broker, log *gridlog.Logger) *Core {
	if log == nil {
		log = gridlog.Nop()
	}
	m := make(map[string]backend.Backend, len(backends))
	for _, be := range backends {
		m[be.Capabilities().Name] = be
	}
	return &Core{backends: m, broker: broker, log: log}
}

// Backends returns the configured set, sorted by name for deterministic
// iteration (matters for the Scheduler's final name tiebreak).
func (c *Core) Backends() []backend.Backend {
	out := make([]backend.Backend, 0, len(c.backends))
	for _, be := range c.backends {
		out = append(out, be)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capabilities().Name < out[j].Capabilities().Name })
	return out
}

func (c *Core) backendFor(name string) (backend.Backend, error) {
	be, ok := c.backends[name]
	if !ok {
		return nil, griderr.NewBackendError(name, griderr.ErrUnrecoverable, fmt.Errorf("no such backend"))
	}
	return be, nil
}

// Submit ranks backends via the Scheduler and tries each in order (§4.3,
// §4.4). Per the Open Question resolution in DESIGN.md: if at least one
// ranked backend fails recoverably, the returned error classifies as
// ErrResourceNotReady so the Engine leaves the Task NEW for the next
// sweep; only when every backend fails unrecoverably (or none qualify at
// all) does the error classify as ErrUnrecoverable, telling the Engine to
// TERMINATE the Task immediately.
func (c *Core) Submit(ctx context.Context, t backend.Submittable) error {
	ctx, span := tracing.StartCoreOp(ctx, "submit", string(t.PersistentID()))
	var err error
	defer func() { tracing.End(span, err) }()

	ranked := c.broker.Rank(t, c.Backends())
	if len(ranked) == 0 {
		err = griderr.NewBackendError("", griderr.ErrUnrecoverable, fmt.Errorf("no backend satisfies the resource request"))
		return err
	}
	var errs []error
	anyRecoverable := false
	for _, be := range ranked {
		beCtx, beSpan := tracing.StartBackendCall(ctx, be.Capabilities().Name, "submit", string(t.PersistentID()))
		submitErr := be.Submit(beCtx, t)
		tracing.End(beSpan, submitErr)
		if submitErr == nil {
			return nil
		}
		errs = append(errs, submitErr)
		if griderr.Recoverable(submitErr) {
			anyRecoverable = true
		}
	}
	joined := errors.Join(errs...)
	if anyRecoverable {
		err = griderr.NewBackendError("", griderr.ErrResourceNotReady, joined)
	} else {
		err = griderr.NewBackendError("", griderr.ErrUnrecoverable, joined)
	}
	return err
}

func (c *Core) UpdateJobState(ctx context.Context, t backend.Submittable) error {
	ctx, span := tracing.StartCoreOp(ctx, "update_state", string(t.PersistentID()))
	be, err := c.backendFor(t.Run().BackendName)
	if err != nil {
		tracing.End(span, err)
		return err
	}
	beCtx, beSpan := tracing.StartBackendCall(ctx, be.Capabilities().Name, "update_state", string(t.PersistentID()))
	err = be.UpdateState(beCtx, t)
	tracing.End(beSpan, err)
	tracing.End(span, err)
	return err
}

func (c *Core) Kill(ctx context.Context, t backend.Submittable) error {
	ctx, span := tracing.StartCoreOp(ctx, "kill", string(t.PersistentID()))
	be, err := c.backendFor(t.Run().BackendName)
	if err != nil {
		tracing.End(span, err)
		return err
	}
	beCtx, beSpan := tracing.StartBackendCall(ctx, be.Capabilities().Name, "cancel", string(t.PersistentID()))
	err = be.Cancel(beCtx, t)
	tracing.End(beSpan, err)
	tracing.End(span, err)
	return err
}

func (c *Core) Peek(ctx context.Context, t backend.Submittable, stream backend.Stream, offset, size int64) (io.ReadCloser, error) {
	ctx, span := tracing.StartCoreOp(ctx, "peek", string(t.PersistentID()))
	be, err := c.backendFor(t.Run().BackendName)
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}
	beCtx, beSpan := tracing.StartBackendCall(ctx, be.Capabilities().Name, "peek", string(t.PersistentID()))
	rc, err := be.Peek(beCtx, t, stream, offset, size)
	tracing.End(beSpan, err)
	tracing.End(span, err)
	return rc, err
}

func (c *Core) FetchOutput(ctx context.Context, t backend.Submittable, destDir string, overwrite bool) error {
	ctx, span := tracing.StartCoreOp(ctx, "fetch_output", string(t.PersistentID()))
	be, err := c.backendFor(t.Run().BackendName)
	if err != nil {
		tracing.End(span, err)
		return err
	}
	beCtx, beSpan := tracing.StartBackendCall(ctx, be.Capabilities().Name, "fetch_output", string(t.PersistentID()))
	err = be.FetchOutput(beCtx, t, destDir, overwrite)
	tracing.End(beSpan, err)
	tracing.End(span, err)
	return err
}

func (c *Core) Free(ctx context.Context, t backend.Submittable) error {
	ctx, span := tracing.StartCoreOp(ctx, "free", string(t.PersistentID()))
	defer span.End()
	be, err := c.backendFor(t.Run().BackendName)
	if err != nil {
		c.log.Warn("core: free on unknown backend, ignoring", "backend", t.Run().BackendName)
		return nil
	}
	beCtx, beSpan := tracing.StartBackendCall(ctx, be.Capabilities().Name, "free", string(t.PersistentID()))
	freeErr := be.Free(beCtx, t)
	tracing.End(beSpan, freeErr)
	if freeErr != nil {
		c.log.Warn("core: free failed, continuing", "task", t.PersistentID(), "err", freeErr)
	}
	return nil
}

// SelectResources returns every configured Backend whose Capabilities
// satisfy predicate (§4.4's select_resources(predicate)).
func (c *Core) SelectResources(predicate func(backend.Capabilities) bool) []backend.Backend {
	var out []backend.Backend
	for _, be := range c.Backends() {
		if predicate(be.Capabilities()) {
			out = append(out, be)
		}
	}
	return out
}
