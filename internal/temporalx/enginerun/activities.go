package enginerun

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/gridforge/gridforge/internal/engine"
	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/task"
)

// Activities is registered once per worker process. Engine must already
// have the Tasks this worker will be asked to drive added via Engine.Add —
// a workflow execution only ever carries a persist.ID across restarts, so
// Tick recovers the live Task through Engine.Lookup rather than
// deserializing it itself.
type Activities struct {
	Log    *gridlog.Logger
	Engine *engine.Engine
}

func (a *Activities) Tick(ctx context.Context, taskID string) (TickResult, error) {
	res := TickResult{TaskID: taskID}
	if a == nil || a.Engine == nil {
		return res, fmt.Errorf("enginerun: activity not configured")
	}
	t, ok := a.Engine.Lookup(persist.ID(taskID))
	if !ok {
		return res, fmt.Errorf("enginerun: task %s not registered with this engine", taskID)
	}

	activity.RecordHeartbeat(ctx)

	if err := a.Engine.Progress(ctx); err != nil {
		if a.Log != nil {
			a.Log.Warn("enginerun: progress sweep reported errors, continuing", "task", taskID, "err", err)
		}
	}

	res.Status = statusOf(t)
	res.Info = t.Run().Info
	res.NextPoll = a.Engine.PollInterval()
	return res, nil
}

func statusOf(t task.Task) string {
	r := t.Run()
	if r.State() == task.StateTerminated {
		switch {
		case t.CancelRequested():
			return "canceled"
		case r.ReturnCode.Zero():
			return "succeeded"
		default:
			return "failed"
		}
	}
	return strings.ToLower(string(r.State()))
}
