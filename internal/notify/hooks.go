package notify

import (
	"context"
	"time"

	"github.com/gridforge/gridforge/internal/task"
)

// Hooks is a task.Hooks implementation a host embeds instead of (or
// alongside) task.NoopHooks to get lifecycle events published
// automatically, without hand-writing a publish call in every override.
type Hooks struct {
	Publisher *Publisher
}

func (h Hooks) New(r *task.Run)         { h.publish(r) }
func (h Hooks) Submitted(r *task.Run)   { h.publish(r) }
func (h Hooks) Running(r *task.Run)     { h.publish(r) }
func (h Hooks) Stopped(r *task.Run)     { h.publish(r) }
func (h Hooks) Terminating(r *task.Run) { h.publish(r) }
func (h Hooks) Terminated(r *task.Run)  { h.publish(r) }
func (h Hooks) Unknown(r *task.Run)     { h.publish(r) }

func (h Hooks) publish(r *task.Run) {
	owner := r.Owner()
	ev := Event{To: r.State(), Info: r.Info, Timestamp: time.Now()}
	if owner != nil {
		ev.TaskID = owner.PersistentID()
		ev.JobName = owner.JobName()
	}
	ev.Type = "state_change"
	h.Publisher.Publish(context.Background(), ev)
}
