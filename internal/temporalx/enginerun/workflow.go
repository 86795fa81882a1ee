package enginerun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow drives one top-level Task to a terminal state by repeatedly
// invoking the Tick activity, sleeping for the Engine's own poll cadence
// between ticks, and continuing-as-new once the history gets long so a
// long-lived Task never runs into Temporal's per-execution history limit.
func Workflow(ctx workflow.Context) error {
	taskID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if taskID == "" {
		return fmt.Errorf("enginerun: missing task_id")
	}

	const (
		fallbackPollInterval = 5 * time.Second
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         nil, // the Engine itself already retries recoverable failures
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	tickCount := 0

	for {
		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, taskID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case "succeeded", "canceled":
			return nil
		case "failed":
			return fmt.Errorf("task failed: %s", out.Info)
		default:
			wait := out.NextPoll
			if wait <= 0 {
				wait = fallbackPollInterval
			}
			waitForResumeOrTimer(ctx, resumeCh, wait)
			if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
				return workflow.NewContinueAsNewError(ctx, Workflow)
			}
		}
	}
}

// waitForResumeOrTimer blocks until either the resume signal fires or wait
// elapses. Always returns true (there is nothing to distinguish on here
// beyond "time to tick again"); kept as a named return point so a future
// resume-specific branch has somewhere to go.
func waitForResumeOrTimer(ctx workflow.Context, ch workflow.ReceiveChannel, wait time.Duration) bool {
	timer := workflow.NewTimer(ctx, wait)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var v any
		c.Receive(ctx, &v)
	})
	sel.AddFuture(timer, func(f workflow.Future) {})
	sel.Select(ctx)
	return true
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
