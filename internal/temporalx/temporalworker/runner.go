// Package temporalworker hosts the Temporal worker process that polls
// TaskQueue and runs enginerun.Workflow/enginerun.Activities against a
// live Engine (SPEC_FULL.md §4.14).
package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/gridforge/gridforge/internal/engine"
	"github.com/gridforge/gridforge/internal/gridcfg"
	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/temporalx"
	"github.com/gridforge/gridforge/internal/temporalx/enginerun"
)

type Runner struct {
	log *gridlog.Logger

	tc  temporalsdkclient.Client
	eng *engine.Engine
}

func NewRunner(log *gridlog.Logger, tc temporalsdkclient.Client, eng *engine.Engine) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporalworker: temporal client is not configured")
	}
	if eng == nil {
		return nil, fmt.Errorf("temporalworker: engine is required")
	}
	return &Runner{log: log, tc: tc, eng: eng}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporalworker: not initialized")
	}
	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("temporalworker: starting", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	if gridcfg.EnvBool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
		baseCtx := ctx
		if baseCtx == nil {
			baseCtx = context.Background()
		}
		if err := temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log); err != nil && r.log != nil {
			r.log.Warn("temporalworker: namespace ensure failed, worker will retry on start", "namespace", cfg.Namespace, "err", err)
		}
	}

	maxWait := gridcfg.EnvDuration("TEMPORAL_WORKER_START_MAX_WAIT", 60*time.Second)
	backoff := gridcfg.EnvDuration("TEMPORAL_WORKER_START_BACKOFF", 250*time.Millisecond)
	backoffMax := gridcfg.EnvDuration("TEMPORAL_WORKER_START_BACKOFF_MAX", 5*time.Second)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					w.Stop()
				}()
			}
			if r.log != nil {
				r.log.Info("temporalworker: started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && gridcfg.EnvBool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
			baseCtx := ctx
			if baseCtx == nil {
				baseCtx = context.Background()
			}
			_ = temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			var nfe2 *serviceerror.NamespaceNotFound
			if errors.As(startErr, &nfe2) {
				return fmt.Errorf("temporalworker: namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}
		if r.log != nil {
			r.log.Warn("temporalworker: failed to start, retrying", "attempt", attempt, "err", startErr)
		}
		if sleep := clampBackoff(backoff, backoffMax, attempt); sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	cfg := temporalx.LoadConfig()
	concurrency := gridcfg.EnvInt("TEMPORAL_WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &enginerun.Activities{Log: r.log, Engine: r.eng}
	w.RegisterWorkflowWithOptions(enginerun.Workflow, workflow.RegisterOptions{Name: enginerun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: enginerun.ActivityTick})
	return w
}

func clampBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
