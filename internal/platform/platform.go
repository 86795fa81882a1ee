// Package platform is the composition root of SPEC_FULL.md §3.5: it wires
// Store, Session, Backends, Scheduler, Core, and Engine into one runnable
// process, mirroring the shape of the teacher's internal/app package
// (New/Start/Run/Close) but built around a poll-or-Temporal driven Engine
// loop instead of an HTTP request/response cycle.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridforge/gridforge/internal/core"
	"github.com/gridforge/gridforge/internal/engine"
	"github.com/gridforge/gridforge/internal/gridcfg"
	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/notify"
	"github.com/gridforge/gridforge/internal/scheduler"
	"github.com/gridforge/gridforge/internal/session"
	"github.com/gridforge/gridforge/internal/task"
	"github.com/gridforge/gridforge/internal/temporalx"
	"github.com/gridforge/gridforge/internal/temporalx/temporalworker"
	"github.com/gridforge/gridforge/internal/tracing"
)

type Platform struct {
	Log     *gridlog.Logger
	Cfg     Config
	Session *session.Session
	Engine  *engine.Engine
	Router  *gin.Engine

	notifier *notify.Publisher
	tempRun  *temporalworker.Runner
	shutdown func(context.Context) error
	cancel   context.CancelFunc
}

// New wires every component described in SPEC_FULL.md §3.5, in the same
// fail-fast order the teacher's app.New uses: config, logger, storage,
// domain objects, then the outer driver.
func New() (*Platform, error) {
	cfg := LoadConfig()

	log, err := gridlog.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("platform: init logger: %w", err)
	}

	shutdown := tracing.Init(context.Background(), log, tracing.Config{
		ServiceName: "gridforge",
		Environment: gridcfg.EnvString("ENVIRONMENT", "development"),
		Version:     gridcfg.EnvString("GRIDFORGE_VERSION", "dev"),
	})

	st, storeURL, err := openStore(cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	sess, err := session.Open(cfg.SessionDir, storeURL, st)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("platform: open session: %w", err)
	}

	catalog, err := gridcfg.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Sync()
		return nil, err
	}
	backends, err := buildBackends(catalog.Backends, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	broker := scheduler.New(log)
	c := core.New(backends, broker, log)

	var notifier *notify.Publisher
	if cfg.NotifyAddr != "" {
		notifier, err = notify.NewPublisher(notify.Options{Addr: cfg.NotifyAddr, Channel: cfg.NotifyChannel}, log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("platform: init notify publisher: %w", err)
		}
	}

	tuning := catalog.Engine.WithEnvOverrides()
	eng := engine.New("gridforge", c, st, log, engine.Config{
		MaxInFlight:  tuning.MaxInFlight,
		MaxSubmitted: tuning.MaxSubmitted,
		AutoFree:     tuning.AutoFree,
		PollInterval: tuning.PollIntervalDuration(),
		MaxBackoff:   tuning.MaxBackoffDuration(),
		OnCommit:     publishChanges(notifier),
		SessionDir:   cfg.SessionDir,
	})

	tasks, errs := sess.Tasks(context.Background())
	for _, e := range errs {
		log.Warn("platform: task load error during startup", "err", e)
	}
	for _, t := range tasks {
		eng.Add(t)
	}

	p := &Platform{
		Log: log, Cfg: cfg, Session: sess, Engine: eng,
		notifier: notifier, shutdown: shutdown,
	}

	if cfg.RunHTTP {
		p.Router = newRouter(sess)
	}
	if cfg.RunTemporal {
		tc, err := temporalx.NewClient(log)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("platform: init temporal client: %w", err)
		}
		if tc == nil {
			log.Warn("platform: RUN_TEMPORAL set but TEMPORAL_ADDRESS is empty, falling back to the poll loop")
		} else {
			runner, err := temporalworker.NewRunner(log, tc, eng)
			if err != nil {
				p.Close()
				return nil, err
			}
			p.tempRun = runner
		}
	}

	return p, nil
}

// publishChanges adapts Engine.Config.OnCommit to internal/notify, the
// single place a live Store-backed Task's state transitions turn into
// lifecycle events (see DESIGN.md's entry on Engine.Config.OnCommit for
// why this sits here instead of in task.Hooks).
func publishChanges(pub *notify.Publisher) func([]task.Task) {
	if pub == nil {
		return nil
	}
	return func(tasks []task.Task) {
		for _, t := range tasks {
			run := t.Run()
			pub.Publish(context.Background(), notify.Event{
				TaskID:    t.PersistentID(),
				JobName:   t.JobName(),
				Type:      "state_change",
				To:        run.State(),
				Info:      run.Info,
				Timestamp: time.Now(),
			})
		}
	}
}

// Start begins the background Engine driver: either the Temporal worker
// (if configured and reachable) or a bare poll loop, matching the choice
// SPEC_FULL.md §4.14 leaves to the host.
func (p *Platform) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if p.tempRun != nil {
		go func() {
			if err := p.tempRun.Start(ctx); err != nil {
				p.Log.Error("platform: temporal worker stopped", "err", err)
			}
		}()
		return
	}
	go p.pollLoop(ctx)
}

// pollLoop is the fallback driver of SPEC_FULL.md §4.14: a bare
// for { Progress; Sleep } loop, the same shape the Temporal activity
// itself wraps one tick of.
func (p *Platform) pollLoop(ctx context.Context) {
	interval := p.Engine.PollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Engine.Progress(ctx); err != nil {
			p.Log.Warn("platform: progress sweep reported errors", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run serves the read-only status surface, blocking until it exits.
func (p *Platform) Run() error {
	if p.Router == nil {
		return fmt.Errorf("platform: HTTP surface disabled (RUN_HTTP=false)")
	}
	return p.Router.Run(p.Cfg.HTTPAddr)
}

func (p *Platform) Close() {
	if p == nil {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.notifier != nil {
		_ = p.notifier.Close()
	}
	if p.Session != nil {
		_ = p.Session.Flush()
	}
	if p.shutdown != nil {
		_ = p.shutdown(context.Background())
	}
	if p.Log != nil {
		p.Log.Sync()
	}
}
