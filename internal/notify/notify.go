// Package notify publishes Task lifecycle events over Redis pub/sub, per
// SPEC_FULL.md §4.12. A nil Publisher is a safe no-op so callers (Hooks, or
// a host's Engine OnCommit callback) never have to check whether
// notification was configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/task"
)

// Event is the JSON payload Publish sends. Neither Hooks nor
// internal/platform's OnCommit publisher sets From, so it is empty in the
// events they publish.
type Event struct {
	TaskID    persist.ID `json:"task_id"`
	JobName   string     `json:"job_name"`
	Type      string     `json:"type"`
	From      task.State `json:"from"`
	To        task.State `json:"to"`
	Info      string     `json:"info,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher is what host code (Hooks, or an Engine OnCommit callback such
// as internal/platform's) calls on a state change. A nil *Publisher is valid and does nothing,
// mirroring the teacher's nil-safe notifier convention.
type Publisher struct {
	log     *gridlog.Logger
	rdb     *redis.Client
	channel string
}

// Options configures NewPublisher. Addr is required; Channel defaults to
// "gridforge:events".
type Options struct {
	Addr    string
	Channel string
}

func NewPublisher(opts Options, log *gridlog.Logger) (*Publisher, error) {
	if log == nil {
		log = gridlog.Nop()
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("notify: missing redis address")
	}
	channel := opts.Channel
	if channel == "" {
		channel = "gridforge:events"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("notify: redis ping: %w", err)
	}
	return &Publisher{log: log.With("component", "notify.Publisher"), rdb: rdb, channel: channel}, nil
}

// Publish sends ev. A nil Publisher silently does nothing: this is what
// lets host code call p.Publish(...) unconditionally whether or not
// notification was configured for this Engine.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.rdb == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("notify: marshal event failed", "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		p.log.Warn("notify: publish failed", "err", err)
	}
}

// StartSubscriber forwards every Event published on this Publisher's
// channel to onEvent until ctx is cancelled, for a host program's status
// UI or log tailer.
func (p *Publisher) StartSubscriber(ctx context.Context, onEvent func(Event)) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	sub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					p.log.Warn("notify: bad event payload", "err", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
