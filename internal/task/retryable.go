package task

import (
	"context"
	"encoding/json"

	"github.com/gridforge/gridforge/internal/persist"
)

// RetryPredicate decides, once the wrapped child has TERMINATED, whether
// to resubmit it. attempt is the number of retries already performed.
type RetryPredicate func(attempt int, child Task) bool

// DefaultRetryPredicate retries on any nonzero exit, up to maxRetries
// times (§8 boundary: maxRetries=0 never retries).
func DefaultRetryPredicate(maxRetries int) RetryPredicate {
	return func(attempt int, child Task) bool {
		return attempt < maxRetries && !child.Run().ReturnCode.Zero()
	}
}

// RetryableTask wraps a single child; when it TERMINATEs, retry() decides
// whether to resubmit (incrementing the attempt counter) or accept the
// final state (§3.4).
type RetryableTask struct {
	Collection
	maxRetries int
	attempt    int
	accepted   bool
	retry      RetryPredicate
}

func NewRetryableTask(jobName string, child Task, maxRetries int, retry RetryPredicate) *RetryableTask {
	if retry == nil {
		retry = DefaultRetryPredicate(maxRetries)
	}
	r := &RetryableTask{maxRetries: maxRetries, retry: retry}
	r.initCollection(r, []Task{child})
	r.SetJobName(jobName)
	return r
}

func (r *RetryableTask) TypeTag() string { return "RetryableTask" }

func (r *RetryableTask) child() Task {
	if len(r.children) == 0 {
		return nil
	}
	return r.children[0]
}

func (r *RetryableTask) ActiveChildren() []Task {
	if r.accepted {
		return nil
	}
	if c := r.child(); c != nil {
		return []Task{c}
	}
	return nil
}

func (r *RetryableTask) Advance(ctx context.Context) error {
	if r.accepted || r.retry == nil {
		return nil
	}
	c := r.child()
	if c == nil || c.Run().State() != StateTerminated {
		return nil
	}
	if r.retry(r.attempt, c) {
		r.attempt++
		// TERMINATED -> NEW is the resubmit edge (§3.5); no residual
		// backend state needs cancelling since the child already
		// terminated cleanly.
		return c.Run().SetState(StateNew)
	}
	r.accepted = true
	return nil
}

func (r *RetryableTask) Derive() {
	c := r.child()
	if c == nil {
		if r.Run().State() != StateTerminated {
			r.deriveTo(StateTerminated)
		}
		return
	}
	if r.accepted && c.Run().State() == StateTerminated {
		if r.Run().State() != StateTerminated {
			r.deriveTo(StateRunning)
			r.Run().ReturnCode = c.Run().ReturnCode
			r.deriveTo(StateTerminated)
		}
		return
	}
	if c.Run().State().Active() || r.attempt > 0 {
		r.deriveTo(StateRunning)
	}
}

type retryableWire struct {
	baseWire
	ChildID    persist.ID `json:"child_id"`
	MaxRetries int        `json:"max_retries"`
	Attempt    int        `json:"attempt"`
	Accepted   bool       `json:"accepted"`
}

func (r *RetryableTask) EncodeBody(record func(persist.Persistable) (persist.ID, error)) (json.RawMessage, error) {
	var id persist.ID
	if c := r.child(); c != nil {
		var err error
		id, err = record(c)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(retryableWire{
		baseWire: r.encodeBase(), ChildID: id,
		MaxRetries: r.maxRetries, Attempt: r.attempt, Accepted: r.accepted,
	})
}

func (r *RetryableTask) DecodeBody(data json.RawMessage, resolve func(persist.ID) (persist.Persistable, error)) error {
	var w retryableWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.decodeBase(r, w.baseWire)
	r.markDerivedOnly()
	if w.ChildID != "" {
		obj, err := resolve(w.ChildID)
		if err != nil {
			return err
		}
		r.children = []Task{obj.(Task)}
	}
	r.maxRetries, r.attempt, r.accepted = w.MaxRetries, w.Attempt, w.Accepted
	if r.retry == nil {
		r.retry = DefaultRetryPredicate(r.maxRetries)
	}
	return nil
}
