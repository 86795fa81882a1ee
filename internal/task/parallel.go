package task

import (
	"context"
	"encoding/json"

	"github.com/gridforge/gridforge/internal/persist"
)

// ParallelTaskCollection: all children advance independently; TERMINATED
// iff every child is TERMINATED, RUNNING once any child has left NEW (in
// particular whenever one is SUBMITTED/RUNNING), and the exit code is 0 iff
// every child's is (§3.4, invariant 5).
type ParallelTaskCollection struct {
	Collection
}

func NewParallelTaskCollection(jobName string, children []Task) *ParallelTaskCollection {
	p := &ParallelTaskCollection{}
	p.initCollection(p, children)
	p.SetJobName(jobName)
	return p
}

func (p *ParallelTaskCollection) TypeTag() string { return "ParallelTaskCollection" }

// Advance never materializes new children: the full set is known up front.
func (p *ParallelTaskCollection) Advance(ctx context.Context) error { return nil }

func (p *ParallelTaskCollection) Derive() {
	children := p.children
	switch {
	case allTerminated(children):
		if p.Run().State() != StateTerminated {
			rc := ExitCode(0)
			if !allZero(children) {
				rc = lastNonZero(children)
			}
			p.deriveTo(StateRunning) // no-op if already past NEW
			p.Run().ReturnCode = rc
			p.deriveTo(StateTerminated)
		}
	default:
		for _, ch := range children {
			if ch.Run().State() != StateNew {
				p.deriveTo(StateRunning)
				break
			}
		}
	}
}

type parallelWire struct {
	baseWire
	ChildIDs []persist.ID `json:"child_ids"`
}

func (p *ParallelTaskCollection) EncodeBody(record func(persist.Persistable) (persist.ID, error)) (json.RawMessage, error) {
	ids := make([]persist.ID, len(p.children))
	for i, ch := range p.children {
		id, err := record(ch)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return json.Marshal(parallelWire{baseWire: p.encodeBase(), ChildIDs: ids})
}

func (p *ParallelTaskCollection) DecodeBody(data json.RawMessage, resolve func(persist.ID) (persist.Persistable, error)) error {
	var w parallelWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.decodeBase(p, w.baseWire)
	p.markDerivedOnly()
	children := make([]Task, 0, len(w.ChildIDs))
	for _, id := range w.ChildIDs {
		obj, err := resolve(id)
		if err != nil {
			return err
		}
		children = append(children, obj.(Task))
	}
	p.children = children
	return nil
}
