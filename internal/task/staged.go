package task

import (
	"context"
	"encoding/json"

	"github.com/gridforge/gridforge/internal/persist"
)

// StageFunc lazily produces the n-th stage's Task (§3.4's "stageN()");
// ok=false means there is no stage n, i.e. the previous stage was last.
type StageFunc func(n int) (t Task, ok bool)

// StagedTaskCollection materializes stage N's Task only once stage N-1
// terminates. Like SequentialTaskCollection's next hook, stageFn is a
// runtime-only customization: not persisted, re-set by the host after
// loading from a Store.
type StagedTaskCollection struct {
	Collection
	stage   int
	stageFn StageFunc
	done    bool
}

func NewStagedTaskCollection(jobName string, stageFn StageFunc) *StagedTaskCollection {
	st := &StagedTaskCollection{stageFn: stageFn}
	st.initCollection(st, nil)
	st.SetJobName(jobName)
	if first, ok := stageFn(0); ok {
		first.SetParentID(st.PersistentID())
		st.appendChild(first)
	} else {
		st.done = true
	}
	return st
}

func (st *StagedTaskCollection) TypeTag() string { return "StagedTaskCollection" }

func (st *StagedTaskCollection) ActiveChildren() []Task {
	if len(st.children) == 0 {
		return nil
	}
	return []Task{st.children[len(st.children)-1]}
}

func (st *StagedTaskCollection) Advance(ctx context.Context) error {
	if st.done || st.stageFn == nil || len(st.children) == 0 {
		return nil
	}
	cur := st.children[len(st.children)-1]
	if cur.Run().State() != StateTerminated {
		return nil
	}
	st.stage++
	next, ok := st.stageFn(st.stage)
	if !ok {
		st.done = true
		return nil
	}
	next.SetParentID(st.PersistentID())
	st.appendChild(next)
	return nil
}

func (st *StagedTaskCollection) Derive() {
	if len(st.children) == 0 {
		if st.Run().State() != StateTerminated {
			st.deriveTo(StateTerminated)
		}
		return
	}
	last := st.children[len(st.children)-1]
	if st.done && last.Run().State() == StateTerminated {
		if st.Run().State() != StateTerminated {
			st.deriveTo(StateRunning)
			st.Run().ReturnCode = last.Run().ReturnCode
			st.deriveTo(StateTerminated)
		}
		return
	}
	st.deriveTo(StateRunning)
}

type stagedWire struct {
	baseWire
	ChildIDs []persist.ID `json:"child_ids"`
	Stage    int          `json:"stage"`
	Done     bool         `json:"done"`
}

func (st *StagedTaskCollection) EncodeBody(record func(persist.Persistable) (persist.ID, error)) (json.RawMessage, error) {
	ids := make([]persist.ID, len(st.children))
	for i, ch := range st.children {
		id, err := record(ch)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return json.Marshal(stagedWire{baseWire: st.encodeBase(), ChildIDs: ids, Stage: st.stage, Done: st.done})
}

func (st *StagedTaskCollection) DecodeBody(data json.RawMessage, resolve func(persist.ID) (persist.Persistable, error)) error {
	var w stagedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	st.decodeBase(st, w.baseWire)
	st.markDerivedOnly()
	children := make([]Task, 0, len(w.ChildIDs))
	for _, id := range w.ChildIDs {
		obj, err := resolve(id)
		if err != nil {
			return err
		}
		children = append(children, obj.(Task))
	}
	st.children = children
	st.stage = w.Stage
	st.done = w.Done
	return nil
}
