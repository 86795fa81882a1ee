package task

import (
	"context"
	"encoding/json"

	"github.com/gridforge/gridforge/internal/persist"
)

// NextFunc is the §3.4 "next(done_index)" hook: given the index of the
// child that just terminated and the current child list, it may insert
// new children right after doneIndex and/or signal that the sequence is
// finished. The default advances by one and stops after the last child.
type NextFunc func(doneIndex int, children []Task) (insert []Task, stop bool)

func DefaultNext(doneIndex int, children []Task) (insert []Task, stop bool) {
	return nil, doneIndex+1 >= len(children)
}

// SequentialTaskCollection advances children one at a time in list order
// (§3.4). next is a runtime-only customization hook: it is not persisted,
// since Go has no portable way to serialize a closure; a Task reloaded
// from a Store falls back to DefaultNext unless the host program re-sets
// it after load (documented in DESIGN.md's Open Question resolutions).
type SequentialTaskCollection struct {
	Collection
	current int
	next    NextFunc
}

func NewSequentialTaskCollection(jobName string, children []Task, next NextFunc) *SequentialTaskCollection {
	if next == nil {
		next = DefaultNext
	}
	s := &SequentialTaskCollection{next: next}
	s.initCollection(s, children)
	s.SetJobName(jobName)
	return s
}

func (s *SequentialTaskCollection) TypeTag() string { return "SequentialTaskCollection" }

func (s *SequentialTaskCollection) ActiveChildren() []Task {
	if s.current < 0 || s.current >= len(s.children) {
		return nil
	}
	return []Task{s.children[s.current]}
}

func (s *SequentialTaskCollection) Advance(ctx context.Context) error {
	if s.current < 0 || s.current >= len(s.children) {
		return nil
	}
	cur := s.children[s.current]
	if cur.Run().State() != StateTerminated {
		return nil
	}
	insert, stop := s.next(s.current, s.children)
	if len(insert) > 0 {
		for _, t := range insert {
			t.SetParentID(s.PersistentID())
		}
		tail := append([]Task{}, s.children[s.current+1:]...)
		head := append([]Task{}, s.children[:s.current+1]...)
		s.children = append(head, append(insert, tail...)...)
		s.SetChanged(true)
	}
	if stop {
		s.current = len(s.children)
		return nil
	}
	s.current++
	return nil
}

func (s *SequentialTaskCollection) Derive() {
	if s.current >= len(s.children) {
		if s.Run().State() != StateTerminated {
			s.deriveTo(StateRunning)
			if len(s.children) > 0 {
				s.Run().ReturnCode = s.children[len(s.children)-1].Run().ReturnCode
			} else {
				s.Run().ReturnCode = ExitCode(0)
			}
			s.deriveTo(StateTerminated)
		}
		return
	}
	if s.current > 0 || anyActive(s.ActiveChildren()) {
		s.deriveTo(StateRunning)
	}
}

type sequentialWire struct {
	baseWire
	ChildIDs []persist.ID `json:"child_ids"`
	Current  int          `json:"current"`
}

func (s *SequentialTaskCollection) EncodeBody(record func(persist.Persistable) (persist.ID, error)) (json.RawMessage, error) {
	ids := make([]persist.ID, len(s.children))
	for i, ch := range s.children {
		id, err := record(ch)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return json.Marshal(sequentialWire{baseWire: s.encodeBase(), ChildIDs: ids, Current: s.current})
}

func (s *SequentialTaskCollection) DecodeBody(data json.RawMessage, resolve func(persist.ID) (persist.Persistable, error)) error {
	var w sequentialWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.decodeBase(s, w.baseWire)
	s.markDerivedOnly()
	if s.next == nil {
		s.next = DefaultNext
	}
	children := make([]Task, 0, len(w.ChildIDs))
	for _, id := range w.ChildIDs {
		obj, err := resolve(id)
		if err != nil {
			return err
		}
		children = append(children, obj.(Task))
	}
	s.children = children
	s.current = w.Current
	return nil
}
