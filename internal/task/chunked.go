package task

import (
	"context"
	"encoding/json"

	"github.com/gridforge/gridforge/internal/persist"
)

// NewTaskFunc is the §3.4 "new_task(param)" leaf constructor for a
// ChunkedParameterSweep. Like NextFunc/StageFunc, it is a runtime-only
// customization, not persisted.
type NewTaskFunc func(param int) Task

// ChunkedParameterSweep sequentially materializes chunks of up to
// chunkSize parallel children drawn from the half-open integer range
// [min, max, step) (§3.4). A chunk is fully exposed to the Engine at once
// (like ParallelTaskCollection) and the next chunk is materialized only
// once the current one has fully terminated.
type ChunkedParameterSweep struct {
	Collection
	min, max, step, chunkSize int
	nextParam                 int
	chunkStart                int
	exhausted                 bool
	newTask                   NewTaskFunc
}

func NewChunkedParameterSweep(jobName string, min, max, step, chunkSize int, newTask NewTaskFunc) *ChunkedParameterSweep {
	c := &ChunkedParameterSweep{min: min, max: max, step: step, chunkSize: chunkSize, nextParam: min, newTask: newTask}
	c.initCollection(c, nil)
	c.SetJobName(jobName)
	c.materializeChunk()
	return c
}

func (c *ChunkedParameterSweep) TypeTag() string { return "ChunkedParameterSweep" }

func (c *ChunkedParameterSweep) withinRange(v int) bool {
	switch {
	case c.step > 0:
		return v < c.max
	case c.step < 0:
		return v > c.max
	default:
		return false
	}
}

func (c *ChunkedParameterSweep) materializeChunk() {
	start := len(c.children)
	count := 0
	for count < c.chunkSize && c.withinRange(c.nextParam) {
		t := c.newTask(c.nextParam)
		t.SetParentID(c.PersistentID())
		c.appendChild(t)
		c.nextParam += c.step
		count++
	}
	c.chunkStart = start
	if count == 0 {
		c.exhausted = true
	}
}

func (c *ChunkedParameterSweep) ActiveChildren() []Task {
	if c.chunkStart >= len(c.children) {
		return nil
	}
	return c.children[c.chunkStart:]
}

func (c *ChunkedParameterSweep) Advance(ctx context.Context) error {
	if c.exhausted || c.newTask == nil {
		return nil
	}
	chunk := c.ActiveChildren()
	if len(chunk) > 0 && !allTerminated(chunk) {
		return nil
	}
	c.materializeChunk()
	return nil
}

func (c *ChunkedParameterSweep) Derive() {
	if len(c.children) == 0 && c.exhausted {
		if c.Run().State() != StateTerminated {
			c.deriveTo(StateTerminated)
		}
		return
	}
	chunk := c.ActiveChildren()
	if c.exhausted && allTerminated(chunk) {
		if c.Run().State() != StateTerminated {
			c.deriveTo(StateRunning)
			rc := ExitCode(0)
			if !allZero(c.children) {
				rc = lastNonZero(c.children)
			}
			c.Run().ReturnCode = rc
			c.deriveTo(StateTerminated)
		}
		return
	}
	c.deriveTo(StateRunning)
}

type chunkedWire struct {
	baseWire
	ChildIDs                  []persist.ID `json:"child_ids"`
	Min, Max, Step, ChunkSize int
	NextParam                 int  `json:"next_param"`
	ChunkStart                int  `json:"chunk_start"`
	Exhausted                 bool `json:"exhausted"`
}

func (c *ChunkedParameterSweep) EncodeBody(record func(persist.Persistable) (persist.ID, error)) (json.RawMessage, error) {
	ids := make([]persist.ID, len(c.children))
	for i, ch := range c.children {
		id, err := record(ch)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return json.Marshal(chunkedWire{
		baseWire: c.encodeBase(), ChildIDs: ids,
		Min: c.min, Max: c.max, Step: c.step, ChunkSize: c.chunkSize,
		NextParam: c.nextParam, ChunkStart: c.chunkStart, Exhausted: c.exhausted,
	})
}

func (c *ChunkedParameterSweep) DecodeBody(data json.RawMessage, resolve func(persist.ID) (persist.Persistable, error)) error {
	var w chunkedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.decodeBase(c, w.baseWire)
	c.markDerivedOnly()
	children := make([]Task, 0, len(w.ChildIDs))
	for _, id := range w.ChildIDs {
		obj, err := resolve(id)
		if err != nil {
			return err
		}
		children = append(children, obj.(Task))
	}
	c.children = children
	c.min, c.max, c.step, c.chunkSize = w.Min, w.Max, w.Step, w.ChunkSize
	c.nextParam, c.chunkStart, c.exhausted = w.NextParam, w.ChunkStart, w.Exhausted
	return nil
}
