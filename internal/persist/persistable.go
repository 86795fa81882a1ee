package persist

import "encoding/json"

// Persistable is satisfied by any object a Store can save and load: the
// mixin-based Persistable of the original source, reshaped as an interface
// (§9). TypeTag names the concrete type for the tagged-variant envelope;
// it must be stable across versions since it is written to disk.
type Persistable interface {
	PersistentID() ID
	SetPersistentID(ID)
	Changed() bool
	SetChanged(bool)
	TypeTag() string
}

// Coder is the subset of Persistable a Store actually serializes. EncodeBody
// and DecodeBody let each concrete type control how its own fields, and any
// Persistable it references, cross the wire: a referenced child is resolved
// to its own id via record/resolve rather than embedded inline, which is how
// the Store preserves sharing (§4.6 point 2) and breaks the Task/parent and
// Task/Engine reference cycles (§9).
type Coder interface {
	Persistable

	// EncodeBody returns this object's own fields as JSON, using record to
	// turn any referenced Persistable into its id (saving it first if it
	// has none yet).
	EncodeBody(record func(Persistable) (ID, error)) (json.RawMessage, error)

	// DecodeBody restores this object's own fields from data, using
	// resolve to turn a referenced id back into a live Persistable.
	DecodeBody(data json.RawMessage, resolve func(ID) (Persistable, error)) error
}

// Envelope is the on-disk/on-row tagged-variant wrapper: Type dispatches to
// a registered constructor on load, Data is the Coder's own EncodeBody
// output.
type Envelope struct {
	Type string          `json:"type"`
	ID   ID              `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Registry maps a TypeTag to a zero-value constructor, so Store.Load can
// build the right concrete type before calling DecodeBody on it.
type Registry struct {
	ctors map[string]func() Coder
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]func() Coder)}
}

func (r *Registry) Register(tag string, ctor func() Coder) {
	r.ctors[tag] = ctor
}

func (r *Registry) New(tag string) (Coder, bool) {
	ctor, ok := r.ctors[tag]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
