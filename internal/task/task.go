package task

import "github.com/gridforge/gridforge/internal/persist"

// Task is the abstract unit of work of §3.1: identity, parent link, state
// machine, and attach(engine) lifecycle. Application and every
// TaskCollection variant implement it by embedding BaseTask.
type Task interface {
	persist.Coder
	Hooks

	JobName() string
	SetJobName(string)

	// ParentID is the weak back-reference to the owning TaskCollection, if
	// any (§3.1: "used for bubbling events, never for ownership"). Stored
	// as an id rather than a pointer so the Store's serializer never has
	// to walk a Task -> parent -> Task cycle (§9).
	ParentID() persist.ID
	SetParentID(persist.ID)

	Run() *Run

	// Attach/Detach record which Engine currently owns this Task. Transient
	// (never persisted): an engine id string is enough, since the Engine
	// itself holds the live Task pointer and re-attaches on load.
	Attach(engineID string)
	Detach()
	Attached() bool

	// Cancellation is cooperative (§4.5): RequestCancel only sets a flag:
	// the next progress() sweep is what actually calls Backend.Cancel.
	CancelRequested() bool
	RequestCancel()
}

// BaseTask implements everything Task needs except TypeTag/EncodeBody/
// DecodeBody (serialization is necessarily type-specific) and the Hooks
// methods with real behavior (NoopHooks supplies empty defaults; embed
// both and override what you need).
//
// self is bound once by Init so Run.SetState can fire hooks on the
// concrete outer type rather than on BaseTask itself — Go has no virtual
// dispatch through an embedded struct, so the outer constructor must hand
// BaseTask a Task reference to itself.
type BaseTask struct {
	id       persist.ID
	jobName  string
	parentID persist.ID
	changed  bool

	engineID string
	attached bool
	cancel   bool

	run  *Run
	self Task
}

// Init binds self for hook dispatch and, if run is nil, creates a
// fresh NEW Run. Concrete constructors call this exactly once, after
// allocating the outer struct, passing itself.
func (t *BaseTask) Init(self Task, run *Run) {
	t.self = self
	if run == nil {
		run = NewRun()
	}
	run.bind(self)
	t.run = run
}

func (t *BaseTask) PersistentID() persist.ID     { return t.id }
func (t *BaseTask) SetPersistentID(id persist.ID) { t.id = id }
func (t *BaseTask) Changed() bool                { return t.changed }
func (t *BaseTask) SetChanged(c bool)            { t.changed = c }

func (t *BaseTask) JobName() string        { return t.jobName }
func (t *BaseTask) SetJobName(name string) { t.jobName = name; t.changed = true }

func (t *BaseTask) ParentID() persist.ID          { return t.parentID }
func (t *BaseTask) SetParentID(id persist.ID)     { t.parentID = id; t.changed = true }

func (t *BaseTask) Run() *Run { return t.run }

func (t *BaseTask) Attach(engineID string) { t.engineID = engineID; t.attached = true }
func (t *BaseTask) Detach()                { t.attached = false }
func (t *BaseTask) Attached() bool         { return t.attached }

func (t *BaseTask) CancelRequested() bool { return t.cancel }
func (t *BaseTask) RequestCancel()        { t.cancel = true; t.changed = true }

// markDerivedOnly flags this Task's Run as collection-derived: SetState
// will reject direct writes from then on. Called by every TaskCollection
// constructor and by their DecodeBody (since derivedOnly is never
// serialized — it is a property of the type, not the data).
func (t *BaseTask) markDerivedOnly() { t.run.derivedOnly = true }
