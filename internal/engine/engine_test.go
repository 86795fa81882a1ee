package engine

import (
	"context"
	"io"
	"testing"

	"github.com/gridforge/gridforge/internal/application"
	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/core"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/scheduler"
	"github.com/gridforge/gridforge/internal/task"
)

// fakeStore is an in-memory store.Store recording every Save call, enough
// to exercise Engine.commit without a real filesystem or database.
type fakeStore struct {
	saved map[persist.ID]persist.Coder
	saves int
}

func newFakeStore() *fakeStore { return &fakeStore{saved: make(map[persist.ID]persist.Coder)} }

func (s *fakeStore) Save(ctx context.Context, obj persist.Coder) (persist.ID, error) {
	id := obj.PersistentID()
	if id.Empty() {
		id = persist.ID("id-" + obj.TypeTag())
		obj.SetPersistentID(id)
	}
	s.saved[id] = obj
	s.saves++
	return id, nil
}
func (s *fakeStore) Load(ctx context.Context, id persist.ID) (persist.Coder, error) {
	return s.saved[id], nil
}
func (s *fakeStore) Replace(ctx context.Context, id persist.ID, obj persist.Coder) error {
	s.saved[id] = obj
	return nil
}
func (s *fakeStore) Remove(ctx context.Context, id persist.ID) error {
	delete(s.saved, id)
	return nil
}
func (s *fakeStore) List(ctx context.Context) ([]persist.ID, error) {
	ids := make([]persist.ID, 0, len(s.saved))
	for id := range s.saved {
		ids = append(ids, id)
	}
	return ids, nil
}
func (s *fakeStore) PreFork() error  { return nil }
func (s *fakeStore) PostFork() error { return nil }

type fakeBackend struct {
	name      string
	submitted []backend.Submittable
	freed     []backend.Submittable
}

func (f *fakeBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: f.name, Updated: true}
}
func (f *fakeBackend) Update(ctx context.Context) error { return nil }
func (f *fakeBackend) Submit(ctx context.Context, t backend.Submittable) error {
	f.submitted = append(f.submitted, t)
	t.Run().BackendName = f.name
	return t.Run().SetState(task.StateSubmitted)
}
func (f *fakeBackend) UpdateState(ctx context.Context, t backend.Submittable) error {
	return t.Run().SetState(task.StateRunning)
}
func (f *fakeBackend) Cancel(ctx context.Context, t backend.Submittable) error {
	return t.Run().SetState(task.StateTerminated)
}
func (f *fakeBackend) Peek(ctx context.Context, t backend.Submittable, stream backend.Stream, offset, size int64) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeBackend) FetchOutput(ctx context.Context, t backend.Submittable, destDir string, overwrite bool) error {
	return t.Run().SetState(task.StateTerminated)
}
func (f *fakeBackend) Free(ctx context.Context, t backend.Submittable) error {
	f.freed = append(f.freed, t)
	return nil
}

func mustApp(t *testing.T, name string) *application.Application {
	t.Helper()
	a, err := application.New(name, application.Config{Argv: []string{"echo", name}})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func newTestEngine(t *testing.T, be *fakeBackend, cfg Config) (*Engine, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	c := core.New([]backend.Backend{be}, scheduler.New(nil), nil)
	return New("test-engine", c, st, nil, cfg), st
}

func TestProgressSubmitsNewTask(t *testing.T) {
	be := &fakeBackend{name: "be"}
	e, st := newTestEngine(t, be, Config{})
	a := mustApp(t, "job")
	e.Add(a)

	if err := e.Progress(context.Background()); err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if a.Run().State() != task.StateSubmitted {
		t.Fatalf("state = %s, want SUBMITTED", a.Run().State())
	}
	if len(be.submitted) != 1 {
		t.Errorf("backend.Submit called %d times, want 1", len(be.submitted))
	}
	if st.saves == 0 {
		t.Error("commit should have saved the changed task")
	}
}

func TestProgressRespectsMaxInFlight(t *testing.T) {
	be := &fakeBackend{name: "be"}
	e, _ := newTestEngine(t, be, Config{MaxInFlight: 1})
	a, b := mustApp(t, "a"), mustApp(t, "b")
	e.Add(a)
	e.Add(b)

	if err := e.Progress(context.Background()); err != nil {
		t.Fatal(err)
	}
	submittedCount := 0
	for _, x := range []*application.Application{a, b} {
		if x.Run().State() == task.StateSubmitted {
			submittedCount++
		}
	}
	if submittedCount != 1 {
		t.Fatalf("submitted count = %d, want exactly 1 under max_in_flight=1", submittedCount)
	}
}

func TestProgressAutoFreesTerminatedTasks(t *testing.T) {
	be := &fakeBackend{name: "be"}
	e, _ := newTestEngine(t, be, Config{AutoFree: true})
	a := mustApp(t, "job")
	_ = a.Run().SetState(task.StateSubmitted)
	_ = a.Run().SetState(task.StateRunning)
	_ = a.Run().SetState(task.StateTerminating)
	_ = a.Run().SetState(task.StateTerminated)
	a.Run().BackendName = "be"
	e.Add(a)

	if err := e.Progress(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(be.freed) != 1 {
		t.Errorf("Free called %d times, want 1 with auto_free set", len(be.freed))
	}
}

func TestProgressDoesNotAutoFreeByDefault(t *testing.T) {
	be := &fakeBackend{name: "be"}
	e, _ := newTestEngine(t, be, Config{})
	a := mustApp(t, "job")
	_ = a.Run().SetState(task.StateSubmitted)
	_ = a.Run().SetState(task.StateRunning)
	_ = a.Run().SetState(task.StateTerminating)
	_ = a.Run().SetState(task.StateTerminated)
	a.Run().BackendName = "be"
	e.Add(a)

	if err := e.Progress(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(be.freed) != 0 {
		t.Errorf("Free called %d times, want 0 without auto_free", len(be.freed))
	}
}

func TestKillRequestsCancelOnNextSweep(t *testing.T) {
	be := &fakeBackend{name: "be"}
	e, _ := newTestEngine(t, be, Config{})
	a := mustApp(t, "job")
	_ = a.Run().SetState(task.StateSubmitted)
	a.Run().BackendName = "be"
	e.Add(a)

	e.Kill(a)
	if !a.CancelRequested() {
		t.Fatal("Kill should mark the task's cancel flag immediately")
	}
	if err := e.Progress(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Run().State() != task.StateTerminated {
		t.Errorf("state = %s, want TERMINATED after a sweep processes the cancel request", a.Run().State())
	}
}

func TestOnCommitFiresWithDirtyTasksOnly(t *testing.T) {
	be := &fakeBackend{name: "be"}
	var committed []task.Task
	e, _ := newTestEngine(t, be, Config{OnCommit: func(ts []task.Task) { committed = append(committed, ts...) }})
	a := mustApp(t, "job")
	e.Add(a)

	if err := e.Progress(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(committed) != 1 || committed[0].PersistentID() != a.PersistentID() {
		t.Fatalf("OnCommit saw %v, want exactly [a]", committed)
	}
}

func TestLookupFindsTopLevelTaskByID(t *testing.T) {
	be := &fakeBackend{name: "be"}
	e, _ := newTestEngine(t, be, Config{})
	a := mustApp(t, "job")
	a.SetPersistentID("app-42")
	e.Add(a)

	got, ok := e.Lookup("app-42")
	if !ok || got.PersistentID() != "app-42" {
		t.Fatalf("Lookup(app-42) = %v, %v", got, ok)
	}
	if _, ok := e.Lookup("does-not-exist"); ok {
		t.Error("Lookup should report false for an unknown id")
	}
}

func TestParallelCollectionAddedToEngineAdvancesChildren(t *testing.T) {
	be := &fakeBackend{name: "be"}
	e, _ := newTestEngine(t, be, Config{})
	a, b := mustApp(t, "a"), mustApp(t, "b")
	p := task.NewParallelTaskCollection("group", []task.Task{a, b})
	e.Add(p)

	if err := e.Progress(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Run().State() != task.StateSubmitted || b.Run().State() != task.StateSubmitted {
		t.Fatalf("children states = %s, %s, want both SUBMITTED", a.Run().State(), b.Run().State())
	}
}
