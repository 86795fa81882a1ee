package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gridforge/gridforge/internal/application"
	"github.com/gridforge/gridforge/internal/store"
	"github.com/gridforge/gridforge/internal/task"
)

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	jobsDir := JobsDir(dir)
	st, err := store.NewFilesystemStore(jobsDir, store.DefaultRegistry())
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	sess, err := Open(dir, "file://"+jobsDir, st)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sess, dir
}

func newApp(t *testing.T, name string) *application.Application {
	t.Helper()
	a, err := application.New(name, application.Config{Argv: []string{"echo", name}})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestOpenWritesCreatedMarkerAndStoreURL(t *testing.T) {
	sess, dir := newTestSession(t)
	if _, err := os.Stat(filepath.Join(dir, createdFile)); err != nil {
		t.Errorf("created marker missing: %v", err)
	}
	got, err := ReadStoreURL(dir)
	if err != nil {
		t.Fatalf("ReadStoreURL: %v", err)
	}
	if got != sess.storeURL {
		t.Errorf("ReadStoreURL() = %q, want %q", got, sess.storeURL)
	}
}

func TestAddPersistsAndIndexes(t *testing.T) {
	sess, dir := newTestSession(t)
	a := newApp(t, "job-a")

	id, err := sess.Add(context.Background(), a)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id.Empty() {
		t.Fatal("Add should return a non-empty id")
	}
	if got := sess.ListIDs(); len(got) != 1 || got[0] != id {
		t.Fatalf("ListIDs() = %v, want [%s]", got, id)
	}
	if _, err := os.Stat(filepath.Join(dir, indexFile)); err != nil {
		t.Errorf("index file should exist after Add: %v", err)
	}
}

func TestReopenRecoversIndex(t *testing.T) {
	dir := t.TempDir()
	jobsDir := JobsDir(dir)
	st, err := store.NewFilesystemStore(jobsDir, store.DefaultRegistry())
	if err != nil {
		t.Fatal(err)
	}
	sess, err := Open(dir, "file://"+jobsDir, st)
	if err != nil {
		t.Fatal(err)
	}
	a := newApp(t, "persisted")
	id, err := sess.Add(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}

	st2, err := store.NewFilesystemStore(jobsDir, store.DefaultRegistry())
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(dir, "file://"+jobsDir, st2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.ListIDs(); len(got) != 1 || got[0] != id {
		t.Fatalf("reopened ListIDs() = %v, want [%s]", got, id)
	}
}

func TestTasksSkipsLoadErrorsAndReportsThem(t *testing.T) {
	sess, _ := newTestSession(t)
	a := newApp(t, "real")
	if _, err := sess.Add(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	sess.ids = append(sess.ids, "Application.9999")

	tasks, errs := sess.Tasks(context.Background())
	if len(tasks) != 1 {
		t.Errorf("Tasks() returned %d tasks, want 1 real one", len(tasks))
	}
	if len(errs) != 1 {
		t.Errorf("Tasks() returned %d errors, want 1 for the missing id", len(errs))
	}
}

func TestRemoveDropsFromIndexAndStore(t *testing.T) {
	sess, _ := newTestSession(t)
	a := newApp(t, "removable")
	id, err := sess.Add(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(sess.ListIDs()) != 0 {
		t.Error("ListIDs() should be empty after Remove")
	}
	tasks, _ := sess.Tasks(context.Background())
	if len(tasks) != 0 {
		t.Error("removed task should no longer load")
	}
}

func TestDestroyRemovesSessionDirectory(t *testing.T) {
	sess, dir := newTestSession(t)
	a := newApp(t, "doomed")
	if _, err := sess.Add(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := sess.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("session directory should be gone after Destroy, stat err = %v", err)
	}
}

func TestIsInsideDetectsNestedStoreURL(t *testing.T) {
	if !isInside("/a/b", "/a/b/jobs") {
		t.Error("jobs under the session dir should be detected as inside")
	}
	if isInside("/a/b", "/somewhere/else") {
		t.Error("an unrelated path should not be detected as inside")
	}
	if isInside("/a/b", "") {
		t.Error("an empty store path should not be considered inside")
	}
}

func TestExitCodeCombinesBits(t *testing.T) {
	failed := newApp(t, "failed")
	_ = failed.Run().SetState(task.StateSubmitted)
	_ = failed.Run().SetState(task.StateRunning)
	_ = failed.Run().SetState(task.StateTerminating)
	failed.Run().ReturnCode = task.ExitCode(1)
	_ = failed.Run().SetState(task.StateTerminated)

	running := newApp(t, "running")
	_ = running.Run().SetState(task.StateSubmitted)
	_ = running.Run().SetState(task.StateRunning)

	fresh := newApp(t, "fresh")

	got := ExitCode(toTasks(failed, running, fresh), false)
	want := ExitTaskFailed | ExitTaskPending | ExitTaskNew
	if got != want {
		t.Errorf("ExitCode() = %d, want %d", got, want)
	}

	if got := ExitCode(nil, true); got != ExitFatalError {
		t.Errorf("ExitCode(nil, true) = %d, want %d", got, ExitFatalError)
	}
}

func toTasks(apps ...*application.Application) []task.Task {
	out := make([]task.Task, len(apps))
	for i, a := range apps {
		out[i] = a
	}
	return out
}

func TestStoreURLPathHandlesSchemes(t *testing.T) {
	if got := storeURLPath("file:///tmp/jobs"); got != "/tmp/jobs" {
		t.Errorf("file:// scheme = %q, want /tmp/jobs", got)
	}
	if got := storeURLPath("postgres://host/db"); got != "" {
		t.Errorf("non-file scheme should resolve to empty, got %q", got)
	}
	if got := storeURLPath("/bare/path"); got != "/bare/path" {
		t.Errorf("bare path should pass through unchanged, got %q", got)
	}
}
