// Package session implements spec.md §4.7/§6: a persistent directory
// indexing the top-level Tasks of one run, bound to a Store.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/store"
	"github.com/gridforge/gridforge/internal/task"
)

// destroyFanOut bounds how many top-level ids Destroy removes concurrently.
// Store housekeeping is safe to parallelize (unlike Engine scheduling,
// which spec.md §5 keeps strictly single-threaded).
const destroyFanOut = 8

const (
	storeURLFile  = "store.url"
	indexFile     = "session_ids.txt"
	createdFile   = "created"
	finishedFile  = "finished"
	defaultJobDir = "jobs"
)

// Session is a directory plus a bound Store, per §4.7's bit-exact layout.
type Session struct {
	dir      string
	storeURL string
	store    store.Store

	ownsStoreDir bool // true when storeURL points inside dir (destroy() removes it too)
	ids          []persist.ID
}

// Open creates a new session directory, or reopens an existing one if dir
// already contains a store.url file. st is the already-constructed Store
// the caller wants bound (the Store's own location is recorded in
// storeURL purely for §6's informational file; Open does not construct a
// Store itself, since that requires driver-specific configuration the
// session package has no business knowing).
func Open(dir, storeURL string, st store.Store) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create dir %s: %w", dir, err)
	}
	s := &Session{dir: dir, storeURL: storeURL, store: st}
	s.ownsStoreDir = isInside(dir, storeURLPath(storeURL))

	if _, err := os.Stat(s.path(createdFile)); os.IsNotExist(err) {
		if err := touch(s.path(createdFile)); err != nil {
			return nil, fmt.Errorf("session: write created marker: %w", err)
		}
	}
	if err := s.writeStoreURL(); err != nil {
		return nil, err
	}
	ids, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	s.ids = ids
	return s, nil
}

// ReadStoreURL reads store.url back out of an existing session directory
// so the caller can reconstruct the right kind of Store (FilesystemStore
// vs SQLStore) before calling Open again with it bound. This two-step
// split exists because only the host program knows how to turn a
// "sqlite:///..." URL into a live *gorm.DB connection.
func ReadStoreURL(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, storeURLFile))
	if err != nil {
		return "", fmt.Errorf("session: read %s: %w", storeURLFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Session) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Session) writeStoreURL() error {
	return os.WriteFile(s.path(storeURLFile), []byte(s.storeURL+"\n"), 0o644)
}

func (s *Session) readIndex() ([]persist.ID, error) {
	f, err := os.Open(s.path(indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read %s: %w", indexFile, err)
	}
	defer f.Close()
	var ids []persist.ID
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ids = append(ids, persist.ID(line))
	}
	return ids, sc.Err()
}

func (s *Session) writeIndex() error {
	var b strings.Builder
	for _, id := range s.ids {
		b.WriteString(string(id))
		b.WriteByte('\n')
	}
	tmp := s.path(indexFile) + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(indexFile))
}

// Add saves t (and anything it references) and appends its id to the
// index, flushing both immediately (§4.7: "both steps flushed to disk").
func (s *Session) Add(ctx context.Context, t task.Task) (persist.ID, error) {
	id, err := s.store.Save(ctx, t)
	if err != nil {
		return "", fmt.Errorf("session: add: %w", err)
	}
	s.ids = append(s.ids, id)
	if err := s.Flush(); err != nil {
		return "", err
	}
	return id, nil
}

// Remove recursively deletes id and every descendant Task from the Store
// (walking Advancer.Children for collections), then rewrites the index.
func (s *Session) Remove(ctx context.Context, id persist.ID) error {
	if err := s.removeTree(ctx, id); err != nil {
		return fmt.Errorf("session: remove %s: %w", id, err)
	}
	out := s.ids[:0]
	for _, existing := range s.ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	s.ids = out
	return s.Flush()
}

func (s *Session) removeRecursive(ctx context.Context, t task.Task) error {
	if adv, ok := t.(task.Advancer); ok {
		for _, child := range adv.Children() {
			if err := s.removeRecursive(ctx, child); err != nil {
				return err
			}
		}
	}
	return s.store.Remove(ctx, t.PersistentID())
}

// ListIDs returns the top-level ids this Session indexes, in insertion
// order.
func (s *Session) ListIDs() []persist.ID { return append([]persist.ID(nil), s.ids...) }

// Tasks loads and returns every top-level Task, skipping (not failing on)
// any id that fails to load and collecting its error in the second result
// (it logs nothing itself), per §7's load-error propagation
// policy: "Engine logs and skips; Session can continue with other Tasks".
// A caller that needs to know which ids failed should use ListIDs and
// Load individually instead.
func (s *Session) Tasks(ctx context.Context) ([]task.Task, []error) {
	var tasks []task.Task
	var errs []error
	for _, id := range s.ids {
		obj, err := s.store.Load(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("session: load %s: %w", id, err))
			continue
		}
		t, ok := obj.(task.Task)
		if !ok {
			errs = append(errs, fmt.Errorf("session: %s does not implement Task", id))
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, errs
}

// Flush rewrites the index and store-url files. Idempotent.
func (s *Session) Flush() error {
	if err := s.writeIndex(); err != nil {
		return fmt.Errorf("session: flush index: %w", err)
	}
	return s.writeStoreURL()
}

// Finish stamps the finished marker file, recording the session's
// termination time in its mtime.
func (s *Session) Finish() error {
	return touch(s.path(finishedFile))
}

// Destroy removes every descendant Task from the Store and deletes the
// session directory. If the bound Store's location is itself inside this
// directory, the Store's contents are removed along with it; otherwise an
// externally-located Store (e.g. a shared SQL database) is left alone.
//
// The per-id list-then-delete sweep fans out over a bounded errgroup: each
// top-level id's descendant tree lives behind its own Store keys, so
// deleting several trees concurrently is safe Store-internal housekeeping,
// not Engine scheduling (which stays single-threaded per spec.md §5).
func (s *Session) Destroy(ctx context.Context) error {
	ids := s.ListIDs()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(destroyFanOut)
	for _, id := range ids {
		g.Go(func() error { return s.removeTree(gctx, id) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.ids = nil
	return os.RemoveAll(s.dir)
}

// removeTree deletes id and its descendants from the Store without
// touching s.ids or the on-disk index; callers that mutate the index (like
// Remove) do so themselves, while Destroy throws the whole index away once
// every tree is gone.
func (s *Session) removeTree(ctx context.Context, id persist.ID) error {
	obj, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, griderr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("session: destroy %s: %w", id, err)
	}
	if t, ok := obj.(task.Task); ok {
		return s.removeRecursive(ctx, t)
	}
	return s.store.Remove(ctx, id)
}

// JobsDir is the conventional default Store location for a file-scheme
// Session (§6: "jobs/ # default Store location when scheme=file").
func JobsDir(sessionDir string) string {
	return filepath.Join(sessionDir, defaultJobDir)
}

// Exit-code bits for a CLI wrapper that drives one Session to completion,
// reconciling the two conflicting bit-0 conventions found in source (fatal
// error vs. per-task failure) onto the fatal-error reading: bit 0 is
// reserved for an execution error in the wrapper itself, not for any
// individual Task's outcome.
const (
	ExitFatalError  = 1 << 0
	ExitTaskFailed  = 1 << 1
	ExitTaskPending = 1 << 2
	ExitTaskNew     = 1 << 3
)

// ExitCode computes the status a CLI wrapper should return to its shell
// after running tasks to completion (or being interrupted), per the
// convention above. fatal reports whether the wrapper itself hit an
// unrecoverable error independent of any individual Task's state.
func ExitCode(tasks []task.Task, fatal bool) int {
	code := 0
	if fatal {
		code |= ExitFatalError
	}
	for _, t := range tasks {
		r := t.Run()
		switch {
		case r.State() == task.StateTerminated && !r.ReturnCode.Zero():
			code |= ExitTaskFailed
		case r.State() == task.StateSubmitted || r.State() == task.StateRunning:
			code |= ExitTaskPending
		case r.State() == task.StateNew:
			code |= ExitTaskNew
		}
	}
	return code
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func isInside(dir, target string) bool {
	if target == "" {
		return false
	}
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// storeURLPath extracts a filesystem path from a "file://..." or bare-path
// store URL; non-file schemes (e.g. "sqlite:///...", "postgres://...")
// return "" since they are never "inside" a session directory in the
// §4.7 sense.
func storeURLPath(url string) string {
	if strings.HasPrefix(url, "file://") {
		return strings.TrimPrefix(url, "file://")
	}
	if strings.Contains(url, "://") {
		return ""
	}
	return url
}
