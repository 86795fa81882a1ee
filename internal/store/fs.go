package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/persist"
)

// FilesystemStore implements Store as one file per id under dir, matching
// spec.md §6's FS Store layout. Writes go through a temp-then-rename with a
// ".OLD" backup of whatever they replace, restored on any failure partway
// through (§4.6 point 3). A weak-reference cache gives repeated Loads of a
// still-live object the identical pointer (invariant #2) without the Store
// itself keeping anything alive past its natural use.
type FilesystemStore struct {
	dir      string
	factory  *persist.Factory
	registry *persist.Registry

	mu    sync.Mutex
	cache map[persist.ID]weakRef
}

func NewFilesystemStore(dir string, registry *persist.Registry) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}
	res, err := NewFileReservation(filepath.Join(dir, ".reserve.json"))
	if err != nil {
		return nil, fmt.Errorf("store: open reservation: %w", err)
	}
	return &FilesystemStore{
		dir:      dir,
		factory:  persist.NewFactory(res),
		registry: registry,
		cache:    make(map[persist.ID]weakRef),
	}, nil
}

func (s *FilesystemStore) path(id persist.ID) string {
	return filepath.Join(s.dir, string(id))
}

func (s *FilesystemStore) Save(ctx context.Context, obj persist.Coder) (persist.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(obj, make(map[persist.Coder]persist.ID))
}

// saveLocked recursively saves obj and anything it references through
// EncodeBody's record callback, memoizing within this one call so a shared
// subobject is written exactly once per Save (§4.6 point 2) rather than
// once per referencing parent.
func (s *FilesystemStore) saveLocked(obj persist.Coder, seen map[persist.Coder]persist.ID) (persist.ID, error) {
	if id, ok := seen[obj]; ok {
		return id, nil
	}
	id := obj.PersistentID()
	if id.Empty() {
		newID, err := s.factory.New(obj.TypeTag())
		if err != nil {
			return "", err
		}
		obj.SetPersistentID(newID)
		id = newID
	}
	seen[obj] = id

	body, err := obj.EncodeBody(func(child persist.Persistable) (persist.ID, error) {
		coder, ok := child.(persist.Coder)
		if !ok {
			return "", fmt.Errorf("store: %T does not implement Coder", child)
		}
		return s.saveLocked(coder, seen)
	})
	if err != nil {
		return "", fmt.Errorf("store: encode %s: %w", id, err)
	}

	env := persist.Envelope{Type: obj.TypeTag(), ID: id, Data: body}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("store: marshal envelope for %s: %w", id, err)
	}
	if err := atomicWrite(s.path(id), data); err != nil {
		return "", fmt.Errorf("store: write %s: %w", id, err)
	}
	obj.SetChanged(false)
	s.cache[id] = newWeakRef(obj)
	return id, nil
}

func (s *FilesystemStore) Load(ctx context.Context, id persist.ID) (persist.Coder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id, make(map[persist.ID]persist.Coder))
}

// loadLocked breaks reference cycles (Task<->parent, Task<->Engine) with
// inProgress: an id being decoded resolves to its own not-yet-fully-built
// object rather than recursing forever.
func (s *FilesystemStore) loadLocked(id persist.ID, inProgress map[persist.ID]persist.Coder) (persist.Coder, error) {
	if obj, ok := inProgress[id]; ok {
		return obj, nil
	}
	if ref, ok := s.cache[id]; ok {
		if v := ref.Value(); v != nil {
			return v, nil
		}
		delete(s.cache, id)
	}

	data, err := s.readWithBackup(id)
	if err != nil {
		return nil, err
	}
	var env persist.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("store: corrupt envelope for %s: %w", id, err)
	}
	obj, ok := s.registry.New(env.Type)
	if !ok {
		return nil, fmt.Errorf("store: no constructor registered for type tag %q", env.Type)
	}
	obj.SetPersistentID(env.ID)
	inProgress[id] = obj

	if err := obj.DecodeBody(env.Data, func(childID persist.ID) (persist.Persistable, error) {
		return s.loadLocked(childID, inProgress)
	}); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", id, err)
	}
	obj.SetChanged(false)
	s.cache[env.ID] = newWeakRef(obj)
	return obj, nil
}

func (s *FilesystemStore) readWithBackup(id persist.ID) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read %s: %w", id, err)
	}
	backup, backupErr := os.ReadFile(s.path(id) + ".OLD")
	if backupErr != nil {
		return nil, griderr.ErrNotFound
	}
	return backup, nil
}

func (s *FilesystemStore) Replace(ctx context.Context, id persist.ID, obj persist.Coder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj.SetPersistentID(id)
	_, err := s.saveLocked(obj, make(map[persist.Coder]persist.ID))
	return err
}

func (s *FilesystemStore) Remove(ctx context.Context, id persist.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove %s: %w", id, err)
	}
	_ = os.Remove(s.path(id) + ".OLD")
	return nil
}

func (s *FilesystemStore) List(ctx context.Context) ([]persist.ID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", s.dir, err)
	}
	ids := make([]persist.ID, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".OLD") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		ids = append(ids, persist.ID(name))
	}
	return ids, nil
}

func (s *FilesystemStore) PreFork() error  { return nil }
func (s *FilesystemStore) PostFork() error { return nil }

// atomicWrite implements the write side of §4.6 point 3: the previous
// contents of path, if any, are preserved as path+".OLD" until the new
// write is durably in place, and restored if any step fails.
func atomicWrite(path string, data []byte) error {
	backup := path + ".OLD"
	hadExisting := false
	if _, err := os.Stat(path); err == nil {
		hadExisting = true
		if err := os.Rename(path, backup); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		if hadExisting {
			_ = os.Rename(backup, path)
		}
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		if hadExisting {
			_ = os.Rename(backup, path)
		}
		return err
	}
	if hadExisting {
		_ = os.Remove(backup)
	}
	return nil
}
