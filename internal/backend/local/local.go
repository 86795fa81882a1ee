// Package local implements backend.Backend by running argv through
// os/exec on the machine hosting the Engine. It is the local reference
// adapter named in SPEC_FULL.md §4.13; gs:// inputs and outputs go
// through internal/backend/gcsstage.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"

	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/backend/gcsstage"
	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/gridlog"
	"github.com/gridforge/gridforge/internal/task"
)

type job struct {
	cmd     *exec.Cmd
	workDir string
	stdout  *os.File
	stderr  *os.File
	done    chan struct{}
	waitErr error
	started time.Time
}

// Backend runs jobs as local subprocesses. Concurrency is bounded purely
// by maxCores against the sum of in-flight jobs' requested cores.
type Backend struct {
	mu sync.Mutex

	name             string
	maxCores         int
	maxMemoryPerCore int64
	maxWalltime      time.Duration
	arch             backend.Architecture
	tags             []string
	log              *gridlog.Logger

	jobs       map[string]*job
	usedCores  int
	nextID     int64
	lastUpdate bool

	gcsOnce sync.Once
	gcs     *storage.Client
	gcsErr  error
}

// gcsClient lazily dials cloud storage: most local-backend use never
// touches a gs:// input/output, so there is no reason to require
// credentials at construction time.
func (b *Backend) gcsClient() (*storage.Client, error) {
	b.gcsOnce.Do(func() {
		b.gcs, b.gcsErr = gcsstage.NewClient(context.Background())
	})
	return b.gcs, b.gcsErr
}

func New(name string, maxCores int, maxMemoryPerCore int64, maxWalltime time.Duration, arch backend.Architecture, tags []string, log *gridlog.Logger) *Backend {
	if log == nil {
		log = gridlog.Nop()
	}
	return &Backend{
		name: name, maxCores: maxCores, maxMemoryPerCore: maxMemoryPerCore,
		maxWalltime: maxWalltime, arch: arch, tags: tags, log: log,
		jobs: make(map[string]*job),
	}
}

func (b *Backend) Capabilities() backend.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return backend.Capabilities{
		Name: b.name, Type: "local", Architecture: b.arch,
		MaxCoresPerJob: b.maxCores, MaxMemoryPerCore: b.maxMemoryPerCore, MaxWalltime: b.maxWalltime,
		Tags:        b.tags,
		FreeSlots:   b.maxCores - b.usedCores,
		QueuedTotal: len(b.jobs), OwnQueued: 0, OwnRunning: len(b.jobs),
		Updated: b.lastUpdate,
	}
}

func (b *Backend) Update(ctx context.Context) error {
	b.mu.Lock()
	b.lastUpdate = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) Submit(ctx context.Context, t backend.Submittable) error {
	argv := t.Argv()
	if len(argv) == 0 {
		return griderr.NewBackendError(b.name, griderr.ErrUnrecoverable, fmt.Errorf("empty argv"))
	}
	workDir, err := os.MkdirTemp("", "gridforge-local-*")
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrResourceNotReady, err)
	}
	if err := stageInputs(ctx, b.gcsClient, t.InputMap(), workDir); err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = envSlice(t.Environment())

	stdout, stderr, err := openStreams(workDir, t)
	if err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
	}
	cmd.Stdout = stdout
	if t.Join() {
		cmd.Stderr = stdout
	} else {
		cmd.Stderr = stderr
	}

	rr := t.ResourceRequest()

	b.mu.Lock()
	if b.maxCores > 0 && b.usedCores+rr.Cores > b.maxCores {
		b.mu.Unlock()
		return griderr.NewBackendError(b.name, griderr.ErrResourceNotReady, fmt.Errorf("no free slots"))
	}
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		return griderr.NewBackendError(b.name, griderr.ErrUnrecoverable, err)
	}
	id := fmt.Sprintf("local-%d", atomic.AddInt64(&b.nextID, 1))
	j := &job{cmd: cmd, workDir: workDir, stdout: stdout, stderr: stderr, done: make(chan struct{}), started: time.Now()}
	b.jobs[id] = j
	b.usedCores += rr.Cores
	b.mu.Unlock()

	go func() {
		j.waitErr = cmd.Wait()
		close(j.done)
	}()

	t.Run().BackendName = b.name
	t.Run().BackendJobID = id
	return t.Run().SetState(task.StateSubmitted)
}

func (b *Backend) UpdateState(ctx context.Context, t backend.Submittable) error {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return griderr.NewBackendError(b.name, griderr.ErrTransient, fmt.Errorf("unknown job %q", t.Run().BackendJobID))
	}
	select {
	case <-j.done:
		return t.Run().SetState(task.StateTerminating)
	default:
		if t.Run().State() == task.StateSubmitted {
			return t.Run().SetState(task.StateRunning)
		}
		return nil
	}
}

func (b *Backend) Cancel(ctx context.Context, t backend.Submittable) error {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return nil
	}
	if j.cmd.Process != nil {
		_ = j.cmd.Process.Kill()
	}
	return t.Run().SetState(task.StateTerminated)
}

func (b *Backend) Peek(ctx context.Context, t backend.Submittable, stream backend.Stream, offset, size int64) (io.ReadCloser, error) {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return nil, griderr.NewBackendError(b.name, griderr.ErrNotAvailable, fmt.Errorf("unknown job"))
	}
	path := j.stdout.Name()
	if stream == backend.StreamStderr && j.stderr != nil {
		path = j.stderr.Name()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, griderr.NewBackendError(b.name, griderr.ErrNotAvailable, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, griderr.NewBackendError(b.name, griderr.ErrNotAvailable, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(f, size), f}, nil
}

func (b *Backend) FetchOutput(ctx context.Context, t backend.Submittable, destDir string, overwrite bool) error {
	j, ok := b.job(t.Run().BackendJobID)
	if !ok {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, fmt.Errorf("unknown job"))
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
	}
	for remote, destURL := range t.OutputMap() {
		src := filepath.Join(j.workDir, remote)
		if err := publishOutput(ctx, b.gcsClient, src, destURL, destDir, remote, overwrite); err != nil {
			return griderr.NewBackendError(b.name, griderr.ErrDataStaging, err)
		}
	}
	rc := task.ExitCode(exitCodeOf(j.waitErr))
	t.Run().ReturnCode = rc
	return t.Run().SetState(task.StateTerminated)
}

func (b *Backend) Free(ctx context.Context, t backend.Submittable) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := t.Run().BackendJobID
	if j, ok := b.jobs[id]; ok {
		j.stdout.Close()
		if j.stderr != nil {
			j.stderr.Close()
		}
		_ = os.RemoveAll(j.workDir)
		b.usedCores -= t.ResourceRequest().Cores
		delete(b.jobs, id)
	}
	return nil
}

func (b *Backend) job(id string) (*job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	return j, ok
}
