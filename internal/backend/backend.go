// Package backend defines the external collaborator interface of spec.md
// §4.2: the core never talks to a real batch system, only to whatever
// implements Backend. internal/backend/local and internal/backend/ssh are
// reference implementations built to exercise the interface end to end.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/gridforge/gridforge/internal/task"
)

// Architecture is the closed enum of §3.3's requested_architecture.
type Architecture string

const (
	ArchUnspecified Architecture = ""
	ArchX86_64      Architecture = "x86_64"
	ArchI686        Architecture = "i686"
)

// ResourceRequest is an Application's resource ask (§3.3).
type ResourceRequest struct {
	Cores        int
	MemoryBytes  int64
	Walltime     time.Duration
	Architecture Architecture
}

// Submittable is the view of an Application a Backend needs in order to
// run it: everything in §3.3 beyond the generic Task identity/state that
// task.Task already provides. Application implements this; TaskCollections
// never do, since they are never themselves submitted.
type Submittable interface {
	task.Task

	Argv() []string
	InputMap() map[string]string  // source URL -> remote relative path
	OutputMap() map[string]string // remote relative path -> destination URL
	Environment() map[string]string
	Join() bool
	OutputDir() string
	ResourceRequest() ResourceRequest
	Tags() []string
	RequestedBackend() string // §3.6 pin; "" means unpinned
	KillSignal() string
}

// Stream selects which of an Application's output streams Peek reads.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Capabilities is the static+dynamic advertisement a Backend makes (§4.2).
type Capabilities struct {
	Name             string
	Type             string
	Architecture     Architecture
	MaxCoresPerJob   int
	MaxMemoryPerCore int64
	MaxWalltime      time.Duration
	Tags             []string

	FreeSlots      int
	QueuedTotal    int
	OwnQueued      int
	OwnRunning     int
	Updated        bool
}

// Backend is the interface the Scheduler, Core and Engine drive (§4.2).
// Every method's error must be classified against internal/griderr's
// sentinels (via errors.Is/As), never by message matching.
type Backend interface {
	Capabilities() Capabilities

	// Update refreshes the advertised Capabilities snapshot.
	Update(ctx context.Context) error

	// Submit moves task from NEW to SUBMITTED, setting a backend_job_id.
	Submit(ctx context.Context, t Submittable) error

	// UpdateState refreshes t's Run (state, returncode, info) from the
	// Backend's view of the job. t is never NEW.
	UpdateState(ctx context.Context, t Submittable) error

	// Cancel requests termination of a non-NEW, non-TERMINATED task.
	Cancel(ctx context.Context, t Submittable) error

	// Peek returns up to size bytes of stream starting at offset.
	Peek(ctx context.Context, t Submittable, stream Stream, offset, size int64) (io.ReadCloser, error)

	// FetchOutput materializes t's declared outputs under destDir and
	// moves a TERMINATING task to TERMINATED.
	FetchOutput(ctx context.Context, t Submittable, destDir string, overwrite bool) error

	// Free releases any backend-side storage for a TERMINATED task.
	// Best-effort: callers log failures but do not fail the sweep.
	Free(ctx context.Context, t Submittable) error
}
