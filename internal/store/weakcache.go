package store

import (
	"weak"

	"github.com/gridforge/gridforge/internal/application"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/task"
)

// weakRef erases a weak.Pointer[T] behind a Coder-returning accessor so the
// cache can hold one map of them regardless of the concrete Task type
// underneath. Each instantiation of weakBox[T] is its own concrete type
// and satisfies this interface independently; there is no reflection
// involved in the common path, only in the type switch in newWeakRef.
type weakRef interface {
	Value() persist.Coder
}

type weakBox[T any] struct {
	ptr weak.Pointer[T]
}

func (w weakBox[T]) Value() persist.Coder {
	p := w.ptr.Value()
	if p == nil {
		return nil
	}
	coder, ok := any(p).(persist.Coder)
	if !ok {
		return nil
	}
	return coder
}

// newWeakRef wraps obj in a weak.Pointer keyed to its concrete type, so the
// Store's cache never itself keeps obj reachable (satisfying invariant #2:
// load(save(t)) returns the same pointer only while some other reference
// to t keeps it alive; once the caller drops it, the cache entry silently
// goes stale and the next Load reconstructs from disk/db). Unregistered
// concrete types fall back to no caching rather than a panic.
func newWeakRef(obj persist.Coder) weakRef {
	switch v := obj.(type) {
	case *application.Application:
		return weakBox[application.Application]{ptr: weak.Make(v)}
	case *task.ParallelTaskCollection:
		return weakBox[task.ParallelTaskCollection]{ptr: weak.Make(v)}
	case *task.SequentialTaskCollection:
		return weakBox[task.SequentialTaskCollection]{ptr: weak.Make(v)}
	case *task.StagedTaskCollection:
		return weakBox[task.StagedTaskCollection]{ptr: weak.Make(v)}
	case *task.ChunkedParameterSweep:
		return weakBox[task.ChunkedParameterSweep]{ptr: weak.Make(v)}
	case *task.RetryableTask:
		return weakBox[task.RetryableTask]{ptr: weak.Make(v)}
	default:
		return nil
	}
}
