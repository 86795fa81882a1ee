package store

import (
	"github.com/gridforge/gridforge/internal/application"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/task"
)

// DefaultRegistry maps every TypeTag this module ships to a zero-value
// constructor, for the envelope-driven decode dispatch of persist.Registry.
// A host embedding its own Task types registers them alongside these.
func DefaultRegistry() *persist.Registry {
	r := persist.NewRegistry()
	r.Register("Application", func() persist.Coder { return &application.Application{} })
	r.Register("ParallelTaskCollection", func() persist.Coder { return &task.ParallelTaskCollection{} })
	r.Register("SequentialTaskCollection", func() persist.Coder { return &task.SequentialTaskCollection{} })
	r.Register("StagedTaskCollection", func() persist.Coder { return &task.StagedTaskCollection{} })
	r.Register("ChunkedParameterSweep", func() persist.Coder { return &task.ChunkedParameterSweep{} })
	r.Register("RetryableTask", func() persist.Coder { return &task.RetryableTask{} })
	return r
}
