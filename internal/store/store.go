// Package store implements spec.md §4.6: a content-addressed keyed map
// from persistent id to serialized object graph, with shared-subobject
// preservation and a live-object cache. Two implementations are provided:
// FilesystemStore (one file per id) and SQLStore (gorm, one table).
package store

import (
	"context"

	"github.com/gridforge/gridforge/internal/persist"
)

// Store is the interface both implementations satisfy (§4.6's closing
// paragraph: "Both Stores expose the same interface").
type Store interface {
	Save(ctx context.Context, obj persist.Coder) (persist.ID, error)
	Load(ctx context.Context, id persist.ID) (persist.Coder, error)
	Replace(ctx context.Context, id persist.ID, obj persist.Coder) error
	Remove(ctx context.Context, id persist.ID) error
	List(ctx context.Context) ([]persist.ID, error)

	// PreFork/PostFork let a Backend that forks (e.g. an SSH multiplexer)
	// tell the Store to drop and reopen any live connection it holds.
	PreFork() error
	PostFork() error
}
