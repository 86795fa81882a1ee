// Package persist defines the identity and serialization contract shared by
// every object a Store can hold: the persistent id scheme, the Persistable
// interface, and the tagged-variant envelope used to encode object graphs
// with shared-subobject references preserved (§4.6, §9 "Mixin-based
// Persistable becomes an interface").
package persist

import "fmt"

// ID is a Task's persistent id: "<prefix>.<seqno>", where prefix is usually
// the concrete type's tag (e.g. "Application", "ParallelTaskCollection")
// and seqno is a monotonic counter unique within a Store across restarts.
// Temporally unique, never reused, comparable by (prefix, seqno).
type ID string

// Empty reports whether this ID has not yet been assigned by a Store.
func (id ID) Empty() bool { return id == "" }

func (id ID) String() string { return string(id) }

// Factory mints new IDs. A single Factory instance must back exactly one
// Store; its Reserve counter is what gives ids cross-restart uniqueness.
type Factory struct {
	reserve Reservation
}

// Reservation persists the next unused sequence number per prefix so that
// ids remain monotonic even after the process restarts. Implementations:
// see store/idreserve.go (file-backed) and store's SQL counterpart.
type Reservation interface {
	// Next returns the next unused sequence number for prefix and durably
	// advances the counter so the same number is never returned twice.
	Next(prefix string) (int64, error)
}

func NewFactory(r Reservation) *Factory {
	return &Factory{reserve: r}
}

// New mints a fresh ID for an object tagged with prefix (its TypeTag()).
func (f *Factory) New(prefix string) (ID, error) {
	if prefix == "" {
		return "", fmt.Errorf("persist: empty type tag")
	}
	n, err := f.reserve.Next(prefix)
	if err != nil {
		return "", fmt.Errorf("persist: reserve id for %q: %w", prefix, err)
	}
	return ID(fmt.Sprintf("%s.%d", prefix, n)), nil
}
