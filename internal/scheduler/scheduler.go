// Package scheduler implements the Scheduler/Broker of spec.md §4.3:
// given a Task and a list of Backends, filter by hard resource/capability
// constraints and rank the survivors by soft preference.
package scheduler

import (
	"sort"

	"github.com/gridforge/gridforge/internal/backend"
	"github.com/gridforge/gridforge/internal/gridlog"
)

type Broker struct {
	log *gridlog.Logger
}

func New(log *gridlog.Logger) *Broker {
	if log == nil {
		log = gridlog.Nop()
	}
	return &Broker{log: log}
}

// Rank returns backends in the order Core should try them: filtered by the
// six hard constraints of §4.3, then sorted by the three soft tiebreakers.
// If t pins a backend (§3.6 RequestedBackend), ranking is bypassed: only
// that backend is returned, still subject to the hard filters.
func (b *Broker) Rank(t backend.Submittable, backends []backend.Backend) []backend.Backend {
	candidates := make([]backend.Backend, 0, len(backends))
	for _, be := range backends {
		if b.passesHardFilters(t, be.Capabilities()) {
			candidates = append(candidates, be)
		}
	}

	if pin := t.RequestedBackend(); pin != "" {
		for _, be := range candidates {
			if be.Capabilities().Name == pin {
				return []backend.Backend{be}
			}
		}
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].Capabilities(), candidates[j].Capabilities()
		if ci.FreeSlots != cj.FreeSlots {
			return ci.FreeSlots > cj.FreeSlots // more free slots first
		}
		if ci.OwnQueued != cj.OwnQueued {
			return ci.OwnQueued < cj.OwnQueued // shorter own-queue first
		}
		return ci.Name < cj.Name // deterministic tiebreak
	})
	return candidates
}

func (b *Broker) passesHardFilters(t backend.Submittable, caps backend.Capabilities) bool {
	if !caps.Updated {
		b.log.Warn("scheduler: skipping backend with stale capabilities", "backend", caps.Name)
		return false
	}
	if !tagsSubset(t.Tags(), caps.Tags) {
		return false
	}
	rr := t.ResourceRequest()
	if caps.MaxCoresPerJob > 0 && rr.Cores > caps.MaxCoresPerJob {
		return false
	}
	if caps.MaxMemoryPerCore > 0 && rr.Cores > 0 && rr.MemoryBytes > caps.MaxMemoryPerCore*int64(rr.Cores) {
		return false
	}
	if caps.MaxWalltime > 0 && rr.Walltime > caps.MaxWalltime {
		return false
	}
	if rr.Architecture != backend.ArchUnspecified && caps.Architecture != backend.ArchUnspecified && rr.Architecture != caps.Architecture {
		return false
	}
	return true
}

func tagsSubset(want, have []string) bool {
	haveSet := make(map[string]bool, len(have))
	for _, t := range have {
		haveSet[t] = true
	}
	for _, t := range want {
		if !haveSet[t] {
			return false
		}
	}
	return true
}
