package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/conductor/driver"
)

type trackedResource struct {
	resource driver.Resource
	states   subresourceStates
}

// Tracker computes the barriers one recording context needs without the caller knowing the
// true state of any resource.
//
// A transition of a subresource the tracker has already seen produces an immediate barrier,
// whose before-state is the last state this tracker assigned. A transition of a subresource the
// tracker has never seen produces a pending barrier: its before-state cannot be known until the
// context is submitted, at which point FlushPendingResourceBarriers resolves it against the
// GlobalTable.
type Tracker struct {
	logger *slog.Logger

	pending   []driver.ResourceBarrier
	immediate []driver.ResourceBarrier
	final     *swiss.Map[driver.ResourceID, *trackedResource]
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		final:  swiss.NewMap[driver.ResourceID, *trackedResource](16),
	}
}

func (t *Tracker) PendingCount() int   { return len(t.pending) }
func (t *Tracker) ImmediateCount() int { return len(t.immediate) }

// FinalState returns the state this tracker will leave a subresource in. The second return value is
// false if the tracker has never seen the subresource.
func (t *Tracker) FinalState(resource driver.Resource, subresource uint32) (driver.ResourceState, bool) {
	tracked, ok := t.final.Get(resource.ID())
	if !ok {
		return driver.StateCommon, false
	}
	if subresource == driver.AllSubresources {
		return tracked.states.uniform(resource.SubresourceCount(), driver.StateCommon)
	}
	return tracked.states.get(subresource)
}

func (t *Tracker) addImmediate(resource driver.Resource, before, after driver.ResourceState, subresource uint32) {
	t.immediate = append(t.immediate, driver.TransitionBarrier(resource, before, after, subresource))
}

func (t *Tracker) addPending(resource driver.Resource, after driver.ResourceState, subresource uint32) {
	t.pending = append(t.pending, driver.TransitionBarrier(resource, driver.StateCommon, after, subresource))
}

// TransitionResource requests that a subresource (or driver.AllSubresources) be in afterState
// before the next dependent operation.
func (t *Tracker) TransitionResource(resource driver.Resource, afterState driver.ResourceState, subresource uint32) {
	if !afterState.IsValid() {
		panic(fmt.Sprintf("invalid resource state %s", afterState))
	}

	subresource = normalizeSubresource(resource, subresource)
	count := resource.SubresourceCount()
	if subresource != driver.AllSubresources && int(subresource) >= count {
		panic(fmt.Sprintf("subresource %d is out of range for resource %s with %d subresources", subresource, resource.Name(), count))
	}

	tracked, seen := t.final.Get(resource.ID())
	if !seen {
		tracked = &trackedResource{resource: resource}
		t.final.Put(resource.ID(), tracked)

		t.addPending(resource, afterState, subresource)
		tracked.states.set(subresource, afterState)
		return
	}

	if subresource != driver.AllSubresources {
		before, known := tracked.states.get(subresource)
		if !known {
			t.addPending(resource, afterState, subresource)
		} else if before != afterState {
			t.addImmediate(resource, before, afterState, subresource)
		}

		tracked.states.set(subresource, afterState)
		tracked.states.collapse(count)
		return
	}

	if before, uniform := tracked.states.uniform(count, 0); uniform && tracked.states.knowsAll(count) {
		if before != afterState {
			t.addImmediate(resource, before, afterState, driver.AllSubresources)
		}
	} else {
		for sub := 0; sub < count; sub++ {
			before, known := tracked.states.get(uint32(sub))
			if !known {
				t.addPending(resource, afterState, uint32(sub))
			} else if before != afterState {
				t.addImmediate(resource, before, afterState, uint32(sub))
			}
		}
	}

	tracked.states.setAll(afterState)
}

func (t *Tracker) UAVBarrier(resource driver.Resource) {
	t.immediate = append(t.immediate, driver.UAVBarrier(resource))
}

func (t *Tracker) AliasBarrier(before, after driver.Resource) {
	t.immediate = append(t.immediate, driver.AliasingBarrier(before, after))
}

// ResourceBarrier adds a barrier of any type. The before-state of transition barriers is ignored
// in favor of the state the tracker computes.
func (t *Tracker) ResourceBarrier(barrier driver.ResourceBarrier) {
	switch barrier.Type {
	case driver.BarrierTransition:
		t.TransitionResource(barrier.Resource, barrier.StateAfter, barrier.Subresource)
	case driver.BarrierUAV:
		t.UAVBarrier(barrier.Resource)
	case driver.BarrierAliasing:
		t.AliasBarrier(barrier.AliasBefore, barrier.AliasAfter)
	}
}

// FlushResourceBarriers records every immediate barrier into stream as a single batch and returns
// the number recorded
func (t *Tracker) FlushResourceBarriers(stream driver.CommandStream) int {
	count := len(t.immediate)
	if count == 0 {
		return 0
	}

	stream.ResourceBarrier(t.immediate)
	t.immediate = t.immediate[:0]
	return count
}

// FlushPendingResourceBarriers resolves every pending barrier against table and records the ones
// that still change a subresource's state into stream. Pending barriers whose after-state matches
// the table are dropped. The caller must hold table's lock. It returns the number of barriers
// recorded.
func (t *Tracker) FlushPendingResourceBarriers(table *GlobalTable, stream driver.CommandStream) int {
	table.assertLocked()

	var resolved []driver.ResourceBarrier
	for _, pending := range t.pending {
		resource := pending.Resource
		after := pending.StateAfter

		entry, registered := table.entries.Get(resource.ID())
		var global *subresourceStates
		if registered {
			global = &entry.states
		} else {
			global = &subresourceStates{}
		}

		if pending.Subresource != driver.AllSubresources {
			before := global.stateOr(pending.Subresource, driver.StateCommon)
			if before != after {
				resolved = append(resolved, driver.TransitionBarrier(resource, before, after, pending.Subresource))
			}
			continue
		}

		count := resource.SubresourceCount()
		if before, uniform := global.uniform(count, driver.StateCommon); uniform {
			if before != after {
				resolved = append(resolved, driver.TransitionBarrier(resource, before, after, driver.AllSubresources))
			}
			continue
		}

		for sub := 0; sub < count; sub++ {
			before := global.stateOr(uint32(sub), driver.StateCommon)
			if before != after {
				resolved = append(resolved, driver.TransitionBarrier(resource, before, after, uint32(sub)))
			}
		}
	}

	t.logger.LogAttrs(context.Background(), slog.LevelDebug, "Tracker::FlushPendingResourceBarriers",
		slog.Int("Pending", len(t.pending)),
		slog.Int("Resolved", len(resolved)))

	t.pending = t.pending[:0]
	if len(resolved) > 0 {
		stream.ResourceBarrier(resolved)
	}
	return len(resolved)
}

// CommitFinalResourceStates writes the state this tracker leaves every resource in into table.
// The caller must hold table's lock.
func (t *Tracker) CommitFinalResourceStates(table *GlobalTable) {
	table.assertLocked()

	t.final.Iter(func(id driver.ResourceID, tracked *trackedResource) bool {
		entry := table.entryLocked(tracked.resource)
		if tracked.states.hasAll {
			entry.states.setAll(tracked.states.all)
		}
		for sub, state := range tracked.states.subs {
			entry.states.set(sub, state)
		}
		entry.states.collapse(tracked.resource.SubresourceCount())
		return false
	})
}

// Reset forgets every barrier and state. It is called when the owning context is reused.
func (t *Tracker) Reset() {
	t.pending = t.pending[:0]
	t.immediate = t.immediate[:0]
	t.final = swiss.NewMap[driver.ResourceID, *trackedResource](16)
}
