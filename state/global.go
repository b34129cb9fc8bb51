package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/conductor/driver"
)

type globalEntry struct {
	resource driver.Resource
	states   subresourceStates
}

// GlobalTable is the authoritative state of every resource, shared by every recording context of
// a device. It changes only when a context is submitted: the submitting queue holds the table's
// lock while it resolves the context's pending barriers against the table and then commits the
// context's final states into it.
type GlobalTable struct {
	logger *slog.Logger

	mutex   sync.Mutex
	entries *swiss.Map[driver.ResourceID, *globalEntry]
}

func NewGlobalTable(logger *slog.Logger) *GlobalTable {
	return &GlobalTable{
		logger:  logger,
		entries: swiss.NewMap[driver.ResourceID, *globalEntry](64),
	}
}

func (g *GlobalTable) Lock()   { g.mutex.Lock() }
func (g *GlobalTable) Unlock() { g.mutex.Unlock() }

func (g *GlobalTable) assertLocked() {
	if g.mutex.TryLock() {
		g.mutex.Unlock()
		panic("global resource state table accessed without holding its lock")
	}
}

// AddResource registers a resource in the provided state. Resources that are never registered
// are treated as being in driver.StateCommon.
func (g *GlobalTable) AddResource(resource driver.Resource, state driver.ResourceState) {
	g.logger.LogAttrs(context.Background(), slog.LevelDebug, "GlobalTable::AddResource",
		slog.String("Resource", resource.Name()),
		slog.String("State", state.String()))

	g.mutex.Lock()
	defer g.mutex.Unlock()

	entry := &globalEntry{resource: resource}
	entry.states.setAll(state)
	g.entries.Put(resource.ID(), entry)
}

func (g *GlobalTable) RemoveResource(resource driver.Resource) {
	g.logger.LogAttrs(context.Background(), slog.LevelDebug, "GlobalTable::RemoveResource",
		slog.String("Resource", resource.Name()))

	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.entries.Delete(resource.ID())
}

// State returns the authoritative state of one subresource. Passing driver.AllSubresources returns
// the state of subresource 0.
func (g *GlobalTable) State(resource driver.Resource, subresource uint32) driver.ResourceState {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if subresource == driver.AllSubresources {
		subresource = 0
	}
	return g.stateLocked(resource.ID(), subresource)
}

// Count returns the number of registered resources
func (g *GlobalTable) Count() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.entries.Count()
}

func (g *GlobalTable) stateLocked(id driver.ResourceID, subresource uint32) driver.ResourceState {
	entry, ok := g.entries.Get(id)
	if !ok {
		return driver.StateCommon
	}
	return entry.states.stateOr(subresource, driver.StateCommon)
}

func (g *GlobalTable) entryLocked(resource driver.Resource) *globalEntry {
	entry, ok := g.entries.Get(resource.ID())
	if !ok {
		entry = &globalEntry{resource: resource}
		entry.states.setAll(driver.StateCommon)
		g.entries.Put(resource.ID(), entry)
	}
	return entry
}

// ResolveAndCommit resolves a tracker's pending barriers into stream and commits its final states,
// holding the table's lock across both. It returns the number of barriers recorded into stream.
func (g *GlobalTable) ResolveAndCommit(tracker *Tracker, stream driver.CommandStream) int {
	g.Lock()
	defer g.Unlock()

	count := tracker.FlushPendingResourceBarriers(g, stream)
	tracker.CommitFinalResourceStates(g)
	return count
}
