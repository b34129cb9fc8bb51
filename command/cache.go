package command

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/internal/utils"
)

// ErrAlreadyCached is returned by ResourceCache.Insert when the name is already in use
var ErrAlreadyCached = errors.New("a resource is already cached under this name")

type ResourceCacheOptions struct {
	// ExternallySynchronized disables the cache's internal locking
	ExternallySynchronized bool
	// InitialCapacity sizes the cache's table
	InitialCapacity uint32
}

// CachedResource is a resource held by a ResourceCache together with the views created for it
type CachedResource struct {
	Resource driver.Resource
	Views    []*View
}

// ResourceCache maps names to resources and their views. It is owned by whatever creates it and
// passed to the code that shares those resources. Evicting a name releases its views and retires
// the resource from the device's state table; both take effect when the current frame completes.
type ResourceCache struct {
	logger *slog.Logger
	device *Device

	mutex   utils.OptionalRWMutex
	entries *swiss.Map[string, CachedResource]
}

func NewResourceCache(logger *slog.Logger, device *Device, options ResourceCacheOptions) *ResourceCache {
	capacity := options.InitialCapacity
	if capacity == 0 {
		capacity = 16
	}

	return &ResourceCache{
		logger:  logger,
		device:  device,
		mutex:   utils.OptionalRWMutex{UseMutex: !options.ExternallySynchronized},
		entries: swiss.NewMap[string, CachedResource](capacity),
	}
}

func (c *ResourceCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.entries.Count()
}

// Insert adds a resource and its views under name. The cache takes ownership of the views.
func (c *ResourceCache) Insert(name string, resource driver.Resource, views ...*View) error {
	if resource == nil {
		return errors.Errorf("cannot cache a nil resource under %s", name)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.entries.Has(name) {
		return errors.Wrapf(ErrAlreadyCached, "failed to cache %s", name)
	}

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "ResourceCache::Insert",
		slog.String("Name", name),
		slog.String("Resource", resource.Name()),
		slog.Int("Views", len(views)))

	c.entries.Put(name, CachedResource{Resource: resource, Views: views})
	return nil
}

func (c *ResourceCache) Lookup(name string) (CachedResource, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.entries.Get(name)
}

// View returns the cached view at index for name, or nil if there is none
func (c *ResourceCache) View(name string, index int) *View {
	entry, ok := c.Lookup(name)
	if !ok || index < 0 || index >= len(entry.Views) {
		return nil
	}
	return entry.Views[index]
}

func (c *ResourceCache) evictLocked(name string, entry CachedResource) error {
	c.entries.Delete(name)

	var err error
	for _, view := range entry.Views {
		err = errors.CombineErrors(err, view.Release())
	}
	c.device.RetireResource(entry.Resource)

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "ResourceCache::Evict",
		slog.String("Name", name),
		slog.Uint64("Frame", c.device.FrameNumber()))
	return err
}

// Evict removes name from the cache. It returns false if nothing was cached under name.
func (c *ResourceCache) Evict(name string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries.Get(name)
	if !ok {
		return false, nil
	}
	return true, c.evictLocked(name, entry)
}

// Clear evicts every cached resource
func (c *ResourceCache) Clear() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var names []string
	c.entries.Iter(func(name string, _ CachedResource) bool {
		names = append(names, name)
		return false
	})

	var err error
	for _, name := range names {
		entry, _ := c.entries.Get(name)
		err = errors.CombineErrors(err, c.evictLocked(name, entry))
	}
	return err
}
