package descriptor

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/memutils"
)

// DefaultWindowSize is the number of descriptors in a shader-visible window when
// DynamicCacheOptions.WindowSize is left unset
const DefaultWindowSize = 1024

// CopyDevice is the part of driver.Device the dynamic cache needs
type CopyDevice interface {
	HeapDevice
	CopyDescriptors(dst driver.CPUDescriptorHandle, src []driver.CPUDescriptorHandle, heapType driver.DescriptorHeapType)
}

// Binder is the recording context a DynamicCache commits into
type Binder interface {
	// SetDescriptorHeap binds heap as the shader-visible heap of its category
	SetDescriptorHeap(heapType driver.DescriptorHeapType, heap driver.DescriptorHeap)
	CommandStream() driver.CommandStream
}

// BindFunc wires a committed descriptor table into binding slot param
type BindFunc func(stream driver.CommandStream, param int, handle driver.GPUDescriptorHandle)

type DynamicCacheOptions struct {
	// WindowSize is the number of descriptors in each shader-visible window. It also bounds the total
	// size of the tables a binding layout declares for one heap category.
	WindowSize int
}

type tableCache struct {
	offset int
	size   int
}

// DynamicCache stages CPU descriptors for the descriptor tables of one heap category and copies
// them into a shader-visible window just before a draw or dispatch. One is owned by each recording
// context for every shader-visible heap category.
type DynamicCache struct {
	logger     *slog.Logger
	device     CopyDevice
	heapType   driver.DescriptorHeapType
	windowSize int
	increment  int

	staging    []driver.CPUDescriptorHandle
	tables     [driver.MaxDescriptorTables]tableCache
	parsed     bool
	layoutMask uint32
	stagedMask uint32
	dirtyMask  uint32

	windows   []*window
	available []*window
	current   *window
}

func NewDynamicCache(logger *slog.Logger, device CopyDevice, heapType driver.DescriptorHeapType, options DynamicCacheOptions) *DynamicCache {
	if !heapType.ShaderVisible() {
		panic(fmt.Sprintf("attempted to create a dynamic descriptor cache for %s descriptors, which cannot be shader visible", heapType))
	}

	windowSize := options.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	return &DynamicCache{
		logger:     logger,
		device:     device,
		heapType:   heapType,
		windowSize: windowSize,
		increment:  device.DescriptorHandleIncrementSize(heapType),
		staging:    make([]driver.CPUDescriptorHandle, windowSize),
	}
}

func (c *DynamicCache) HeapType() driver.DescriptorHeapType { return c.heapType }
func (c *DynamicCache) WindowCount() int                    { return len(c.windows) }

// DirtyMask returns a bitmask with bit i set for every table that will be copied by the next Commit
func (c *DynamicCache) DirtyMask() uint32 { return c.dirtyMask }

// ParseBindingLayout sizes the staging area of every table of this cache's heap category in layout
// and discards everything staged so far.
func (c *DynamicCache) ParseBindingLayout(layout *driver.BindingLayout) {
	c.tables = [driver.MaxDescriptorTables]tableCache{}
	c.layoutMask = layout.TableMask(c.heapType)
	c.stagedMask = 0
	c.dirtyMask = 0
	for i := range c.staging {
		c.staging[i] = 0
	}

	offset := 0
	tableCount := 0
	for mask := c.layoutMask; mask != 0; mask &= mask - 1 {
		param := bits.TrailingZeros32(mask)
		size := layout.TableSize(param)

		c.tables[param] = tableCache{offset: offset, size: size}
		offset += size
		tableCount++
	}

	if offset+tableCount*memutils.DebugMargin > c.windowSize {
		panic(fmt.Sprintf("binding layout %s declares %d %s descriptors but a window holds %d", layout.Name, offset, c.heapType, c.windowSize))
	}

	c.parsed = true
}

// Stage copies count consecutive descriptors beginning at src into the staging area of table param,
// starting offset descriptors into the table.
func (c *DynamicCache) Stage(param int, offset int, count int, src driver.CPUDescriptorHandle) {
	if param < 0 || param >= driver.MaxDescriptorTables {
		panic(fmt.Sprintf("binding slot %d is out of range: there may be at most %d descriptor tables", param, driver.MaxDescriptorTables))
	}
	if !c.parsed {
		panic("descriptors were staged before a binding layout was parsed")
	}
	if count > c.windowSize {
		panic(fmt.Sprintf("attempted to stage %d descriptors but a window holds %d", count, c.windowSize))
	}
	if c.layoutMask&(1<<uint(param)) == 0 {
		panic(fmt.Sprintf("binding slot %d is not a %s descriptor table", param, c.heapType))
	}

	table := c.tables[param]
	if offset < 0 || offset+count > table.size {
		panic(fmt.Sprintf("attempted to stage descriptors [%d, %d) into binding slot %d which holds %d descriptors", offset, offset+count, param, table.size))
	}

	for i := 0; i < count; i++ {
		c.staging[table.offset+offset+i] = src.Offset(i, c.increment)
	}

	c.stagedMask |= 1 << uint(param)
	c.dirtyMask |= 1 << uint(param)
}

func (c *DynamicCache) dirtySize(mask uint32) (tables int, size int) {
	for ; mask != 0; mask &= mask - 1 {
		size += c.tables[bits.TrailingZeros32(mask)].size
		tables++
	}
	return tables, size
}

func (c *DynamicCache) nextWindow(binder Binder) error {
	var next *window
	if len(c.available) > 0 {
		next = c.available[0]
		c.available = c.available[1:]
	} else {
		heap, err := c.device.CreateDescriptorHeap(c.heapType, c.windowSize, true)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "failed to create a shader-visible %s window of %d descriptors", c.heapType, c.windowSize), ErrOutOfDescriptors)
		}

		next = newWindow(heap, c.increment)
		c.windows = append(c.windows, next)

		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "DynamicCache::nextWindow",
			slog.String("HeapType", c.heapType.String()),
			slog.Int("Windows", len(c.windows)))
	}

	c.current = next
	binder.SetDescriptorHeap(c.heapType, next.heap)

	// the tables already bound point into the previous window
	c.dirtyMask = c.stagedMask
	return nil
}

// Commit copies the staged descriptors of every dirty table into the current window and calls bind
// for each of them in ascending slot order. If the current window cannot hold the dirty tables, a
// new window is bound and every table staged since the layout was parsed is committed again. It
// returns the number of descriptors copied.
func (c *DynamicCache) Commit(binder Binder, bind BindFunc) (int, error) {
	if c.dirtyMask == 0 {
		return 0, nil
	}

	tables, size := c.dirtySize(c.dirtyMask)
	if c.current == nil || !c.current.fits(tables, size) {
		err := c.nextWindow(binder)
		if err != nil {
			return 0, err
		}
	}

	stream := binder.CommandStream()
	copied := 0
	for mask := c.dirtyMask; mask != 0; mask &= mask - 1 {
		param := bits.TrailingZeros32(mask)
		table := c.tables[param]

		cpu, gpu, ok := c.current.allocate(table.size)
		if !ok {
			panic(fmt.Sprintf("window could not hold binding slot %d after it was checked for space", param))
		}

		copied += c.copyTable(cpu, c.staging[table.offset:table.offset+table.size])
		bind(stream, param, gpu)
	}

	c.dirtyMask = 0
	return copied, nil
}

// copyTable copies each run of staged descriptors, skipping slots that were never staged
func (c *DynamicCache) copyTable(dst driver.CPUDescriptorHandle, staged []driver.CPUDescriptorHandle) int {
	copied := 0
	start := -1
	for i := 0; i <= len(staged); i++ {
		if i < len(staged) && !staged[i].IsNull() {
			if start < 0 {
				start = i
			}
			continue
		}

		if start >= 0 {
			c.device.CopyDescriptors(dst.Offset(start, c.increment), staged[start:i], c.heapType)
			copied += i - start
			start = -1
		}
	}
	return copied
}

func (c *DynamicCache) CommitForDraw(binder Binder) (int, error) {
	return c.Commit(binder, func(stream driver.CommandStream, param int, handle driver.GPUDescriptorHandle) {
		stream.SetGraphicsDescriptorTable(param, handle)
	})
}

func (c *DynamicCache) CommitForDispatch(binder Binder) (int, error) {
	return c.Commit(binder, func(stream driver.CommandStream, param int, handle driver.GPUDescriptorHandle) {
		stream.SetComputeDescriptorTable(param, handle)
	})
}

// CopyDescriptor copies a single descriptor into the current window and returns its shader-visible
// handle. Clearing an unordered access view needs one.
func (c *DynamicCache) CopyDescriptor(binder Binder, src driver.CPUDescriptorHandle) (driver.GPUDescriptorHandle, error) {
	if c.current == nil || !c.current.fits(1, 1) {
		err := c.nextWindow(binder)
		if err != nil {
			return 0, err
		}
	}

	cpu, gpu, ok := c.current.allocate(1)
	if !ok {
		panic("window could not hold a single descriptor after it was checked for space")
	}

	c.device.CopyDescriptors(cpu, []driver.CPUDescriptorHandle{src}, c.heapType)
	return gpu, nil
}

// Reset returns every window to the pool and discards all staged state. It may only be called
// once the GPU has finished with every window this cache handed out.
func (c *DynamicCache) Reset() {
	c.available = c.available[:0]
	for _, w := range c.windows {
		w.reset()
		c.available = append(c.available, w)
	}
	c.current = nil

	c.tables = [driver.MaxDescriptorTables]tableCache{}
	c.parsed = false
	c.layoutMask = 0
	c.stagedMask = 0
	c.dirtyMask = 0
	for i := range c.staging {
		c.staging[i] = 0
	}
}
