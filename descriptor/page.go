package descriptor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/memutils"
	"github.com/vkngwrapper/conductor/memutils/metadata"
)

type staleRange struct {
	handle      metadata.BlockAllocationHandle
	serial      uint64
	offset      int
	count       int
	frameNumber uint64
}

// Page is a fixed-capacity CPU-visible descriptor heap. Slots are handed out best-fit from a
// coalescing free list. Freed ranges wait in a FIFO until the frame that freed them is complete.
type Page struct {
	logger    *slog.Logger
	allocator *Allocator
	id        int
	heap      driver.DescriptorHeap
	increment int

	mutex      sync.Mutex
	metadata   *metadata.FreeListBlockMetadata
	stale      []staleRange
	staleCount int
	nextSerial uint64
}

// liveAllocation is the user data of each live range in a page's metadata. Offsets are reused once
// stale ranges are released, so the serial tells a live allocation apart from an old copy of one
// that used to occupy the same slots.
type liveAllocation struct {
	serial uint64
	count  int
}

func newPage(allocator *Allocator, id int, heap driver.DescriptorHeap, increment int) *Page {
	page := &Page{
		logger:    allocator.logger,
		allocator: allocator,
		id:        id,
		heap:      heap,
		increment: increment,
		metadata:  metadata.NewFreeListBlockMetadata(),
	}
	page.metadata.Init(heap.NumDescriptors())
	return page
}

func (p *Page) ID() int                     { return p.id }
func (p *Page) Heap() driver.DescriptorHeap { return p.heap }
func (p *Page) NumDescriptors() int         { return p.heap.NumDescriptors() }

// FreeCount returns the number of slots that can currently be allocated. Stale slots are not counted.
func (p *Page) FreeCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.SumFreeSize()
}

// StaleCount returns the number of freed slots still waiting for their frame to complete
func (p *Page) StaleCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.staleCount
}

// FreeRegionsCount returns the number of distinct free ranges in the page
func (p *Page) FreeRegionsCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.FreeRegionsCount()
}

// HasSpace returns false if the page certainly cannot satisfy an allocation of count slots
func (p *Page) HasSpace(count int) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.MayHaveFreeBlock(count)
}

// Allocate carves count slots out of the smallest free range that can hold them. It returns a null
// Allocation if the page is full.
func (p *Page) Allocate(count int) (Allocation, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.metadata.MayHaveFreeBlock(count) {
		return Allocation{}, nil
	}

	success, request, err := p.metadata.CreateAllocationRequest(count, 1, metadata.AllocationStrategyMinMemory)
	if err != nil || !success {
		return Allocation{}, err
	}

	p.nextSerial++
	err = p.metadata.Alloc(request, liveAllocation{serial: p.nextSerial, count: count})
	if err != nil {
		return Allocation{}, err
	}

	return Allocation{
		allocator: p.allocator,
		pageID:    p.id,
		handle:    request.BlockAllocationHandle,
		serial:    p.nextSerial,
		offset:    request.Item.Offset,
		count:     count,
		base:      p.heap.CPUStart().Offset(request.Item.Offset, p.increment),
		increment: p.increment,
	}, nil
}

// Free queues an allocation from this page for release once frameNumber is complete
func (p *Page) Free(allocation Allocation, frameNumber uint64) error {
	if allocation.pageID != p.id || allocation.allocator != p.allocator {
		return errors.Errorf("allocation from page %d was freed to page %d", allocation.pageID, p.id)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	userData, err := p.metadata.AllocationUserData(allocation.handle)
	if err != nil {
		return errors.Wrapf(err, "allocation at offset %d of page %d is not live", allocation.offset, p.id)
	}
	live, _ := userData.(liveAllocation)
	if live.serial != allocation.serial || live.count != allocation.count {
		return errors.Errorf("allocation at offset %d of page %d was already released and its descriptors reused", allocation.offset, p.id)
	}
	for _, stale := range p.stale {
		if stale.serial == allocation.serial {
			return errors.Errorf("allocation at offset %d of page %d was already freed", allocation.offset, p.id)
		}
	}

	p.stale = append(p.stale, staleRange{
		handle:      allocation.handle,
		serial:      allocation.serial,
		offset:      allocation.offset,
		count:       allocation.count,
		frameNumber: frameNumber,
	})
	p.staleCount += allocation.count
	return nil
}

// ReleaseStaleDescriptors returns every queued range freed at or before completedFrame to the free
// list, coalescing it with its neighbors. It returns the number of slots released.
func (p *Page) ReleaseStaleDescriptors(completedFrame uint64) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	released := 0
	for len(p.stale) > 0 && p.stale[0].frameNumber <= completedFrame {
		stale := p.stale[0]
		p.stale = p.stale[1:]

		err := p.metadata.Free(stale.handle)
		if err != nil {
			panic(fmt.Sprintf("failed to release stale descriptors [%d, %d) of page %d: %+v", stale.offset, stale.offset+stale.count, p.id, err))
		}
		released += stale.count
	}
	p.staleCount -= released

	if released > 0 {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "Page::ReleaseStaleDescriptors",
			slog.Int("Page", p.id),
			slog.Int("Released", released),
			slog.Uint64("CompletedFrame", completedFrame))
	}

	return released
}

func (p *Page) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.metadata.Validate()
}

func (p *Page) addStatistics(stats *memutils.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.metadata.AddStatistics(stats)
}

func (p *Page) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.metadata.AddDetailedStatistics(stats)
}

func (p *Page) printJson(json *jwriter.ObjectState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	json.Name("Id").Int(p.id)
	json.Name("StaleDescriptors").Int(p.staleCount)
	p.metadata.BlockJsonData(json)
}
