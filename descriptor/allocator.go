package descriptor

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/internal/utils"
	"github.com/vkngwrapper/conductor/memutils"
	"golang.org/x/exp/slices"
)

// DefaultPageSize is the number of descriptors in a page when CreateOptions.PageSize is left unset
const DefaultPageSize = 256

// ErrOutOfDescriptors is returned when a descriptor allocation cannot be satisfied even by a new page
var ErrOutOfDescriptors = errors.New("out of descriptors")

// HeapDevice is the part of driver.Device that descriptor heaps are created with
type HeapDevice interface {
	CreateDescriptorHeap(heapType driver.DescriptorHeapType, numDescriptors int, shaderVisible bool) (driver.DescriptorHeap, error)
	DescriptorHandleIncrementSize(heapType driver.DescriptorHeapType) int
}

type CreateOptions struct {
	// PageSize is the number of descriptors in each page. Requests larger than PageSize get a
	// page of their own size.
	PageSize int
	// ExternallySynchronized disables the allocator's lock. Pages always lock.
	ExternallySynchronized bool
}

// Allocator hands out CPU-visible descriptors of one heap category from a growing set of pages
type Allocator struct {
	logger    *slog.Logger
	device    HeapDevice
	heapType  driver.DescriptorHeapType
	pageSize  int
	increment int

	mutex      *utils.OptionalMutex
	pages      *swiss.Map[int, *Page]
	available  []int
	nextPageID int
}

func NewAllocator(logger *slog.Logger, device HeapDevice, heapType driver.DescriptorHeapType, options CreateOptions) *Allocator {
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Allocator{
		logger:    logger,
		device:    device,
		heapType:  heapType,
		pageSize:  pageSize,
		increment: device.DescriptorHandleIncrementSize(heapType),
		mutex:     utils.NewOptionalMutex(options.ExternallySynchronized),
		pages:     swiss.NewMap[int, *Page](4),
	}
}

func (a *Allocator) HeapType() driver.DescriptorHeapType { return a.heapType }
func (a *Allocator) PageSize() int                       { return a.pageSize }

func (a *Allocator) PageCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.pages.Count()
}

// Page returns the page with the provided id, or nil if there is none
func (a *Allocator) Page(id int) *Page {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	page, _ := a.pages.Get(id)
	return page
}

// Allocate hands out count contiguous descriptors. Pages with free space are tried in the order
// they were created; a new page is created when none of them can satisfy the request.
func (a *Allocator) Allocate(count int) (Allocation, error) {
	if count < 1 {
		return Allocation{}, errors.Errorf("invalid descriptor count: %d", count)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	for index := 0; index < len(a.available); {
		page, _ := a.pages.Get(a.available[index])

		allocation, err := page.Allocate(count)
		if err != nil {
			return Allocation{}, err
		}
		if !allocation.IsNull() {
			if !page.HasSpace(1) {
				a.available = slices.Delete(a.available, index, index+1)
			}
			return allocation, nil
		}

		if !page.HasSpace(1) {
			a.available = slices.Delete(a.available, index, index+1)
			continue
		}
		index++
	}

	page, err := a.createPage(count)
	if err != nil {
		return Allocation{}, err
	}

	allocation, err := page.Allocate(count)
	if err != nil {
		return Allocation{}, err
	}
	if allocation.IsNull() {
		return Allocation{}, errors.Wrapf(ErrOutOfDescriptors, "a new %s page of %d descriptors could not hold %d descriptors", a.heapType, page.NumDescriptors(), count)
	}
	if page.HasSpace(1) {
		a.markAvailable(page.id)
	}

	return allocation, nil
}

func (a *Allocator) createPage(count int) (*Page, error) {
	size := a.pageSize
	if count > size {
		size = count
	}

	heap, err := a.device.CreateDescriptorHeap(a.heapType, size, false)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to create a %s page of %d descriptors", a.heapType, size), ErrOutOfDescriptors)
	}

	page := newPage(a, a.nextPageID, heap, a.increment)
	a.nextPageID++
	a.pages.Put(page.id, page)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::createPage",
		slog.String("HeapType", a.heapType.String()),
		slog.Int("Page", page.id),
		slog.Int("Size", size))

	return page, nil
}

func (a *Allocator) markAvailable(pageID int) {
	index, found := slices.BinarySearch(a.available, pageID)
	if !found {
		a.available = slices.Insert(a.available, index, pageID)
	}
}

func (a *Allocator) free(allocation Allocation, frameNumber uint64) error {
	if allocation.allocator != a {
		return errors.Errorf("allocation was freed to a %s allocator that did not create it", a.heapType)
	}

	a.mutex.Lock()
	page, ok := a.pages.Get(allocation.pageID)
	a.mutex.Unlock()

	if !ok {
		return errors.Errorf("allocation refers to page %d which does not exist", allocation.pageID)
	}

	return page.Free(allocation, frameNumber)
}

// ReleaseStaleDescriptors releases every descriptor freed at or before completedFrame in every page.
// It returns the number of descriptors released.
func (a *Allocator) ReleaseStaleDescriptors(completedFrame uint64) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	released := 0
	a.pages.Iter(func(id int, page *Page) bool {
		count := page.ReleaseStaleDescriptors(completedFrame)
		if count > 0 {
			a.markAvailable(id)
		}
		released += count
		return false
	})

	return released
}

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.pages.Iter(func(id int, page *Page) bool {
		page.addStatistics(stats)
		return false
	})
}

// PrintJson writes the allocator's pages in ascending id order
func (a *Allocator) PrintJson(json *jwriter.ObjectState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	ids := make([]int, 0, a.pages.Count())
	a.pages.Iter(func(id int, page *Page) bool {
		ids = append(ids, id)
		return false
	})
	slices.Sort(ids)

	json.Name("HeapType").String(a.heapType.String())
	json.Name("PageSize").Int(a.pageSize)

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, id := range ids {
		page, _ := a.pages.Get(id)
		page.addDetailedStatistics(&stats)
	}
	statsObj := json.Name("Stats").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()

	pagesArray := json.Name("Pages").Array()
	defer pagesArray.End()

	for _, id := range ids {
		page, _ := a.pages.Get(id)
		pageObj := pagesArray.Object()
		page.printJson(&pageObj)
		pageObj.End()
	}
}
