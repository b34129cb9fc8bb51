package upload

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/memutils"
	"github.com/vkngwrapper/conductor/memutils/metadata"
)

// ErrAllocationTooLarge is returned when an upload allocation is larger than a page
var ErrAllocationTooLarge = errors.New("upload allocation is larger than a page")

// Allocation is a range of an upload page the CPU may write and the GPU may read until the owning
// Allocator is reset
type Allocation struct {
	// Data is the CPU-writable memory of the allocation
	Data    []byte
	Address driver.GPUAddress
	Buffer  driver.UploadBuffer
	Offset  int
}

// Allocator serves transient upload memory to one recording context. Pages are taken from a Pool as
// needed and all returned by Reset.
type Allocator struct {
	logger *slog.Logger
	pool   *Pool

	current *page
	pages   []*page
}

func NewAllocator(logger *slog.Logger, pool *Pool) *Allocator {
	return &Allocator{
		logger: logger,
		pool:   pool,
	}
}

// PageCount returns the number of pages the allocator currently holds
func (a *Allocator) PageCount() int { return len(a.pages) }

// Allocate bump-allocates size bytes aligned to alignment from the current page, moving to a new
// page when the current one cannot fit the request. Requests larger than a page fail with
// ErrAllocationTooLarge.
func (a *Allocator) Allocate(size int, alignment uint) (Allocation, error) {
	if size < 1 {
		return Allocation{}, errors.Errorf("invalid upload allocation size: %d", size)
	}
	if alignment == 0 {
		alignment = 1
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return Allocation{}, err
	}

	if size+memutils.DebugMargin > a.pool.PageSize() {
		return Allocation{}, errors.Wrapf(ErrAllocationTooLarge, "requested %d bytes from %d byte pages", size, a.pool.PageSize())
	}

	if a.current != nil {
		allocation, ok, err := a.allocateFrom(a.current, size, alignment)
		if err != nil || ok {
			return allocation, err
		}
	}

	next, err := a.pool.acquire()
	if err != nil {
		return Allocation{}, err
	}
	a.current = next
	a.pages = append(a.pages, next)

	allocation, ok, err := a.allocateFrom(next, size, alignment)
	if err != nil {
		return Allocation{}, err
	}
	if !ok {
		panic(fmt.Sprintf("a fresh upload page of %d bytes could not hold %d bytes aligned to %d", a.pool.PageSize(), size, alignment))
	}
	return allocation, nil
}

func (a *Allocator) allocateFrom(pg *page, size int, alignment uint) (Allocation, bool, error) {
	success, request, err := pg.metadata.CreateAllocationRequest(size, alignment, 0)
	if err != nil || !success {
		return Allocation{}, false, err
	}

	err = pg.metadata.Alloc(request, nil)
	if err != nil {
		return Allocation{}, false, err
	}

	offset := request.Item.Offset
	data := pg.buffer.Data()
	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(unsafe.Pointer(&data[0]), offset+size)
	}

	return Allocation{
		Data:    data[offset : offset+size : offset+size],
		Address: pg.buffer.GPUAddress() + driver.GPUAddress(offset),
		Buffer:  pg.buffer,
		Offset:  offset,
	}, true, nil
}

func (a *Allocator) validateMargins(pg *page) {
	data := pg.buffer.Data()
	_ = pg.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if !free && !memutils.ValidateMagicValue(unsafe.Pointer(&data[0]), offset+size) {
			panic(fmt.Sprintf("upload allocation [%d, %d) of %s wrote past its end", offset, offset+size, pg.buffer.Name()))
		}
		return nil
	})
}

// Reset returns every page to the pool. It may only be called once the GPU has finished with every
// allocation made since the last reset.
func (a *Allocator) Reset() {
	if memutils.DebugMargin > 0 {
		for _, pg := range a.pages {
			a.validateMargins(pg)
		}
	}

	a.pool.release(a.pages)
	a.pages = a.pages[:0]
	a.current = nil
}
