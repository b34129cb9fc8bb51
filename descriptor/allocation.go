package descriptor

import (
	"fmt"

	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/memutils/metadata"
)

// Allocation is a contiguous run of descriptor slots within one page. It refers to its page by
// the id the owning Allocator assigned it rather than by pointer. The zero Allocation is null.
type Allocation struct {
	allocator *Allocator
	pageID    int
	handle    metadata.BlockAllocationHandle
	serial    uint64

	offset    int
	count     int
	base      driver.CPUDescriptorHandle
	increment int
}

func (a Allocation) IsNull() bool { return a.count == 0 }
func (a Allocation) Count() int   { return a.count }
func (a Allocation) PageID() int  { return a.pageID }
func (a Allocation) Offset() int  { return a.offset }

// Handle returns the CPU handle of the index'th descriptor in the allocation
func (a Allocation) Handle(index int) driver.CPUDescriptorHandle {
	if index < 0 || index >= a.count {
		panic(fmt.Sprintf("descriptor index %d is out of range for an allocation of %d descriptors", index, a.count))
	}
	return a.base.Offset(index, a.increment)
}

// Free returns the allocation to its page's stale queue. The slots become available once
// ReleaseStaleDescriptors is called with a completed frame at or after frameNumber. The allocation
// is null afterward.
func (a *Allocation) Free(frameNumber uint64) error {
	if a.IsNull() {
		return nil
	}

	err := a.allocator.free(*a, frameNumber)
	if err != nil {
		return err
	}

	*a = Allocation{}
	return nil
}
