package metadata

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/memutils"
)

const freeListDegree = 8

type freeRange struct {
	offset int
	size   int
}

type liveRange struct {
	size     int
	userData any
}

func lessByOffset(left, right freeRange) bool {
	return left.offset < right.offset
}

func lessBySize(left, right freeRange) bool {
	if left.size != right.size {
		return left.size < right.size
	}
	return left.offset < right.offset
}

// FreeListBlockMetadata is a BlockMetadata implementation that keeps its free ranges indexed
// twice: once by offset, so that neighbors of a freed range can be found and merged, and once
// by size, so that the smallest free range able to hold a request can be found in O(log n).
//
// Adjacent free ranges are always merged when a range is freed, so a block whose allocations
// have all been freed consists of exactly one free range covering the whole block.
type FreeListBlockMetadata struct {
	BlockMetadataBase

	sumFreeSize int
	byOffset    *btree.BTreeG[freeRange]
	bySize      *btree.BTreeG[freeRange]
	allocations *swiss.Map[BlockAllocationHandle, liveRange]
}

var _ BlockMetadata = &FreeListBlockMetadata{}

// NewFreeListBlockMetadata creates a new, uninitialized FreeListBlockMetadata. Init must be
// called before it is used.
func NewFreeListBlockMetadata() *FreeListBlockMetadata {
	return &FreeListBlockMetadata{
		byOffset:    btree.NewG[freeRange](freeListDegree, lessByOffset),
		bySize:      btree.NewG[freeRange](freeListDegree, lessBySize),
		allocations: swiss.NewMap[BlockAllocationHandle, liveRange](42),
	}
}

// Init prepares this structure for allocations and sizes the block based on the parameter size.
func (m *FreeListBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.Clear()
}

// Clear instantly frees all allocations, leaving a single free range covering the block
func (m *FreeListBlockMetadata) Clear() {
	m.byOffset.Clear(false)
	m.bySize.Clear(false)
	m.allocations = swiss.NewMap[BlockAllocationHandle, liveRange](42)
	m.sumFreeSize = 0

	if m.size > 0 {
		m.insertFreeRange(freeRange{offset: 0, size: m.size})
	}
}

func (m *FreeListBlockMetadata) insertFreeRange(r freeRange) {
	m.byOffset.ReplaceOrInsert(r)
	m.bySize.ReplaceOrInsert(r)
	m.sumFreeSize += r.size
}

func (m *FreeListBlockMetadata) removeFreeRange(r freeRange) {
	_, found := m.byOffset.Delete(r)
	if !found {
		panic(errors.AssertionFailedf("free range at offset %d was missing from the offset index", r.offset))
	}
	_, found = m.bySize.Delete(r)
	if !found {
		panic(errors.AssertionFailedf("free range at offset %d was missing from the size index", r.offset))
	}
	m.sumFreeSize -= r.size
}

// SumFreeSize returns the number of free units in the block.
func (m *FreeListBlockMetadata) SumFreeSize() int { return m.sumFreeSize }

// AllocationCount returns the number of live suballocations
func (m *FreeListBlockMetadata) AllocationCount() int { return m.allocations.Count() }

// FreeRegionsCount returns the number of free ranges. Because free ranges are always merged
// with their neighbors, this is also the number of distinct holes in the block.
func (m *FreeListBlockMetadata) FreeRegionsCount() int { return m.byOffset.Len() }

// IsEmpty will return true if this block has no live suballocations
func (m *FreeListBlockMetadata) IsEmpty() bool { return m.allocations.Count() == 0 }

// LargestFreeRegion returns the size of the largest free range in the block, or 0 if the block is full
func (m *FreeListBlockMetadata) LargestFreeRegion() int {
	largest, ok := m.bySize.Max()
	if !ok {
		return 0
	}
	return largest.size
}

// MayHaveFreeBlock returns true if the largest free range in the block could hold size units.
func (m *FreeListBlockMetadata) MayHaveFreeBlock(size int) bool {
	return m.LargestFreeRegion() >= size
}

func fitsRange(r freeRange, size int, alignment uint) (int, bool) {
	offset := memutils.AlignUp(r.offset, alignment)
	return offset, offset+size <= r.offset+r.size
}

// CreateAllocationRequest finds a free range that can hold allocSize units aligned to allocAlignment.
// The default strategy (and AllocationStrategyMinMemory) is best fit: the smallest range able to hold
// the request.
func (m *FreeListBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	var request AllocationRequest

	if allocSize < 1 {
		return false, request, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}
	err := memutils.CheckPow2(allocAlignment, "allocAlignment")
	if err != nil {
		return false, request, err
	}

	memutils.DebugValidate(m)

	if allocSize > m.sumFreeSize {
		return false, request, nil
	}

	var chosen freeRange
	var chosenOffset int
	found := false

	visit := func(r freeRange) bool {
		offset, fits := fitsRange(r, allocSize, allocAlignment)
		if fits {
			chosen = r
			chosenOffset = offset
			found = true
			return false
		}
		return true
	}

	m.bySize.AscendGreaterOrEqual(freeRange{size: allocSize, offset: 0}, visit)

	if !found {
		return false, request, nil
	}

	request.Type = AllocationRequestFreeList
	request.BlockAllocationHandle = handleForOffset(chosenOffset)
	request.Item = Suballocation{
		Offset: chosenOffset,
		Size:   allocSize,
	}
	request.AlgorithmData = uint64(chosen.offset)

	return true, request, nil
}

// Alloc commits a request created by CreateAllocationRequest. The free range the request was carved from
// is removed from both indices; any space left over before or after the allocation is reinserted as
// new free ranges.
func (m *FreeListBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	if request.Type != AllocationRequestFreeList {
		return errors.Errorf("allocation request of type %s cannot be committed to a free list block", request.Type)
	}

	source, ok := m.byOffset.Get(freeRange{offset: int(request.AlgorithmData)})
	if !ok {
		return errors.Errorf("free range at offset %d no longer exists", request.AlgorithmData)
	}

	allocEnd := request.Item.Offset + request.Item.Size
	if request.Item.Offset < source.offset || allocEnd > source.offset+source.size {
		return errors.Errorf("allocation [%d, %d) no longer fits the free range at offset %d of size %d",
			request.Item.Offset, allocEnd, source.offset, source.size)
	}

	m.removeFreeRange(source)

	if padding := request.Item.Offset - source.offset; padding > 0 {
		m.insertFreeRange(freeRange{offset: source.offset, size: padding})
	}
	if leftover := source.offset + source.size - allocEnd; leftover > 0 {
		m.insertFreeRange(freeRange{offset: allocEnd, size: leftover})
	}

	m.allocations.Put(request.BlockAllocationHandle, liveRange{size: request.Item.Size, userData: userData})

	memutils.DebugValidate(m)
	return nil
}

// Free returns a live allocation to the free lists. The freed range is merged with the free range
// immediately before it and the free range immediately after it, whenever either exists.
func (m *FreeListBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	live, ok := m.allocations.Get(allocHandle)
	if !ok {
		return errors.Errorf("received a handle %d that does not map to a live allocation", allocHandle)
	}
	m.allocations.Delete(allocHandle)

	m.freeRange(offsetForHandle(allocHandle), live.size)

	memutils.DebugValidate(m)
	return nil
}

func (m *FreeListBlockMetadata) freeRange(offset, size int) {
	merged := freeRange{offset: offset, size: size}

	var prev, next freeRange
	hasPrev, hasNext := false, false

	m.byOffset.DescendLessOrEqual(freeRange{offset: offset}, func(r freeRange) bool {
		prev = r
		hasPrev = r.offset+r.size == offset
		return false
	})
	m.byOffset.AscendGreaterOrEqual(freeRange{offset: offset + size}, func(r freeRange) bool {
		next = r
		hasNext = r.offset == offset+size
		return false
	})

	if hasPrev {
		m.removeFreeRange(prev)
		merged.offset = prev.offset
		merged.size += prev.size
	}

	if hasNext {
		m.removeFreeRange(next)
		merged.size += next.size
	}

	m.insertFreeRange(merged)
}

// AllocationOffset returns the offset of a live allocation
func (m *FreeListBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	if !m.allocations.Has(allocHandle) {
		return 0, errors.Errorf("received a handle %d that does not map to a live allocation", allocHandle)
	}
	return offsetForHandle(allocHandle), nil
}

// AllocationUserData returns the userData value passed to Alloc for a live allocation
func (m *FreeListBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	live, ok := m.allocations.Get(allocHandle)
	if !ok {
		return nil, errors.Errorf("received a handle %d that does not map to a live allocation", allocHandle)
	}
	return live.userData, nil
}

type visitedRegion struct {
	handle   BlockAllocationHandle
	offset   int
	size     int
	userData any
	free     bool
}

func (m *FreeListBlockMetadata) sortedRegions() []visitedRegion {
	regions := make([]visitedRegion, 0, m.allocations.Count()+m.byOffset.Len())

	m.allocations.Iter(func(handle BlockAllocationHandle, live liveRange) bool {
		regions = append(regions, visitedRegion{
			handle:   handle,
			offset:   offsetForHandle(handle),
			size:     live.size,
			userData: live.userData,
		})
		return false
	})
	m.byOffset.Ascend(func(r freeRange) bool {
		regions = append(regions, visitedRegion{
			handle: NoAllocation,
			offset: r.offset,
			size:   r.size,
			free:   true,
		})
		return true
	})

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].offset < regions[j].offset
	})

	return regions
}

// VisitAllRegions calls handleBlock for every allocation and free range in ascending offset order
func (m *FreeListBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for _, region := range m.sortedRegions() {
		err := handleBlock(region.handle, region.offset, region.size, region.userData, region.free)
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that the two free indices agree with each other, that free ranges never overlap
// or touch, and that free ranges and allocations exactly tile the block.
func (m *FreeListBlockMetadata) Validate() error {
	if m.byOffset.Len() != m.bySize.Len() {
		return errors.Errorf("the offset index holds %d free ranges, but the size index holds %d", m.byOffset.Len(), m.bySize.Len())
	}

	var err error
	calculatedFree := 0
	prevEnd := -1
	m.byOffset.Ascend(func(r freeRange) bool {
		if r.size < 1 {
			err = errors.Errorf("free range at offset %d has invalid size %d", r.offset, r.size)
			return false
		}
		if _, ok := m.bySize.Get(r); !ok {
			err = errors.Errorf("free range at offset %d is missing from the size index", r.offset)
			return false
		}
		if r.offset <= prevEnd {
			if r.offset == prevEnd {
				err = errors.Errorf("free range at offset %d was not merged with the free range before it", r.offset)
			} else {
				err = errors.Errorf("free range at offset %d overlaps the free range before it", r.offset)
			}
			return false
		}
		prevEnd = r.offset + r.size
		calculatedFree += r.size
		return true
	})
	if err != nil {
		return err
	}

	if calculatedFree != m.sumFreeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free ranges added up to %d", m.sumFreeSize, calculatedFree)
	}

	nextOffset := 0
	for _, region := range m.sortedRegions() {
		if region.offset != nextOffset {
			return errors.Errorf("region at offset %d does not begin where the previous region ended (%d)", region.offset, nextOffset)
		}
		nextOffset = region.offset + region.size
	}

	if nextOffset != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the regions only added up to %d", m.size, nextOffset)
	}

	return nil
}

func (m *FreeListBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockSize += m.size

	for _, region := range m.sortedRegions() {
		if region.free {
			stats.AddUnusedRange(region.size)
		} else {
			stats.AddAllocation(region.size)
		}
	}
}

func (m *FreeListBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocations.Count()
	stats.BlockSize += m.size
	stats.AllocationSize += m.size - m.sumFreeSize
}

// BlockJsonData populates a json object with information about this block
func (m *FreeListBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumFreeSize, m.allocations.Count(), m.byOffset.Len())
	json.Name("LargestUnusedRange").Int(m.LargestFreeRegion())
}
