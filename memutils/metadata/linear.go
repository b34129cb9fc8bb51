package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/memutils"
)

// LinearBlockMetadata is a BlockMetadata implementation that represents a simple bump arena.
// Allocations are always placed at the current end of the block, aligned as requested. Space is
// reclaimed in bulk with Clear. Individual frees are only accepted for the most recent allocation,
// which lets a consumer back out of an allocation it could not use.
type LinearBlockMetadata struct {
	BlockMetadataBase

	cursor         int
	suballocations []Suballocation
}

var _ BlockMetadata = &LinearBlockMetadata{}

// NewLinearBlockMetadata creates a new, uninitialized LinearBlockMetadata. Init must be called before
// it is used.
func NewLinearBlockMetadata() *LinearBlockMetadata {
	return &LinearBlockMetadata{}
}

// Init prepares this structure for allocations and sizes the block based on the parameter size.
func (m *LinearBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.Clear()
}

// Clear instantly frees all allocations and moves the cursor back to the start of the block
func (m *LinearBlockMetadata) Clear() {
	m.cursor = 0
	m.suballocations = m.suballocations[:0]
}

// Cursor returns the offset at which the next unaligned allocation would begin
func (m *LinearBlockMetadata) Cursor() int { return m.cursor }

func (m *LinearBlockMetadata) SumFreeSize() int { return m.size - m.cursor }

func (m *LinearBlockMetadata) AllocationCount() int { return len(m.suballocations) }

// FreeRegionsCount counts the alignment gaps between allocations along with the tail of the block.
func (m *LinearBlockMetadata) FreeRegionsCount() int {
	count := 0
	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			count++
		}
		return nil
	})
	return count
}

func (m *LinearBlockMetadata) IsEmpty() bool { return len(m.suballocations) == 0 }

func (m *LinearBlockMetadata) MayHaveFreeBlock(size int) bool {
	return m.cursor+size <= m.size
}

func (m *LinearBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error) {
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

	offset := memutils.AlignUp(m.cursor, allocAlignment)
	if offset+allocSize+memutils.DebugMargin > m.size {
		return false, request, nil
	}

	request.Type = AllocationRequestLinear
	request.BlockAllocationHandle = handleForOffset(offset)
	request.Item = Suballocation{
		Offset: offset,
		Size:   allocSize,
	}
	request.AlgorithmData = uint64(m.cursor)

	return true, request, nil
}

func (m *LinearBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	if request.Type != AllocationRequestLinear {
		return errors.Errorf("allocation request of type %s cannot be committed to a linear block", request.Type)
	}
	if request.AlgorithmData != uint64(m.cursor) {
		return errors.Errorf("allocation request was created at cursor %d but the cursor is now %d", request.AlgorithmData, m.cursor)
	}

	end := request.Item.Offset + request.Item.Size + memutils.DebugMargin
	if request.Item.Offset < m.cursor || end > m.size {
		return errors.Errorf("allocation [%d, %d) does not fit the block", request.Item.Offset, end)
	}

	m.suballocations = append(m.suballocations, Suballocation{
		Offset:   request.Item.Offset,
		Size:     request.Item.Size,
		UserData: userData,
	})
	m.cursor = end

	memutils.DebugValidate(m)
	return nil
}

// Free releases the most recent allocation and rewinds the cursor to where it was before that
// allocation was made. Any other handle returns an error.
func (m *LinearBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	if len(m.suballocations) == 0 {
		return errors.Errorf("received a handle %d but the block has no live allocations", allocHandle)
	}

	last := m.suballocations[len(m.suballocations)-1]
	if handleForOffset(last.Offset) != allocHandle {
		return errors.Errorf("received a handle %d that is not the most recent allocation in a linear block", allocHandle)
	}

	m.suballocations = m.suballocations[:len(m.suballocations)-1]
	if len(m.suballocations) == 0 {
		m.cursor = 0
	} else {
		prev := m.suballocations[len(m.suballocations)-1]
		m.cursor = prev.Offset + prev.Size + memutils.DebugMargin
	}

	return nil
}

func (m *LinearBlockMetadata) find(allocHandle BlockAllocationHandle) (Suballocation, bool) {
	offset := offsetForHandle(allocHandle)
	for _, suballoc := range m.suballocations {
		if suballoc.Offset == offset {
			return suballoc, true
		}
	}
	return Suballocation{}, false
}

func (m *LinearBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	suballoc, ok := m.find(allocHandle)
	if !ok {
		return 0, errors.Errorf("received a handle %d that does not map to a live allocation", allocHandle)
	}
	return suballoc.Offset, nil
}

func (m *LinearBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	suballoc, ok := m.find(allocHandle)
	if !ok {
		return nil, errors.Errorf("received a handle %d that does not map to a live allocation", allocHandle)
	}
	return suballoc.UserData, nil
}

// VisitAllRegions calls handleBlock for every allocation, every gap left between allocations by
// alignment or debug margins, and the unused tail of the block.
func (m *LinearBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	nextOffset := 0
	for _, suballoc := range m.suballocations {
		if suballoc.Offset > nextOffset {
			err := handleBlock(NoAllocation, nextOffset, suballoc.Offset-nextOffset, nil, true)
			if err != nil {
				return err
			}
		}

		err := handleBlock(handleForOffset(suballoc.Offset), suballoc.Offset, suballoc.Size, suballoc.UserData, false)
		if err != nil {
			return err
		}
		nextOffset = suballoc.Offset + suballoc.Size
	}

	if nextOffset < m.size {
		return handleBlock(NoAllocation, nextOffset, m.size-nextOffset, nil, true)
	}
	return nil
}

func (m *LinearBlockMetadata) Validate() error {
	if m.cursor < 0 || m.cursor > m.size {
		return errors.Errorf("cursor %d is outside the block of size %d", m.cursor, m.size)
	}

	nextOffset := 0
	for index, suballoc := range m.suballocations {
		if suballoc.Size < 1 {
			return errors.Errorf("suballocation %d has invalid size %d", index, suballoc.Size)
		}
		if suballoc.Offset < nextOffset {
			return errors.Errorf("suballocation %d at offset %d overlaps the previous suballocation", index, suballoc.Offset)
		}
		nextOffset = suballoc.Offset + suballoc.Size + memutils.DebugMargin
	}

	if nextOffset != m.cursor {
		return errors.Errorf("the cursor is at %d, but the suballocations end at %d", m.cursor, nextOffset)
	}

	return nil
}

func (m *LinearBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockSize += m.size

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

func (m *LinearBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += len(m.suballocations)
	stats.BlockSize += m.size
	for _, suballoc := range m.suballocations {
		stats.AllocationSize += suballoc.Size
	}
}

func (m *LinearBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.SumFreeSize(), len(m.suballocations), m.FreeRegionsCount())
	json.Name("Cursor").Int(m.cursor)
}
