package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFreeList indicates that the allocation request was sourced from metadata.FreeListBlockMetadata
	AllocationRequestFreeList AllocationRequestType = iota
	// AllocationRequestLinear indicates that the allocation request was sourced from metadata.LinearBlockMetadata
	// and that it will be placed at the current end of the block
	AllocationRequestLinear
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFreeList: "FreeList",
	AllocationRequestLinear:   "Linear",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to place a new allocation. It is committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Item is a Suballocation object indicating the placement of the allocation
	Item Suballocation
	// Type identifies the sort of allocation this request represents (and can be used
	// to identify the BlockMetadata implementation used to generate this request).
	Type AllocationRequestType

	// AlgorithmData is arbitrary data used by the BlockMetadata implementation for internal
	// purposes
	AlgorithmData uint64
}
