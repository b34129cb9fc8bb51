package metadata

// AllocationStrategy chooses the location of a new allocation. If none is chosen, the
// implementation's preferred strategy will be used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest free range that can hold the allocation
	// (best fit) to minimize fragmentation, possibly at the expense of allocation time
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota)
