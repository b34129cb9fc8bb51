package driver

// AllSubresources addresses every subresource of a resource in a transition barrier
const AllSubresources uint32 = 0xffffffff

type BarrierType uint32

const (
	BarrierTransition BarrierType = iota
	BarrierAliasing
	BarrierUAV
)

var barrierTypeMapping = map[BarrierType]string{
	BarrierTransition: "Transition",
	BarrierAliasing:   "Aliasing",
	BarrierUAV:        "UAV",
}

func (t BarrierType) String() string {
	return barrierTypeMapping[t]
}

// ResourceBarrier is a single entry of a barrier batch passed to CommandStream.ResourceBarrier.
//
// Transition barriers use Resource, Subresource, StateBefore and StateAfter. UAV barriers use
// Resource, which may be nil to order all unordered access. Aliasing barriers use AliasBefore
// and AliasAfter, either of which may be nil.
type ResourceBarrier struct {
	Type BarrierType

	Resource    Resource
	Subresource uint32
	StateBefore ResourceState
	StateAfter  ResourceState

	AliasBefore Resource
	AliasAfter  Resource
}

func TransitionBarrier(resource Resource, before, after ResourceState, subresource uint32) ResourceBarrier {
	return ResourceBarrier{
		Type:        BarrierTransition,
		Resource:    resource,
		Subresource: subresource,
		StateBefore: before,
		StateAfter:  after,
	}
}

func UAVBarrier(resource Resource) ResourceBarrier {
	return ResourceBarrier{
		Type:     BarrierUAV,
		Resource: resource,
	}
}

func AliasingBarrier(before, after Resource) ResourceBarrier {
	return ResourceBarrier{
		Type:        BarrierAliasing,
		AliasBefore: before,
		AliasAfter:  after,
	}
}
