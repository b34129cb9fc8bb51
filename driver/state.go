package driver

import (
	"math/bits"

	"github.com/vkngwrapper/core/v2/common"
)

// ResourceState is the access state a resource or subresource is in. Read states may be
// combined; a state containing a write bit must contain nothing else.
type ResourceState uint32

var resourceStateMapping = common.NewFlagStringMapping[ResourceState]()

func (s ResourceState) Register(str string) {
	resourceStateMapping.Register(s, str)
}

func (s ResourceState) String() string {
	if s == StateCommon {
		return "StateCommon"
	}
	return resourceStateMapping.FlagsToString(s)
}

const (
	// StateCommon is the state of any resource the device has never been told about. Resources
	// in StateCommon may be accessed by copy queues without a transition.
	StateCommon ResourceState = 0

	StateVertexAndConstantBuffer ResourceState = 1 << (iota - 1)
	StateIndexBuffer
	StateRenderTarget
	StateUnorderedAccess
	StateDepthWrite
	StateDepthRead
	StateNonPixelShaderResource
	StatePixelShaderResource
	StateIndirectArgument
	StateCopyDest
	StateCopySource
	StateResolveDest
	StateResolveSource
	// StatePresent is the state swapchain images must be in before they are handed to the
	// presentation engine
	StatePresent

	StateShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
	StateGenericRead    = StateVertexAndConstantBuffer | StateIndexBuffer | StateNonPixelShaderResource |
		StatePixelShaderResource | StateIndirectArgument | StateCopySource

	writeStates = StateRenderTarget | StateUnorderedAccess | StateDepthWrite | StateCopyDest | StateResolveDest
)

func init() {
	StateVertexAndConstantBuffer.Register("StateVertexAndConstantBuffer")
	StateIndexBuffer.Register("StateIndexBuffer")
	StateRenderTarget.Register("StateRenderTarget")
	StateUnorderedAccess.Register("StateUnorderedAccess")
	StateDepthWrite.Register("StateDepthWrite")
	StateDepthRead.Register("StateDepthRead")
	StateNonPixelShaderResource.Register("StateNonPixelShaderResource")
	StatePixelShaderResource.Register("StatePixelShaderResource")
	StateIndirectArgument.Register("StateIndirectArgument")
	StateCopyDest.Register("StateCopyDest")
	StateCopySource.Register("StateCopySource")
	StateResolveDest.Register("StateResolveDest")
	StateResolveSource.Register("StateResolveSource")
	StatePresent.Register("StatePresent")
}

// IsWrite returns true if the state allows the GPU to write to the resource
func (s ResourceState) IsWrite() bool {
	return s&writeStates != 0
}

// IsValid returns false for combinations that mix a write state with any other state
func (s ResourceState) IsValid() bool {
	if !s.IsWrite() {
		return true
	}
	return bits.OnesCount32(uint32(s)) == 1
}
