package vulkan

import (
	"math/bits"

	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

type stateMapping struct {
	access core1_0.AccessFlags
	stages core1_0.PipelineStageFlags
	layout core1_0.ImageLayout
}

const shaderStages = core1_0.PipelineStageVertexShader | core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader

var stateMappings = map[driver.ResourceState]stateMapping{
	driver.StateVertexAndConstantBuffer: {
		access: core1_0.AccessVertexAttributeRead | core1_0.AccessUniformRead,
		stages: core1_0.PipelineStageVertexInput | shaderStages,
		layout: core1_0.ImageLayoutGeneral,
	},
	driver.StateIndexBuffer: {
		access: core1_0.AccessIndexRead,
		stages: core1_0.PipelineStageVertexInput,
		layout: core1_0.ImageLayoutGeneral,
	},
	driver.StateRenderTarget: {
		access: core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
		stages: core1_0.PipelineStageColorAttachmentOutput,
		layout: core1_0.ImageLayoutColorAttachmentOptimal,
	},
	driver.StateUnorderedAccess: {
		access: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		stages: shaderStages,
		layout: core1_0.ImageLayoutGeneral,
	},
	driver.StateDepthWrite: {
		access: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
		stages: core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests,
		layout: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	},
	driver.StateDepthRead: {
		access: core1_0.AccessDepthStencilAttachmentRead,
		stages: core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests,
		layout: core1_0.ImageLayoutDepthStencilReadOnlyOptimal,
	},
	driver.StateNonPixelShaderResource: {
		access: core1_0.AccessShaderRead,
		stages: core1_0.PipelineStageVertexShader | core1_0.PipelineStageComputeShader,
		layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	},
	driver.StatePixelShaderResource: {
		access: core1_0.AccessShaderRead,
		stages: core1_0.PipelineStageFragmentShader,
		layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	},
	driver.StateIndirectArgument: {
		access: core1_0.AccessIndirectCommandRead,
		stages: core1_0.PipelineStageDrawIndirect,
		layout: core1_0.ImageLayoutGeneral,
	},
	driver.StateCopyDest: {
		access: core1_0.AccessTransferWrite,
		stages: core1_0.PipelineStageTransfer,
		layout: core1_0.ImageLayoutTransferDstOptimal,
	},
	driver.StateCopySource: {
		access: core1_0.AccessTransferRead,
		stages: core1_0.PipelineStageTransfer,
		layout: core1_0.ImageLayoutTransferSrcOptimal,
	},
	driver.StateResolveDest: {
		access: core1_0.AccessTransferWrite,
		stages: core1_0.PipelineStageTransfer,
		layout: core1_0.ImageLayoutTransferDstOptimal,
	},
	driver.StateResolveSource: {
		access: core1_0.AccessTransferRead,
		stages: core1_0.PipelineStageTransfer,
		layout: core1_0.ImageLayoutTransferSrcOptimal,
	},
	driver.StatePresent: {
		layout: khr_swapchain.ImageLayoutPresentSrc,
	},
}

func forEachState(state driver.ResourceState, fn func(mapping stateMapping)) {
	remaining := uint32(state)
	for remaining != 0 {
		bit := remaining & -remaining
		remaining &^= bit
		fn(stateMappings[driver.ResourceState(bit)])
	}
}

// AccessMask returns the memory accesses a resource in the provided state may perform
func AccessMask(state driver.ResourceState) core1_0.AccessFlags {
	var access core1_0.AccessFlags
	forEachState(state, func(mapping stateMapping) {
		access |= mapping.access
	})
	return access
}

// StageMask returns the pipeline stages that access a resource in the provided state. States with no
// associated stage map to the top of the pipe when used as a barrier source and to the bottom of the
// pipe when used as a barrier destination.
func StageMask(state driver.ResourceState, source bool) core1_0.PipelineStageFlags {
	var stages core1_0.PipelineStageFlags
	forEachState(state, func(mapping stateMapping) {
		stages |= mapping.stages
	})

	if stages == 0 {
		if source {
			return core1_0.PipelineStageTopOfPipe
		}
		return core1_0.PipelineStageBottomOfPipe
	}
	return stages
}

// Layout returns the image layout an image in the provided state should be in. Combined read states
// that do not agree on a layout use ImageLayoutGeneral.
func Layout(state driver.ResourceState) core1_0.ImageLayout {
	if state == driver.StateCommon {
		return core1_0.ImageLayoutGeneral
	}
	if bits.OnesCount32(uint32(state)) == 1 {
		return stateMappings[state].layout
	}

	layout := core1_0.ImageLayoutUndefined
	agrees := true
	forEachState(state, func(mapping stateMapping) {
		if layout == core1_0.ImageLayoutUndefined {
			layout = mapping.layout
		} else if layout != mapping.layout {
			agrees = false
		}
	})

	if !agrees {
		return core1_0.ImageLayoutGeneral
	}
	return layout
}
