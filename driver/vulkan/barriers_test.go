package vulkan_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/driver/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/golang/mock/gomock"
)

func TestStateTranslation(t *testing.T) {
	testCases := []struct {
		state  driver.ResourceState
		layout core1_0.ImageLayout
		access core1_0.AccessFlags
	}{
		{driver.StateCommon, core1_0.ImageLayoutGeneral, 0},
		{driver.StateRenderTarget, core1_0.ImageLayoutColorAttachmentOptimal, core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite},
		{driver.StateCopyDest, core1_0.ImageLayoutTransferDstOptimal, core1_0.AccessTransferWrite},
		{driver.StateCopySource, core1_0.ImageLayoutTransferSrcOptimal, core1_0.AccessTransferRead},
		{driver.StateShaderResource, core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.AccessShaderRead},
		{driver.StateDepthRead, core1_0.ImageLayoutDepthStencilReadOnlyOptimal, core1_0.AccessDepthStencilAttachmentRead},
		{driver.StateGenericRead, core1_0.ImageLayoutGeneral, core1_0.AccessVertexAttributeRead | core1_0.AccessUniformRead |
			core1_0.AccessIndexRead | core1_0.AccessShaderRead | core1_0.AccessIndirectCommandRead | core1_0.AccessTransferRead},
		{driver.StatePresent, khr_swapchain.ImageLayoutPresentSrc, 0},
	}

	for _, testCase := range testCases {
		t.Run(testCase.state.String(), func(t *testing.T) {
			require.Equal(t, testCase.layout, vulkan.Layout(testCase.state))
			require.Equal(t, testCase.access, vulkan.AccessMask(testCase.state))
		})
	}

	require.Equal(t, core1_0.PipelineStageTopOfPipe, vulkan.StageMask(driver.StateCommon, true))
	require.Equal(t, core1_0.PipelineStageBottomOfPipe, vulkan.StageMask(driver.StatePresent, false))
	require.Equal(t, core1_0.PipelineStageTransfer, vulkan.StageMask(driver.StateCopyDest, false))
}

func TestSubresourceRange(t *testing.T) {
	ctrl := gomock.NewController(t)

	image := vulkan.NewImage(1, mocks.EasyMockImage(ctrl), driver.TextureDesc{
		Name:             "array",
		Dimension:        driver.TextureDimension2D,
		Width:            16,
		Height:           16,
		MipLevels:        4,
		DepthOrArraySize: 3,
	}, core1_0.ImageAspectColor)
	require.Equal(t, 12, image.SubresourceCount())

	all, err := vulkan.SubresourceRange(image, driver.AllSubresources)
	require.NoError(t, err)
	require.Equal(t, core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     4,
		BaseArrayLayer: 0,
		LayerCount:     3,
	}, all)

	single, err := vulkan.SubresourceRange(image, driver.SubresourceIndex(1, 2, 4))
	require.NoError(t, err)
	require.Equal(t, core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   1,
		LevelCount:     1,
		BaseArrayLayer: 2,
		LayerCount:     1,
	}, single)

	_, err = vulkan.SubresourceRange(image, 12)
	require.Error(t, err)
}

func TestRecordBarrierBatch(t *testing.T) {
	ctrl := gomock.NewController(t)

	vkImage := mocks.EasyMockImage(ctrl)
	vkBuffer := mocks.EasyMockBuffer(ctrl)
	commandBuffer := mocks.EasyMockCommandBuffer(ctrl)

	image := vulkan.NewImage(1, vkImage, driver.TextureDesc{
		Name:      "target",
		Dimension: driver.TextureDimension2D,
		Width:     8,
		Height:    8,
		MipLevels: 1,
	}, core1_0.ImageAspectColor)
	buffer := vulkan.NewBuffer(2, "vertices", vkBuffer, 256, 0x1000)

	commandBuffer.EXPECT().CmdPipelineBarrier(
		core1_0.PipelineStageColorAttachmentOutput|core1_0.PipelineStageTransfer|core1_0.PipelineStageVertexShader|core1_0.PipelineStageFragmentShader|core1_0.PipelineStageComputeShader,
		core1_0.PipelineStageFragmentShader|core1_0.PipelineStageVertexInput|core1_0.PipelineStageVertexShader|core1_0.PipelineStageComputeShader,
		core1_0.DependencyFlags(0),
		[]core1_0.MemoryBarrier{
			{SrcAccessMask: core1_0.AccessShaderWrite, DstAccessMask: core1_0.AccessShaderRead | core1_0.AccessShaderWrite},
		},
		[]core1_0.BufferMemoryBarrier{
			{
				SrcAccessMask:       core1_0.AccessTransferWrite,
				DstAccessMask:       core1_0.AccessVertexAttributeRead | core1_0.AccessUniformRead,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Buffer:              vkBuffer,
				Size:                256,
			},
		},
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
				DstAccessMask:       core1_0.AccessShaderRead,
				OldLayout:           core1_0.ImageLayoutColorAttachmentOptimal,
				NewLayout:           core1_0.ImageLayoutShaderReadOnlyOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               vkImage,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask: core1_0.ImageAspectColor,
					LevelCount: 1,
					LayerCount: 1,
				},
			},
		},
	).Return(nil)

	err := vulkan.Record(commandBuffer, []driver.ResourceBarrier{
		driver.TransitionBarrier(image, driver.StateRenderTarget, driver.StatePixelShaderResource, driver.AllSubresources),
		driver.TransitionBarrier(buffer, driver.StateCopyDest, driver.StateVertexAndConstantBuffer, 0),
		driver.UAVBarrier(nil),
	})
	require.NoError(t, err)
}

func TestRecordRejectsForeignResources(t *testing.T) {
	ctrl := gomock.NewController(t)
	commandBuffer := mocks.EasyMockCommandBuffer(ctrl)

	foreign := &foreignResource{}
	err := vulkan.Record(commandBuffer, []driver.ResourceBarrier{
		driver.TransitionBarrier(foreign, driver.StateCommon, driver.StateCopyDest, driver.AllSubresources),
	})
	require.Error(t, err)

	// an empty batch records nothing
	require.NoError(t, vulkan.Record(commandBuffer, nil))
}

type foreignResource struct{}

func (r *foreignResource) ID() driver.ResourceID { return 99 }
func (r *foreignResource) Name() string          { return "foreign" }
func (r *foreignResource) SubresourceCount() int { return 1 }
