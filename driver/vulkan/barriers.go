// Package vulkan translates driver resource states and barriers into vkngwrapper calls. It is
// meant for a Vulkan driver.Device backend, whose CommandStream.ResourceBarrier passes its batch
// straight to Record with the stream's core1_0.CommandBuffer.
package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const queueFamilyIgnored = -1

// Image is a driver.Texture backed by a Vulkan image
type Image interface {
	driver.Texture
	VulkanImage() core1_0.Image
	Aspect() core1_0.ImageAspectFlags
}

// Buffer is a driver.Buffer backed by a Vulkan buffer
type Buffer interface {
	driver.Buffer
	VulkanBuffer() core1_0.Buffer
}

// BarrierRecorder is the part of core1_0.CommandBuffer that barrier batches are recorded into
type BarrierRecorder interface {
	CmdPipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, dependencies core1_0.DependencyFlags, memoryBarriers []core1_0.MemoryBarrier, bufferMemoryBarriers []core1_0.BufferMemoryBarrier, imageMemoryBarriers []core1_0.ImageMemoryBarrier) error
}

// BarrierBatch is a batch of driver barriers translated into the arguments of a single vkCmdPipelineBarrier
type BarrierBatch struct {
	SrcStages core1_0.PipelineStageFlags
	DstStages core1_0.PipelineStageFlags

	Memory  []core1_0.MemoryBarrier
	Buffers []core1_0.BufferMemoryBarrier
	Images  []core1_0.ImageMemoryBarrier
}

func (b *BarrierBatch) IsEmpty() bool {
	return len(b.Memory) == 0 && len(b.Buffers) == 0 && len(b.Images) == 0
}

// Translate converts a batch of driver barriers. Transition barriers must name resources created by
// this package; UAV and aliasing barriers become global memory barriers.
func Translate(barriers []driver.ResourceBarrier) (BarrierBatch, error) {
	var batch BarrierBatch

	for index, barrier := range barriers {
		switch barrier.Type {
		case driver.BarrierUAV:
			batch.SrcStages |= shaderStages
			batch.DstStages |= shaderStages
			batch.Memory = append(batch.Memory, core1_0.MemoryBarrier{
				SrcAccessMask: core1_0.AccessShaderWrite,
				DstAccessMask: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
			})
		case driver.BarrierAliasing:
			batch.SrcStages |= core1_0.PipelineStageAllCommands
			batch.DstStages |= core1_0.PipelineStageAllCommands
			batch.Memory = append(batch.Memory, core1_0.MemoryBarrier{
				SrcAccessMask: core1_0.AccessMemoryWrite,
				DstAccessMask: core1_0.AccessMemoryRead | core1_0.AccessMemoryWrite,
			})
		case driver.BarrierTransition:
			err := batch.addTransition(barrier)
			if err != nil {
				return batch, errors.Wrapf(err, "barrier %d", index)
			}
		default:
			return batch, errors.Errorf("barrier %d has unknown type %d", index, barrier.Type)
		}
	}

	return batch, nil
}

func (b *BarrierBatch) addTransition(barrier driver.ResourceBarrier) error {
	b.SrcStages |= StageMask(barrier.StateBefore, true)
	b.DstStages |= StageMask(barrier.StateAfter, false)

	switch res := barrier.Resource.(type) {
	case Buffer:
		b.Buffers = append(b.Buffers, core1_0.BufferMemoryBarrier{
			SrcAccessMask:       AccessMask(barrier.StateBefore),
			DstAccessMask:       AccessMask(barrier.StateAfter),
			SrcQueueFamilyIndex: queueFamilyIgnored,
			DstQueueFamilyIndex: queueFamilyIgnored,
			Buffer:              res.VulkanBuffer(),
			Offset:              0,
			Size:                res.Size(),
		})
	case Image:
		subresourceRange, err := SubresourceRange(res, barrier.Subresource)
		if err != nil {
			return err
		}

		b.Images = append(b.Images, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       AccessMask(barrier.StateBefore),
			DstAccessMask:       AccessMask(barrier.StateAfter),
			OldLayout:           Layout(barrier.StateBefore),
			NewLayout:           Layout(barrier.StateAfter),
			SrcQueueFamilyIndex: queueFamilyIgnored,
			DstQueueFamilyIndex: queueFamilyIgnored,
			Image:               res.VulkanImage(),
			SubresourceRange:    subresourceRange,
		})
	default:
		return errors.Errorf("resource %T is not a vulkan resource", barrier.Resource)
	}

	return nil
}

// SubresourceRange converts a flat subresource index into the mip level and array layer it addresses
func SubresourceRange(image Image, subresource uint32) (core1_0.ImageSubresourceRange, error) {
	desc := image.Desc()
	mips := desc.MipLevels
	if mips < 1 {
		mips = 1
	}
	layers := 1
	if desc.Dimension != driver.TextureDimension3D && desc.DepthOrArraySize > 1 {
		layers = desc.DepthOrArraySize
	}

	if subresource == driver.AllSubresources {
		return core1_0.ImageSubresourceRange{
			AspectMask:     image.Aspect(),
			BaseMipLevel:   0,
			LevelCount:     mips,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		}, nil
	}

	if int(subresource) >= mips*layers {
		return core1_0.ImageSubresourceRange{}, errors.Errorf("subresource %d is out of range for an image with %d mips and %d layers", subresource, mips, layers)
	}

	return core1_0.ImageSubresourceRange{
		AspectMask:     image.Aspect(),
		BaseMipLevel:   int(subresource) % mips,
		LevelCount:     1,
		BaseArrayLayer: int(subresource) / mips,
		LayerCount:     1,
	}, nil
}

// Record translates a batch of driver barriers and records it as a single pipeline barrier
func Record(recorder BarrierRecorder, barriers []driver.ResourceBarrier) error {
	batch, err := Translate(barriers)
	if err != nil {
		return err
	}
	if batch.IsEmpty() {
		return nil
	}

	return recorder.CmdPipelineBarrier(batch.SrcStages, batch.DstStages, 0, batch.Memory, batch.Buffers, batch.Images)
}
