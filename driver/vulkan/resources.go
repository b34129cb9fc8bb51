package vulkan

import (
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type image struct {
	id     driver.ResourceID
	desc   driver.TextureDesc
	handle core1_0.Image
	aspect core1_0.ImageAspectFlags
}

// NewImage wraps a Vulkan image so that it can be tracked and transitioned
func NewImage(id driver.ResourceID, handle core1_0.Image, desc driver.TextureDesc, aspect core1_0.ImageAspectFlags) Image {
	return &image{id: id, desc: desc, handle: handle, aspect: aspect}
}

func (i *image) ID() driver.ResourceID            { return i.id }
func (i *image) Name() string                     { return i.desc.Name }
func (i *image) SubresourceCount() int            { return i.desc.SubresourceCount() }
func (i *image) Desc() driver.TextureDesc         { return i.desc }
func (i *image) VulkanImage() core1_0.Image       { return i.handle }
func (i *image) Aspect() core1_0.ImageAspectFlags { return i.aspect }

type buffer struct {
	id      driver.ResourceID
	name    string
	size    int
	address driver.GPUAddress
	handle  core1_0.Buffer
}

// NewBuffer wraps a Vulkan buffer so that it can be tracked and transitioned
func NewBuffer(id driver.ResourceID, name string, handle core1_0.Buffer, size int, address driver.GPUAddress) Buffer {
	return &buffer{id: id, name: name, size: size, address: address, handle: handle}
}

func (b *buffer) ID() driver.ResourceID         { return b.id }
func (b *buffer) Name() string                  { return b.name }
func (b *buffer) SubresourceCount() int         { return 1 }
func (b *buffer) Size() int                     { return b.size }
func (b *buffer) GPUAddress() driver.GPUAddress { return b.address }
func (b *buffer) VulkanBuffer() core1_0.Buffer  { return b.handle }
