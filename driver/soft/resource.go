package soft

import (
	"github.com/vkngwrapper/conductor/driver"
)

type resource struct {
	id           driver.ResourceID
	name         string
	subresources int
}

func (r *resource) ID() driver.ResourceID { return r.id }
func (r *resource) Name() string          { return r.name }
func (r *resource) SubresourceCount() int { return r.subresources }

// Buffer is a driver.Buffer backed by host memory
type Buffer struct {
	resource
	desc    driver.BufferDesc
	address driver.GPUAddress
	data    []byte
}

var _ driver.UploadBuffer = &Buffer{}

func (b *Buffer) Size() int                     { return len(b.data) }
func (b *Buffer) GPUAddress() driver.GPUAddress { return b.address }

// Data exposes the buffer's contents. The GPU writes to it while work is executing, so it should only
// be read once that work has completed.
func (b *Buffer) Data() []byte { return b.data }

// Texture is a driver.Texture. Texel contents are not simulated.
type Texture struct {
	resource
	desc driver.TextureDesc
}

var _ driver.Texture = &Texture{}

func (t *Texture) Desc() driver.TextureDesc { return t.desc }
