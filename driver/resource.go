package driver

// ResourceID identifies a resource for the lifetime of the device that created it. IDs are never reused.
type ResourceID uint64

// GPUAddress is a virtual address in GPU memory
type GPUAddress uint64

// Resource is a block of GPU-addressable memory with one or more subresources
type Resource interface {
	ID() ResourceID
	Name() string
	// SubresourceCount is MipLevels * ArraySize for textures and 1 for buffers
	SubresourceCount() int
}

type Buffer interface {
	Resource
	Size() int
	GPUAddress() GPUAddress
}

// UploadBuffer is a persistently mapped buffer in CPU-writable memory
type UploadBuffer interface {
	Buffer
	Data() []byte
}

type TextureDimension uint32

const (
	TextureDimension1D TextureDimension = iota + 1
	TextureDimension2D
	TextureDimension3D
)

var textureDimensionMapping = map[TextureDimension]string{
	TextureDimension1D: "Texture1D",
	TextureDimension2D: "Texture2D",
	TextureDimension3D: "Texture3D",
}

func (d TextureDimension) String() string {
	return textureDimensionMapping[d]
}

type ResourceUsage uint32

const (
	UsageRenderTarget ResourceUsage = 1 << iota
	UsageDepthStencil
	UsageUnorderedAccess
	UsageDenyShaderResource
)

type BufferDesc struct {
	Name  string
	Size  int
	Usage ResourceUsage
}

type TextureDesc struct {
	Name      string
	Dimension TextureDimension
	Width     int
	Height    int
	// DepthOrArraySize is the depth of a 3D texture and the array size of any other texture
	DepthOrArraySize int
	MipLevels        int
	Usage            ResourceUsage
}

// SubresourceCount returns the number of subresources a texture created from this description will have
func (d TextureDesc) SubresourceCount() int {
	mips := d.MipLevels
	if mips < 1 {
		mips = 1
	}
	if d.Dimension == TextureDimension3D || d.DepthOrArraySize < 1 {
		return mips
	}
	return mips * d.DepthOrArraySize
}

type Texture interface {
	Resource
	Desc() TextureDesc
}

// SubresourceIndex computes the flat subresource index of a mip level within an array slice
func SubresourceIndex(mipLevel, arraySlice, mipLevels int) uint32 {
	return uint32(mipLevel + arraySlice*mipLevels)
}
