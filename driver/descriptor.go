package driver

import "fmt"

type DescriptorHeapType uint32

const (
	DescriptorHeapCBVSRVUAV DescriptorHeapType = iota
	DescriptorHeapSampler
	DescriptorHeapRTV
	DescriptorHeapDSV

	NumDescriptorHeapTypes = 4
)

var descriptorHeapTypeMapping = map[DescriptorHeapType]string{
	DescriptorHeapCBVSRVUAV: "CBV_SRV_UAV",
	DescriptorHeapSampler:   "Sampler",
	DescriptorHeapRTV:       "RTV",
	DescriptorHeapDSV:       "DSV",
}

func (t DescriptorHeapType) String() string {
	str, ok := descriptorHeapTypeMapping[t]
	if !ok {
		return fmt.Sprintf("DescriptorHeapType(%d)", uint32(t))
	}
	return str
}

// ShaderVisible returns true for heap categories that can be bound to a command stream
func (t DescriptorHeapType) ShaderVisible() bool {
	return t == DescriptorHeapCBVSRVUAV || t == DescriptorHeapSampler
}

// CPUDescriptorHandle addresses a descriptor in a heap from the CPU. The zero handle is null.
type CPUDescriptorHandle uint64

func (h CPUDescriptorHandle) IsNull() bool { return h == 0 }

func (h CPUDescriptorHandle) Offset(count, incrementSize int) CPUDescriptorHandle {
	return CPUDescriptorHandle(int64(h) + int64(count)*int64(incrementSize))
}

// GPUDescriptorHandle addresses a descriptor in a shader-visible heap from the GPU. The zero handle is null.
type GPUDescriptorHandle uint64

func (h GPUDescriptorHandle) IsNull() bool { return h == 0 }

func (h GPUDescriptorHandle) Offset(count, incrementSize int) GPUDescriptorHandle {
	return GPUDescriptorHandle(int64(h) + int64(count)*int64(incrementSize))
}

type DescriptorHeap interface {
	Type() DescriptorHeapType
	NumDescriptors() int
	ShaderVisible() bool
	CPUStart() CPUDescriptorHandle
	// GPUStart returns the null handle for heaps that are not shader visible
	GPUStart() GPUDescriptorHandle
}

type ViewType uint32

const (
	ViewShaderResource ViewType = iota
	ViewUnorderedAccess
	ViewConstantBuffer
	ViewRenderTarget
	ViewDepthStencil
	ViewSampler
)

var viewTypeMapping = map[ViewType]string{
	ViewShaderResource:  "SRV",
	ViewUnorderedAccess: "UAV",
	ViewConstantBuffer:  "CBV",
	ViewRenderTarget:    "RTV",
	ViewDepthStencil:    "DSV",
	ViewSampler:         "Sampler",
}

func (t ViewType) String() string {
	return viewTypeMapping[t]
}

// HeapType returns the descriptor heap category views of this type are written into
func (t ViewType) HeapType() DescriptorHeapType {
	switch t {
	case ViewRenderTarget:
		return DescriptorHeapRTV
	case ViewDepthStencil:
		return DescriptorHeapDSV
	case ViewSampler:
		return DescriptorHeapSampler
	default:
		return DescriptorHeapCBVSRVUAV
	}
}

// ViewDesc describes a descriptor to be written by Device.CreateView. Resource is nil for
// samplers and for null descriptors.
type ViewDesc struct {
	Type     ViewType
	Resource Resource
	// MipSlice selects the subresource written through render target, depth stencil and
	// unordered access views
	MipSlice int
}
