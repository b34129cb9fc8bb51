package driver

//go:generate mockgen -destination ./mocks/mocks.go -package mocks github.com/vkngwrapper/conductor/driver Fence,HardwareQueue,CommandAllocator

import (
	"time"
)

type QueueType uint32

const (
	QueueDirect QueueType = iota
	QueueCompute
	QueueCopy
)

var queueTypeMapping = map[QueueType]string{
	QueueDirect:  "Direct",
	QueueCompute: "Compute",
	QueueCopy:    "Copy",
}

func (t QueueType) String() string {
	return queueTypeMapping[t]
}

// Device creates every object the recording subsystem needs from the underlying GPU API.
type Device interface {
	CreateCommandQueue(queueType QueueType) (HardwareQueue, error)
	CreateCommandAllocator(queueType QueueType) (CommandAllocator, error)
	// CreateCommandStream creates a command stream that is open for recording into the provided allocator
	CreateCommandStream(queueType QueueType, allocator CommandAllocator) (CommandStream, error)
	CreateFence(initialValue uint64) (Fence, error)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateTexture(desc TextureDesc) (Texture, error)
	CreateUploadBuffer(size int) (UploadBuffer, error)

	CreateDescriptorHeap(heapType DescriptorHeapType, numDescriptors int, shaderVisible bool) (DescriptorHeap, error)
	DescriptorHandleIncrementSize(heapType DescriptorHeapType) int
	// CreateView writes a descriptor to dst
	CreateView(dst CPUDescriptorHandle, desc ViewDesc) error
	// CopyDescriptors copies each of the single descriptors in src to consecutive slots beginning at dst
	CopyDescriptors(dst CPUDescriptorHandle, src []CPUDescriptorHandle, heapType DescriptorHeapType)
	// CopyDescriptorsSimple copies count consecutive descriptors beginning at src to consecutive slots beginning at dst
	CopyDescriptorsSimple(count int, dst, src CPUDescriptorHandle, heapType DescriptorHeapType)
}

// CommandAllocator backs the memory of the command streams recorded into it. It may only be reset
// once the GPU has finished executing every stream recorded into it.
type CommandAllocator interface {
	QueueType() QueueType
	Reset() error
}

type VertexBufferView struct {
	Location GPUAddress
	Size     int
	Stride   int
}

type IndexFormat uint32

const (
	IndexFormatUint16 IndexFormat = iota
	IndexFormatUint32
)

type IndexBufferView struct {
	Location GPUAddress
	Size     int
	Format   IndexFormat
}

// CommandStream records GPU commands. Streams are created open; Close ends recording and Reset
// reopens a stream that the GPU has finished executing.
type CommandStream interface {
	QueueType() QueueType
	Reset(allocator CommandAllocator) error
	Close() error

	// ResourceBarrier records a batch of barriers. Implementations must not retain the slice.
	ResourceBarrier(barriers []ResourceBarrier)

	CopyResource(dst, src Resource)
	CopyBufferRegion(dst Buffer, dstOffset int, src Buffer, srcOffset int, size int)

	SetDescriptorHeaps(heaps []DescriptorHeap)
	SetGraphicsBindingLayout(layout *BindingLayout)
	SetComputeBindingLayout(layout *BindingLayout)
	SetGraphicsDescriptorTable(param int, handle GPUDescriptorHandle)
	SetComputeDescriptorTable(param int, handle GPUDescriptorHandle)
	SetGraphicsConstantBufferView(param int, address GPUAddress)
	SetComputeConstantBufferView(param int, address GPUAddress)
	SetVertexBuffers(startSlot int, views []VertexBufferView)
	SetIndexBuffer(view IndexBufferView)

	DrawInstanced(vertexCount, instanceCount, startVertex, startInstance int)
	DrawIndexedInstanced(indexCount, instanceCount, startIndex, baseVertex, startInstance int)
	Dispatch(groupsX, groupsY, groupsZ int)
	ClearRenderTargetView(rtv CPUDescriptorHandle, color [4]float32)
	ClearUnorderedAccessView(gpu GPUDescriptorHandle, cpu CPUDescriptorHandle, resource Resource, values [4]uint32)
}

// HardwareQueue executes closed command streams in submission order
type HardwareQueue interface {
	Type() QueueType
	ExecuteCommandStreams(streams []CommandStream) error
	// Signal schedules fence to be set to value once all previously executed work completes
	Signal(fence Fence, value uint64) error
	// Wait makes all subsequently executed work wait until fence reaches value
	Wait(fence Fence, value uint64) error
}

// Fence is a monotonically increasing counter written by the GPU
type Fence interface {
	CompletedValue() uint64
	// WaitFor blocks until the fence reaches value or timeout elapses. It returns false if the
	// timeout elapsed first. A negative timeout waits indefinitely.
	WaitFor(value uint64, timeout time.Duration) (bool, error)
}

// NoTimeout makes Fence.WaitFor wait indefinitely
const NoTimeout time.Duration = -1
