package soft_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/driver/soft"
)

func newDevice(t *testing.T, mode soft.ExecutionMode) *soft.Device {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	device := soft.New(logger, soft.CreateOptions{Mode: mode, KeepHistory: true})
	t.Cleanup(device.Close)
	return device
}

func newStream(t *testing.T, device *soft.Device, queueType driver.QueueType) (driver.CommandAllocator, driver.CommandStream) {
	allocator, err := device.CreateCommandAllocator(queueType)
	require.NoError(t, err)
	stream, err := device.CreateCommandStream(queueType, allocator)
	require.NoError(t, err)
	return allocator, stream
}

func TestFenceWaitTimesOut(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	fence, err := device.CreateFence(0)
	require.NoError(t, err)

	reached, err := fence.WaitFor(1, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, reached)

	go func() {
		time.Sleep(5 * time.Millisecond)
		fence.(*soft.Fence).Signal(2)
	}()

	reached, err = fence.WaitFor(2, driver.NoTimeout)
	require.NoError(t, err)
	require.True(t, reached)
	require.Equal(t, uint64(2), fence.CompletedValue())

	// lower values never move the fence backward
	fence.(*soft.Fence).Signal(1)
	require.Equal(t, uint64(2), fence.CompletedValue())
}

func TestTransitionValidation(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	queue, err := device.CreateCommandQueue(driver.QueueDirect)
	require.NoError(t, err)

	texture, err := device.CreateTexture(driver.TextureDesc{Name: "tex", Dimension: driver.TextureDimension2D, Width: 4, Height: 4, MipLevels: 2})
	require.NoError(t, err)

	_, stream := newStream(t, device, driver.QueueDirect)
	stream.ResourceBarrier([]driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StateCommon, driver.StateRenderTarget, 1),
		driver.TransitionBarrier(texture, driver.StateCommon, driver.StateCopyDest, 1),
	})
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))

	require.Equal(t, driver.StateCommon, device.ResourceState(texture, 0))
	require.Equal(t, driver.StateCopyDest, device.ResourceState(texture, 1))

	errs := device.ValidationErrors()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "claimed before-state")
}

func TestRedundantTransitionIsReported(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	queue, err := device.CreateCommandQueue(driver.QueueDirect)
	require.NoError(t, err)

	buffer, err := device.CreateBuffer(driver.BufferDesc{Name: "buf", Size: 16})
	require.NoError(t, err)

	_, stream := newStream(t, device, driver.QueueDirect)
	stream.ResourceBarrier([]driver.ResourceBarrier{
		driver.TransitionBarrier(buffer, driver.StateCommon, driver.StateCommon, driver.AllSubresources),
	})
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))

	require.Len(t, device.ValidationErrors(), 1)
}

func TestCopyBufferRegion(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	queue, err := device.CreateCommandQueue(driver.QueueCopy)
	require.NoError(t, err)

	upload, err := device.CreateUploadBuffer(64)
	require.NoError(t, err)
	copy(upload.Data()[8:], []byte("conductor"))

	dst, err := device.CreateBuffer(driver.BufferDesc{Name: "dst", Size: 32})
	require.NoError(t, err)

	_, stream := newStream(t, device, driver.QueueCopy)
	stream.ResourceBarrier([]driver.ResourceBarrier{
		driver.TransitionBarrier(dst, driver.StateCommon, driver.StateCopyDest, driver.AllSubresources),
	})
	stream.CopyBufferRegion(dst, 4, upload, 8, 9)
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))

	require.Empty(t, device.ValidationErrors())
	require.Equal(t, []byte("conductor"), dst.(*soft.Buffer).Data()[4:13])
	require.Equal(t, 1, device.Stats().Copies)
}

func TestCopyWithoutTransitionIsReported(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	queue, err := device.CreateCommandQueue(driver.QueueCopy)
	require.NoError(t, err)

	src, err := device.CreateBuffer(driver.BufferDesc{Name: "src", Size: 8})
	require.NoError(t, err)
	dst, err := device.CreateBuffer(driver.BufferDesc{Name: "dst", Size: 8})
	require.NoError(t, err)

	_, stream := newStream(t, device, driver.QueueCopy)
	stream.CopyResource(dst, src)
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))

	require.Len(t, device.ValidationErrors(), 2)
}

func TestManualQueueHoldsWork(t *testing.T) {
	device := newDevice(t, soft.ExecuteManual)
	hw, err := device.CreateCommandQueue(driver.QueueDirect)
	require.NoError(t, err)
	queue := hw.(*soft.Queue)

	fence, err := device.CreateFence(0)
	require.NoError(t, err)

	allocator, stream := newStream(t, device, driver.QueueDirect)
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))
	require.NoError(t, queue.Signal(fence, 1))

	require.Equal(t, 2, queue.Pending())
	require.Equal(t, uint64(0), fence.CompletedValue())
	require.Error(t, allocator.Reset())
	require.Error(t, stream.Reset(allocator))

	require.True(t, queue.Step())
	require.NoError(t, allocator.Reset())
	require.Equal(t, uint64(0), fence.CompletedValue())

	require.True(t, queue.Step())
	require.Equal(t, uint64(1), fence.CompletedValue())
	require.False(t, queue.Step())

	require.NoError(t, stream.Reset(allocator))
}

func TestCrossQueueWait(t *testing.T) {
	device := newDevice(t, soft.ExecuteManual)
	direct, err := device.CreateCommandQueue(driver.QueueDirect)
	require.NoError(t, err)
	compute, err := device.CreateCommandQueue(driver.QueueCompute)
	require.NoError(t, err)

	computeFence, err := device.CreateFence(0)
	require.NoError(t, err)
	directFence, err := device.CreateFence(0)
	require.NoError(t, err)

	require.NoError(t, direct.Wait(computeFence, 1))
	require.NoError(t, direct.Signal(directFence, 1))

	require.False(t, direct.(*soft.Queue).Step())

	require.NoError(t, compute.Signal(computeFence, 1))
	device.Drain()

	require.Equal(t, uint64(1), directFence.CompletedValue())
}

func TestImmediateQueueRejectsUnreachableWait(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	queue, err := device.CreateCommandQueue(driver.QueueDirect)
	require.NoError(t, err)
	fence, err := device.CreateFence(0)
	require.NoError(t, err)

	require.Error(t, queue.Wait(fence, 1))
}

func TestAsyncQueueSignals(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	device := soft.New(logger, soft.CreateOptions{Mode: soft.ExecuteAsync, ExecutionLatency: time.Millisecond})
	defer device.Close()

	queue, err := device.CreateCommandQueue(driver.QueueCompute)
	require.NoError(t, err)
	fence, err := device.CreateFence(0)
	require.NoError(t, err)

	_, stream := newStream(t, device, driver.QueueCompute)
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))
	require.NoError(t, queue.Signal(fence, 7))

	reached, err := fence.WaitFor(7, time.Second)
	require.NoError(t, err)
	require.True(t, reached)
	require.Equal(t, 1, device.Stats().StreamsExecuted)
}

func TestDrawValidatesDescriptorTables(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	queue, err := device.CreateCommandQueue(driver.QueueDirect)
	require.NoError(t, err)

	texture, err := device.CreateTexture(driver.TextureDesc{Name: "albedo", Dimension: driver.TextureDimension2D, Width: 8, Height: 8})
	require.NoError(t, err)

	cpuHeap, err := device.CreateDescriptorHeap(driver.DescriptorHeapCBVSRVUAV, 4, false)
	require.NoError(t, err)
	gpuHeap, err := device.CreateDescriptorHeap(driver.DescriptorHeapCBVSRVUAV, 4, true)
	require.NoError(t, err)

	require.NoError(t, device.CreateView(cpuHeap.CPUStart(), driver.ViewDesc{Type: driver.ViewShaderResource, Resource: texture}))
	device.CopyDescriptorsSimple(1, gpuHeap.CPUStart(), cpuHeap.CPUStart(), driver.DescriptorHeapCBVSRVUAV)

	desc, written := device.Descriptor(gpuHeap.CPUStart())
	require.True(t, written)
	require.Equal(t, texture, desc.Resource)

	layout := &driver.BindingLayout{Name: "one-srv", Parameters: []driver.RootParameter{
		{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{{Type: driver.RangeShaderResource, NumDescriptors: 1}}},
	}}

	_, stream := newStream(t, device, driver.QueueDirect)
	stream.ResourceBarrier([]driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StateCommon, driver.StatePixelShaderResource, driver.AllSubresources),
	})
	stream.SetDescriptorHeaps([]driver.DescriptorHeap{gpuHeap})
	stream.SetGraphicsBindingLayout(layout)
	stream.SetGraphicsDescriptorTable(0, gpuHeap.GPUStart())
	stream.DrawInstanced(3, 1, 0, 0)
	// unbound table
	stream.SetGraphicsBindingLayout(layout)
	stream.DrawInstanced(3, 1, 0, 0)
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))

	errs := device.ValidationErrors()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "unbound")
	require.Equal(t, 2, device.Stats().Draws)
}

func TestWriteCapture(t *testing.T) {
	device := newDevice(t, soft.ExecuteImmediate)
	queue, err := device.CreateCommandQueue(driver.QueueDirect)
	require.NoError(t, err)
	buffer, err := device.CreateBuffer(driver.BufferDesc{Name: "buf", Size: 16})
	require.NoError(t, err)

	_, stream := newStream(t, device, driver.QueueDirect)
	stream.ResourceBarrier([]driver.ResourceBarrier{
		driver.TransitionBarrier(buffer, driver.StateCommon, driver.StateUnorderedAccess, driver.AllSubresources),
		driver.UAVBarrier(nil),
	})
	require.NoError(t, stream.Close())
	require.NoError(t, queue.ExecuteCommandStreams([]driver.CommandStream{stream}))

	var out bytes.Buffer
	require.NoError(t, device.WriteCapture(&out))

	var capture []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &capture))
	require.Len(t, capture, 1)
	require.Equal(t, "Barrier", capture[0]["Op"])
	require.Equal(t, "Direct", capture[0]["Queue"])
	require.Len(t, capture[0]["Barriers"], 2)

	barriers := device.ExecutedBarriers()
	require.Len(t, barriers, 2)
	require.Equal(t, driver.StateUnorderedAccess, barriers[0].StateAfter)
}
