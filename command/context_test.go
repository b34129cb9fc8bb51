package command_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conductor/command"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/driver/soft"
	"github.com/vkngwrapper/conductor/memutils"
)

func submit(t *testing.T, queue *command.Queue, contexts ...*command.Context) uint64 {
	value, err := queue.Submit(contexts...)
	require.NoError(t, err)
	return value
}

func transitions(barriers []driver.ResourceBarrier, resource driver.Resource) []driver.ResourceBarrier {
	var found []driver.ResourceBarrier
	for _, barrier := range barriers {
		if barrier.Type == driver.BarrierTransition && barrier.Resource.ID() == resource.ID() {
			found = append(found, barrier)
		}
	}
	return found
}

func TestContextsSeeEachOthersFinalStates(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{})
	queue := device.DirectQueue()
	target := createTexture(t, device, "target", 1, driver.UsageRenderTarget)

	a, err := queue.Context()
	require.NoError(t, err)
	a.TransitionBarrier(target, driver.StateRenderTarget, driver.AllSubresources, false)
	require.Equal(t, 1, a.Tracker().PendingCount())
	submit(t, queue, a)

	b, err := queue.Context()
	require.NoError(t, err)
	b.TransitionBarrier(target, driver.StatePixelShaderResource, driver.AllSubresources, false)
	submit(t, queue, b)

	require.Equal(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(target, driver.StateCommon, driver.StateRenderTarget, driver.AllSubresources),
		driver.TransitionBarrier(target, driver.StateRenderTarget, driver.StatePixelShaderResource, driver.AllSubresources),
	}, transitions(gpu.ExecutedBarriers(), target))
	require.Equal(t, driver.StatePixelShaderResource, device.States().State(target, driver.AllSubresources))
	require.Empty(t, gpu.ValidationErrors())
}

func TestImmediateBarriersWithinContext(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{})
	queue := device.DirectQueue()
	texture := createTexture(t, device, "texture", 3, driver.UsageRenderTarget)

	ctx, err := queue.Context()
	require.NoError(t, err)
	ctx.TransitionBarrier(texture, driver.StateRenderTarget, 1, false)
	ctx.TransitionBarrier(texture, driver.StateCopySource, 1, false)
	ctx.TransitionBarrier(texture, driver.StateShaderResource, driver.AllSubresources, true)
	require.Equal(t, 0, ctx.Tracker().ImmediateCount())
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	for sub := uint32(0); sub < 3; sub++ {
		require.Equal(t, driver.StateShaderResource, gpu.ResourceState(texture, sub))
		require.Equal(t, driver.StateShaderResource, device.States().State(texture, sub))
	}
}

func TestCopyBufferThroughUploadMemory(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{UploadPageSize: 256})
	queue := device.CopyQueue()
	buffer := createBuffer(t, device, "buffer", 1000)

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}

	ctx, err := queue.Context()
	require.NoError(t, err)
	require.NoError(t, ctx.CopyBuffer(buffer, data))
	require.Error(t, ctx.CopyBuffer(buffer, make([]byte, 1001)))
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	require.Equal(t, data, buffer.(*soft.Buffer).Data())
	require.GreaterOrEqual(t, device.UploadPool().PageCount(), 1000/(256-memutils.DebugMargin))
	require.Equal(t, driver.StateCopyDest, device.States().State(buffer, driver.AllSubresources))
}

func TestCopyBetweenBuffers(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{})
	queue := device.DirectQueue()
	src := createBuffer(t, device, "src", 64)
	dst := createBuffer(t, device, "dst", 64)
	region := createBuffer(t, device, "region", 16)

	ctx, err := queue.Context()
	require.NoError(t, err)
	require.NoError(t, ctx.CopyBuffer(src, []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")))
	ctx.CopyResource(dst, src)
	require.NoError(t, ctx.CopyBufferRegion(region, 0, dst, 10, 16))
	err = ctx.CopyBufferRegion(region, 8, dst, 0, 16)
	require.True(t, errors.Is(err, memutils.OutOfRangeError))
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	require.Equal(t, []byte("abcdef0123456789"), region.(*soft.Buffer).Data())
	require.Equal(t, driver.StateCopySource, device.States().State(dst, driver.AllSubresources))
}

func drawLayout() *driver.BindingLayout {
	return &driver.BindingLayout{
		Name: "draw",
		Parameters: []driver.RootParameter{
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{{Type: driver.RangeShaderResource, NumDescriptors: 1}}},
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{{Type: driver.RangeUnorderedAccess, NumDescriptors: 1}}},
			{Type: driver.RootParameterConstantBufferView},
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{{Type: driver.RangeSampler, NumDescriptors: 1}}},
		},
	}
}

func TestDrawBindsDescriptorsAndStates(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{})
	queue := device.DirectQueue()

	texture := createTexture(t, device, "texture", 2, 0)
	output := createBuffer(t, device, "output", 256)

	srv, err := device.CreateView(texture, driver.ViewShaderResource, 0)
	require.NoError(t, err)
	uav, err := device.CreateView(output, driver.ViewUnorderedAccess, 0)
	require.NoError(t, err)
	sampler, err := device.CreateSampler()
	require.NoError(t, err)

	ctx, err := queue.Context()
	require.NoError(t, err)
	require.NoError(t, ctx.SetGraphicsBindingLayout(drawLayout()))
	ctx.SetShaderResourceView(0, 0, srv)
	ctx.SetUnorderedAccessView(1, 0, uav)
	ctx.SetSampler(3, 0, sampler)
	require.NoError(t, ctx.SetGraphicsDynamicConstantBuffer(2, make([]byte, 64)))
	require.NoError(t, ctx.SetDynamicVertexBuffer(0, make([]byte, 96), 12))
	require.NoError(t, ctx.SetDynamicIndexBuffer(make([]byte, 12), driver.IndexFormatUint16))
	require.NoError(t, ctx.Draw(3, 1, 0, 0))
	require.NoError(t, ctx.DrawIndexed(6, 1, 0, 0, 0))
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	require.Equal(t, 2, gpu.Stats().Draws)
	require.Equal(t, driver.StateShaderResource, device.States().State(texture, 1))
	require.Equal(t, driver.StateUnorderedAccess, device.States().State(output, driver.AllSubresources))
}

func TestDispatchOnComputeQueue(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{})
	queue := device.ComputeQueue()

	input := createBuffer(t, device, "input", 256)
	output := createTexture(t, device, "output", 2, driver.UsageUnorderedAccess)

	srv, err := device.CreateView(input, driver.ViewShaderResource, 0)
	require.NoError(t, err)
	uav, err := device.CreateView(output, driver.ViewUnorderedAccess, 1)
	require.NoError(t, err)
	sampler, err := device.CreateSampler()
	require.NoError(t, err)

	ctx, err := queue.Context()
	require.NoError(t, err)
	require.Error(t, ctx.SetGraphicsBindingLayout(drawLayout()))
	require.NoError(t, ctx.SetComputeBindingLayout(drawLayout()))
	ctx.SetShaderResourceView(0, 0, srv)
	ctx.SetUnorderedAccessView(1, 0, uav)
	ctx.SetSampler(3, 0, sampler)
	require.NoError(t, ctx.SetComputeDynamicConstantBuffer(2, make([]byte, 16)))
	require.NoError(t, ctx.Dispatch(8, 8, 1))
	ctx.UAVBarrier(output, false)
	require.NoError(t, ctx.Dispatch(8, 8, 1))
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	require.Equal(t, 2, gpu.Stats().Dispatches)
	require.Equal(t, driver.StateNonPixelShaderResource, device.States().State(input, driver.AllSubresources))
	require.Equal(t, driver.StateUnorderedAccess, device.States().State(output, 1))
	require.Equal(t, driver.StateCommon, device.States().State(output, 0))
}

func TestDescriptorWindowRollover(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{DescriptorWindowSize: 4 + 2*memutils.DebugMargin})
	queue := device.DirectQueue()

	texture := createTexture(t, device, "texture", 1, 0)
	output := createBuffer(t, device, "output", 256)
	srv, err := device.CreateView(texture, driver.ViewShaderResource, 0)
	require.NoError(t, err)
	uav, err := device.CreateView(output, driver.ViewUnorderedAccess, 0)
	require.NoError(t, err)
	sampler, err := device.CreateSampler()
	require.NoError(t, err)

	ctx, err := queue.Context()
	require.NoError(t, err)
	require.NoError(t, ctx.SetGraphicsBindingLayout(drawLayout()))
	ctx.SetShaderResourceView(0, 0, srv)
	ctx.SetUnorderedAccessView(1, 0, uav)
	ctx.SetSampler(3, 0, sampler)
	require.NoError(t, ctx.SetGraphicsDynamicConstantBuffer(2, make([]byte, 16)))

	// each draw re-stages the SRV table, so the window runs out regularly
	for i := 0; i < 10; i++ {
		ctx.SetShaderResourceView(0, 0, srv)
		require.NoError(t, ctx.Draw(3, 1, 0, 0))
	}
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	require.Equal(t, 10, gpu.Stats().Draws)
}

func TestClears(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{})
	queue := device.DirectQueue()

	target := createTexture(t, device, "target", 2, driver.UsageRenderTarget)
	output := createBuffer(t, device, "output", 256)
	rtv, err := device.CreateView(target, driver.ViewRenderTarget, 1)
	require.NoError(t, err)
	uav, err := device.CreateView(output, driver.ViewUnorderedAccess, 0)
	require.NoError(t, err)

	ctx, err := queue.Context()
	require.NoError(t, err)
	ctx.ClearRenderTarget(rtv, [4]float32{0, 0, 0, 1})
	require.NoError(t, ctx.ClearUnorderedAccess(uav, [4]uint32{}))
	require.Panics(t, func() {
		ctx.ClearRenderTarget(uav, [4]float32{})
	})
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	require.Equal(t, driver.StateRenderTarget, device.States().State(target, 1))
	require.Equal(t, driver.StateCommon, device.States().State(target, 0))
}

func TestFixedVertexAndIndexBuffers(t *testing.T) {
	device, gpu := newDevice(t, soft.ExecuteImmediate, command.CreateOptions{})
	queue := device.DirectQueue()

	vertices := createBuffer(t, device, "vertices", 256)
	indices := createBuffer(t, device, "indices", 64)
	layout := &driver.BindingLayout{Name: "empty"}

	ctx, err := queue.Context()
	require.NoError(t, err)
	require.NoError(t, ctx.SetGraphicsBindingLayout(layout))
	ctx.SetVertexBuffer(0, vertices, 16)
	ctx.SetIndexBuffer(indices, driver.IndexFormatUint32)
	require.NoError(t, ctx.DrawIndexed(3, 1, 0, 0, 0))
	submit(t, queue, ctx)

	require.Empty(t, gpu.ValidationErrors())
	require.Equal(t, driver.StateVertexAndConstantBuffer, device.States().State(vertices, driver.AllSubresources))
	require.Equal(t, driver.StateIndexBuffer, device.States().State(indices, driver.AllSubresources))
}

func TestRecordingAfterSubmitPanics(t *testing.T) {
	device, _ := newDevice(t, soft.ExecuteManual, command.CreateOptions{})
	queue := device.DirectQueue()
	buffer := createBuffer(t, device, "buffer", 64)

	ctx, err := queue.Context()
	require.NoError(t, err)
	submit(t, queue, ctx)
	require.Equal(t, command.ContextClosed, ctx.State())

	require.Panics(t, func() {
		ctx.TransitionBarrier(buffer, driver.StateCopyDest, driver.AllSubresources, true)
	})
	require.Panics(t, ctx.FlushResourceBarriers)

	uav, err := device.CreateView(buffer, driver.ViewUnorderedAccess, 0)
	require.NoError(t, err)

	copyCtx, err := device.CopyQueue().Context()
	require.NoError(t, err)
	require.Error(t, copyCtx.SetComputeBindingLayout(drawLayout()))
	require.Panics(t, func() {
		_ = copyCtx.ClearUnorderedAccess(uav, [4]uint32{})
	})
}
