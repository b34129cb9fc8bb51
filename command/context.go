package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/descriptor"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/memutils"
	"github.com/vkngwrapper/conductor/state"
	"github.com/vkngwrapper/conductor/upload"
)

// ConstantBufferAlignment is the alignment of dynamic constant buffers in upload memory
const ConstantBufferAlignment = 256

type ContextState uint32

const (
	// ContextOpen contexts accept commands
	ContextOpen ContextState = iota
	// ContextClosed contexts have been submitted and may still be executing
	ContextClosed
	// ContextCompleted contexts have finished executing and are waiting to be reused
	ContextCompleted
)

var contextStateMapping = map[ContextState]string{
	ContextOpen:      "Open",
	ContextClosed:    "Closed",
	ContextCompleted: "Completed",
}

func (s ContextState) String() string {
	return contextStateMapping[s]
}

// dynamicHeapTypes are the heap categories a context stages descriptor tables for
var dynamicHeapTypes = [...]driver.DescriptorHeapType{driver.DescriptorHeapCBVSRVUAV, driver.DescriptorHeapSampler}

// Context records GPU work for one queue. Barriers are computed by the context's state tracker,
// transient data is written to upload memory, and descriptor tables are staged and committed
// just before each draw or dispatch.
type Context struct {
	logger    *slog.Logger
	queue     *Queue
	device    *Device
	queueType driver.QueueType

	allocator driver.CommandAllocator
	stream    driver.CommandStream
	tracker   *state.Tracker
	uploads   *upload.Allocator
	caches    [driver.NumDescriptorHeapTypes]*descriptor.DynamicCache

	heaps          [driver.NumDescriptorHeapTypes]driver.DescriptorHeap
	graphicsLayout *driver.BindingLayout
	computeLayout  *driver.BindingLayout

	state      ContextState
	fenceValue uint64
}

var _ descriptor.Binder = &Context{}

func newContext(queue *Queue) (*Context, error) {
	device := queue.device

	allocator, err := device.driver.CreateCommandAllocator(queue.queueType)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create a %s command allocator", queue.queueType)
	}

	stream, err := device.driver.CreateCommandStream(queue.queueType, allocator)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create a %s command stream", queue.queueType)
	}

	ctx := &Context{
		logger:    queue.logger,
		queue:     queue,
		device:    device,
		queueType: queue.queueType,
		allocator: allocator,
		stream:    stream,
		tracker:   state.NewTracker(queue.logger),
		uploads:   upload.NewAllocator(queue.logger, device.uploads),
	}

	if queue.queueType != driver.QueueCopy {
		for _, heapType := range dynamicHeapTypes {
			ctx.caches[heapType] = descriptor.NewDynamicCache(queue.logger, device.driver, heapType, descriptor.DynamicCacheOptions{
				WindowSize: device.options.DescriptorWindowSize,
			})
		}
	}

	return ctx, nil
}

func (c *Context) State() ContextState                 { return c.state }
func (c *Context) QueueType() driver.QueueType         { return c.queueType }
func (c *Context) CommandStream() driver.CommandStream { return c.stream }
func (c *Context) Tracker() *state.Tracker             { return c.tracker }

// FenceValue returns the value the context's queue fence reaches once the context has executed. It is
// only meaningful once the context has been submitted.
func (c *Context) FenceValue() uint64 { return c.fenceValue }

func (c *Context) assertOpen() {
	if c.state != ContextOpen {
		panic(fmt.Sprintf("attempted to record into a %s context", c.state))
	}
}

func (c *Context) cache(heapType driver.DescriptorHeapType) *descriptor.DynamicCache {
	cache := c.caches[heapType]
	if cache == nil {
		panic(fmt.Sprintf("%s contexts do not bind %s descriptors", c.queueType, heapType))
	}
	return cache
}

// close flushes the remaining barriers and ends recording
func (c *Context) close() error {
	c.assertOpen()

	c.tracker.FlushResourceBarriers(c.stream)
	err := c.stream.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to close a %s command stream", c.queueType)
	}

	c.state = ContextClosed
	return nil
}

// reset prepares a context whose work has completed for reuse
func (c *Context) reset() error {
	if c.state != ContextCompleted {
		panic(fmt.Sprintf("attempted to reuse a %s context", c.state))
	}

	err := c.allocator.Reset()
	if err != nil {
		return errors.Wrapf(err, "failed to reset a %s command allocator", c.queueType)
	}
	err = c.stream.Reset(c.allocator)
	if err != nil {
		return errors.Wrapf(err, "failed to reset a %s command stream", c.queueType)
	}

	c.tracker.Reset()
	c.uploads.Reset()
	for _, cache := range c.caches {
		if cache != nil {
			cache.Reset()
		}
	}

	c.heaps = [driver.NumDescriptorHeapTypes]driver.DescriptorHeap{}
	c.graphicsLayout = nil
	c.computeLayout = nil
	c.fenceValue = 0
	c.state = ContextOpen

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Context::reset",
		slog.String("Queue", c.queueType.String()))
	return nil
}

// TransitionBarrier requests that a subresource of resource be in afterState before the next
// dependent command. With flush set, every queued barrier is recorded immediately.
func (c *Context) TransitionBarrier(resource driver.Resource, afterState driver.ResourceState, subresource uint32, flush bool) {
	c.assertOpen()

	c.tracker.TransitionResource(resource, afterState, subresource)
	if flush {
		c.FlushResourceBarriers()
	}
}

// UAVBarrier orders unordered access to resource. A nil resource orders all unordered access.
func (c *Context) UAVBarrier(resource driver.Resource, flush bool) {
	c.assertOpen()

	c.tracker.UAVBarrier(resource)
	if flush {
		c.FlushResourceBarriers()
	}
}

func (c *Context) AliasingBarrier(before, after driver.Resource, flush bool) {
	c.assertOpen()

	c.tracker.AliasBarrier(before, after)
	if flush {
		c.FlushResourceBarriers()
	}
}

func (c *Context) FlushResourceBarriers() {
	c.assertOpen()

	c.tracker.FlushResourceBarriers(c.stream)
}

func (c *Context) CopyResource(dst, src driver.Resource) {
	c.TransitionBarrier(dst, driver.StateCopyDest, driver.AllSubresources, false)
	c.TransitionBarrier(src, driver.StateCopySource, driver.AllSubresources, true)

	c.stream.CopyResource(dst, src)
}

func (c *Context) CopyBufferRegion(dst driver.Buffer, dstOffset int, src driver.Buffer, srcOffset int, size int) error {
	err := memutils.CheckRange(dstOffset, size, dst.Size())
	if err != nil {
		return errors.Wrapf(err, "copy destination %s", dst.Name())
	}
	err = memutils.CheckRange(srcOffset, size, src.Size())
	if err != nil {
		return errors.Wrapf(err, "copy source %s", src.Name())
	}

	c.TransitionBarrier(dst, driver.StateCopyDest, driver.AllSubresources, false)
	c.TransitionBarrier(src, driver.StateCopySource, driver.AllSubresources, true)

	c.stream.CopyBufferRegion(dst, dstOffset, src, srcOffset, size)
	return nil
}

// CopyBuffer writes data to the start of dst through upload memory. Data larger than an upload page
// is copied in page-sized chunks.
func (c *Context) CopyBuffer(dst driver.Buffer, data []byte) error {
	if len(data) > dst.Size() {
		return errors.Errorf("cannot copy %d bytes into %s, which holds %d", len(data), dst.Name(), dst.Size())
	}

	c.TransitionBarrier(dst, driver.StateCopyDest, driver.AllSubresources, true)

	chunkSize := c.device.uploads.PageSize() - memutils.DebugMargin
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}

		allocation, err := c.uploads.Allocate(end-offset, 1)
		if err != nil {
			return err
		}
		copy(allocation.Data, data[offset:end])

		c.stream.CopyBufferRegion(dst, offset, allocation.Buffer, allocation.Offset, end-offset)
	}

	return nil
}

// SetDescriptorHeap binds heap as the shader-visible heap of its category. Both categories are
// rebound whenever either changes.
func (c *Context) SetDescriptorHeap(heapType driver.DescriptorHeapType, heap driver.DescriptorHeap) {
	c.assertOpen()

	if c.heaps[heapType] == heap {
		return
	}
	c.heaps[heapType] = heap

	heaps := make([]driver.DescriptorHeap, 0, len(dynamicHeapTypes))
	for _, bound := range c.heaps {
		if bound != nil {
			heaps = append(heaps, bound)
		}
	}
	c.stream.SetDescriptorHeaps(heaps)
}

func (c *Context) parseBindingLayout(layout *driver.BindingLayout) {
	for _, cache := range c.caches {
		if cache != nil {
			cache.ParseBindingLayout(layout)
		}
	}
}

func (c *Context) SetGraphicsBindingLayout(layout *driver.BindingLayout) error {
	c.assertOpen()
	if c.queueType != driver.QueueDirect {
		return errors.Errorf("graphics binding layouts cannot be set on a %s context", c.queueType)
	}
	if c.graphicsLayout == layout {
		return nil
	}

	err := layout.Validate()
	if err != nil {
		return err
	}

	c.graphicsLayout = layout
	c.parseBindingLayout(layout)
	c.stream.SetGraphicsBindingLayout(layout)
	return nil
}

func (c *Context) SetComputeBindingLayout(layout *driver.BindingLayout) error {
	c.assertOpen()
	if c.queueType == driver.QueueCopy {
		return errors.New("compute binding layouts cannot be set on a Copy context")
	}
	if c.computeLayout == layout {
		return nil
	}

	err := layout.Validate()
	if err != nil {
		return err
	}

	c.computeLayout = layout
	c.parseBindingLayout(layout)
	c.stream.SetComputeBindingLayout(layout)
	return nil
}

func (c *Context) shaderResourceState() driver.ResourceState {
	if c.queueType == driver.QueueCompute {
		return driver.StateNonPixelShaderResource
	}
	return driver.StateShaderResource
}

// SetShaderResourceView transitions the view's resource to a shader-readable state and stages the
// view at offset within descriptor table param
func (c *Context) SetShaderResourceView(param int, offset int, view *View) {
	c.assertOpen()
	if view.desc.Type != driver.ViewShaderResource {
		panic(fmt.Sprintf("a %s view was bound as a shader resource", view.desc.Type))
	}

	c.tracker.TransitionResource(view.Resource(), c.shaderResourceState(), view.Subresource())
	c.cache(driver.DescriptorHeapCBVSRVUAV).Stage(param, offset, 1, view.Handle())
}

// SetUnorderedAccessView transitions the view's subresource to unordered access and stages the
// view at offset within descriptor table param
func (c *Context) SetUnorderedAccessView(param int, offset int, view *View) {
	c.assertOpen()
	if view.desc.Type != driver.ViewUnorderedAccess {
		panic(fmt.Sprintf("a %s view was bound for unordered access", view.desc.Type))
	}

	c.tracker.TransitionResource(view.Resource(), driver.StateUnorderedAccess, view.Subresource())
	c.cache(driver.DescriptorHeapCBVSRVUAV).Stage(param, offset, 1, view.Handle())
}

// SetConstantBufferView transitions the view's buffer for constant reads and stages the view at
// offset within descriptor table param
func (c *Context) SetConstantBufferView(param int, offset int, view *View) {
	c.assertOpen()
	if view.desc.Type != driver.ViewConstantBuffer {
		panic(fmt.Sprintf("a %s view was bound as a constant buffer", view.desc.Type))
	}

	c.tracker.TransitionResource(view.Resource(), driver.StateVertexAndConstantBuffer, driver.AllSubresources)
	c.cache(driver.DescriptorHeapCBVSRVUAV).Stage(param, offset, 1, view.Handle())
}

// SetSampler stages a sampler at offset within sampler table param
func (c *Context) SetSampler(param int, offset int, sampler *View) {
	c.assertOpen()
	c.cache(driver.DescriptorHeapSampler).Stage(param, offset, 1, sampler.Handle())
}

// StageDescriptors stages count consecutive descriptors of an allocation at offset within
// descriptor table param. The caller is responsible for the state of the resources they view.
func (c *Context) StageDescriptors(heapType driver.DescriptorHeapType, param int, offset int, allocation descriptor.Allocation, count int) {
	c.assertOpen()
	c.cache(heapType).Stage(param, offset, count, allocation.Handle(0))
}

func (c *Context) uploadConstants(data []byte) (driver.GPUAddress, error) {
	allocation, err := c.uploads.Allocate(len(data), ConstantBufferAlignment)
	if err != nil {
		return 0, err
	}
	copy(allocation.Data, data)
	return allocation.Address, nil
}

// SetGraphicsDynamicConstantBuffer writes data to upload memory and binds it as the root constant
// buffer param of the graphics binding layout
func (c *Context) SetGraphicsDynamicConstantBuffer(param int, data []byte) error {
	c.assertOpen()

	address, err := c.uploadConstants(data)
	if err != nil {
		return err
	}
	c.stream.SetGraphicsConstantBufferView(param, address)
	return nil
}

// SetComputeDynamicConstantBuffer writes data to upload memory and binds it as the root constant
// buffer param of the compute binding layout
func (c *Context) SetComputeDynamicConstantBuffer(param int, data []byte) error {
	c.assertOpen()

	address, err := c.uploadConstants(data)
	if err != nil {
		return err
	}
	c.stream.SetComputeConstantBufferView(param, address)
	return nil
}

// SetDynamicVertexBuffer writes vertex data to upload memory and binds it to slot
func (c *Context) SetDynamicVertexBuffer(slot int, data []byte, stride int) error {
	c.assertOpen()

	allocation, err := c.uploads.Allocate(len(data), uint(alignmentFor(stride)))
	if err != nil {
		return err
	}
	copy(allocation.Data, data)

	c.stream.SetVertexBuffers(slot, []driver.VertexBufferView{{
		Location: allocation.Address,
		Size:     len(data),
		Stride:   stride,
	}})
	return nil
}

// SetDynamicIndexBuffer writes index data to upload memory and binds it
func (c *Context) SetDynamicIndexBuffer(data []byte, format driver.IndexFormat) error {
	c.assertOpen()

	alignment := uint(2)
	if format == driver.IndexFormatUint32 {
		alignment = 4
	}

	allocation, err := c.uploads.Allocate(len(data), alignment)
	if err != nil {
		return err
	}
	copy(allocation.Data, data)

	c.stream.SetIndexBuffer(driver.IndexBufferView{
		Location: allocation.Address,
		Size:     len(data),
		Format:   format,
	})
	return nil
}

// alignmentFor returns the largest power of two that divides stride, capped at 16
func alignmentFor(stride int) int {
	alignment := 1
	for alignment < 16 && stride > 0 && stride%(alignment*2) == 0 {
		alignment *= 2
	}
	return alignment
}

func (c *Context) SetVertexBuffer(slot int, buffer driver.Buffer, stride int) {
	c.TransitionBarrier(buffer, driver.StateVertexAndConstantBuffer, driver.AllSubresources, false)

	c.stream.SetVertexBuffers(slot, []driver.VertexBufferView{{
		Location: buffer.GPUAddress(),
		Size:     buffer.Size(),
		Stride:   stride,
	}})
}

func (c *Context) SetIndexBuffer(buffer driver.Buffer, format driver.IndexFormat) {
	c.TransitionBarrier(buffer, driver.StateIndexBuffer, driver.AllSubresources, false)

	c.stream.SetIndexBuffer(driver.IndexBufferView{
		Location: buffer.GPUAddress(),
		Size:     buffer.Size(),
		Format:   format,
	})
}

func (c *Context) commitForDraw() error {
	c.FlushResourceBarriers()

	for _, cache := range c.caches {
		if cache == nil {
			continue
		}
		_, err := cache.CommitForDraw(c)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) commitForDispatch() error {
	c.FlushResourceBarriers()

	for _, cache := range c.caches {
		if cache == nil {
			continue
		}
		_, err := cache.CommitForDispatch(c)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) Draw(vertexCount, instanceCount, startVertex, startInstance int) error {
	c.assertOpen()

	err := c.commitForDraw()
	if err != nil {
		return err
	}
	c.stream.DrawInstanced(vertexCount, instanceCount, startVertex, startInstance)
	return nil
}

func (c *Context) DrawIndexed(indexCount, instanceCount, startIndex, baseVertex, startInstance int) error {
	c.assertOpen()

	err := c.commitForDraw()
	if err != nil {
		return err
	}
	c.stream.DrawIndexedInstanced(indexCount, instanceCount, startIndex, baseVertex, startInstance)
	return nil
}

func (c *Context) Dispatch(groupsX, groupsY, groupsZ int) error {
	c.assertOpen()

	err := c.commitForDispatch()
	if err != nil {
		return err
	}
	c.stream.Dispatch(groupsX, groupsY, groupsZ)
	return nil
}

// ClearRenderTarget transitions the view's subresource to a render target and clears it
func (c *Context) ClearRenderTarget(view *View, color [4]float32) {
	if view.desc.Type != driver.ViewRenderTarget {
		panic(fmt.Sprintf("a %s view was cleared as a render target", view.desc.Type))
	}
	c.TransitionBarrier(view.Resource(), driver.StateRenderTarget, view.Subresource(), true)

	c.stream.ClearRenderTargetView(view.Handle(), color)
}

// ClearUnorderedAccess transitions the view's subresource to unordered access and clears it. The
// view is copied into the current shader-visible window first.
func (c *Context) ClearUnorderedAccess(view *View, values [4]uint32) error {
	if view.desc.Type != driver.ViewUnorderedAccess {
		panic(fmt.Sprintf("a %s view was cleared for unordered access", view.desc.Type))
	}
	c.TransitionBarrier(view.Resource(), driver.StateUnorderedAccess, view.Subresource(), true)

	gpu, err := c.cache(driver.DescriptorHeapCBVSRVUAV).CopyDescriptor(c, view.Handle())
	if err != nil {
		return err
	}
	c.stream.ClearUnorderedAccessView(gpu, view.Handle(), view.Resource(), values)
	return nil
}
