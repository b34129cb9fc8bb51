package soft

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/driver"
)

type Op uint32

const (
	OpBarrier Op = iota
	OpCopyResource
	OpCopyBufferRegion
	OpSetDescriptorHeaps
	OpSetGraphicsBindingLayout
	OpSetComputeBindingLayout
	OpSetGraphicsDescriptorTable
	OpSetComputeDescriptorTable
	OpSetGraphicsConstantBufferView
	OpSetComputeConstantBufferView
	OpSetVertexBuffers
	OpSetIndexBuffer
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpClearRenderTarget
	OpClearUnorderedAccess
)

var opMapping = map[Op]string{
	OpBarrier:                       "Barrier",
	OpCopyResource:                  "CopyResource",
	OpCopyBufferRegion:              "CopyBufferRegion",
	OpSetDescriptorHeaps:            "SetDescriptorHeaps",
	OpSetGraphicsBindingLayout:      "SetGraphicsBindingLayout",
	OpSetComputeBindingLayout:       "SetComputeBindingLayout",
	OpSetGraphicsDescriptorTable:    "SetGraphicsDescriptorTable",
	OpSetComputeDescriptorTable:     "SetComputeDescriptorTable",
	OpSetGraphicsConstantBufferView: "SetGraphicsConstantBufferView",
	OpSetComputeConstantBufferView:  "SetComputeConstantBufferView",
	OpSetVertexBuffers:              "SetVertexBuffers",
	OpSetIndexBuffer:                "SetIndexBuffer",
	OpDraw:                          "Draw",
	OpDrawIndexed:                   "DrawIndexed",
	OpDispatch:                      "Dispatch",
	OpClearRenderTarget:             "ClearRenderTarget",
	OpClearUnorderedAccess:          "ClearUnorderedAccess",
}

func (o Op) String() string {
	return opMapping[o]
}

// Command is a single recorded command. Only the fields relevant to Op are populated.
type Command struct {
	Op Op

	Barriers []driver.ResourceBarrier

	Dst       driver.Resource
	Src       driver.Resource
	DstOffset int
	SrcOffset int
	Size      int

	Heaps         []driver.DescriptorHeap
	Layout        *driver.BindingLayout
	Param         int
	GPUHandle     driver.GPUDescriptorHandle
	CPUHandle     driver.CPUDescriptorHandle
	Address       driver.GPUAddress
	VertexBuffers []driver.VertexBufferView
	IndexBuffer   driver.IndexBufferView

	// Args holds draw and dispatch arguments in declaration order
	Args   [5]int
	Color  [4]float32
	Values [4]uint32
}

// CommandAllocator is a driver.CommandAllocator that counts the streams recorded into it that
// are still executing, and refuses to reset while any are.
type CommandAllocator struct {
	queueType driver.QueueType
	inFlight  atomic.Int32
}

var _ driver.CommandAllocator = &CommandAllocator{}

func (a *CommandAllocator) QueueType() driver.QueueType { return a.queueType }

func (a *CommandAllocator) Reset() error {
	if count := a.inFlight.Load(); count > 0 {
		return errors.Errorf("command allocator reset while %d command streams recorded into it are executing", count)
	}
	return nil
}

// CommandStream is a driver.CommandStream that records commands into a slice for a soft queue to execute
type CommandStream struct {
	id        uint64
	queueType driver.QueueType
	allocator *CommandAllocator
	closed    bool
	inFlight  atomic.Int32
	commands  []Command
}

var _ driver.CommandStream = &CommandStream{}

func (s *CommandStream) QueueType() driver.QueueType { return s.queueType }

// Commands returns the commands recorded since the stream was last reset
func (s *CommandStream) Commands() []Command { return s.commands }

func (s *CommandStream) Reset(allocator driver.CommandAllocator) error {
	softAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return errors.Errorf("command stream reset with a foreign allocator %T", allocator)
	}
	if softAllocator.queueType != s.queueType {
		return errors.Errorf("command stream of type %s reset with an allocator of type %s", s.queueType, softAllocator.queueType)
	}
	if !s.closed {
		return errors.New("command stream reset while it was still open")
	}
	if s.inFlight.Load() > 0 {
		return errors.New("command stream reset while it was executing")
	}

	s.allocator = softAllocator
	s.closed = false
	s.commands = s.commands[:0]
	return nil
}

func (s *CommandStream) Close() error {
	if s.closed {
		return errors.New("command stream closed twice")
	}
	s.closed = true
	return nil
}

func (s *CommandStream) record(command Command) {
	if s.closed {
		panic(fmt.Sprintf("attempted to record %s into a closed command stream", command.Op))
	}
	s.commands = append(s.commands, command)
}

func (s *CommandStream) ResourceBarrier(barriers []driver.ResourceBarrier) {
	batch := make([]driver.ResourceBarrier, len(barriers))
	copy(batch, barriers)
	s.record(Command{Op: OpBarrier, Barriers: batch})
}

func (s *CommandStream) CopyResource(dst, src driver.Resource) {
	s.record(Command{Op: OpCopyResource, Dst: dst, Src: src})
}

func (s *CommandStream) CopyBufferRegion(dst driver.Buffer, dstOffset int, src driver.Buffer, srcOffset int, size int) {
	s.record(Command{Op: OpCopyBufferRegion, Dst: dst, DstOffset: dstOffset, Src: src, SrcOffset: srcOffset, Size: size})
}

func (s *CommandStream) SetDescriptorHeaps(heaps []driver.DescriptorHeap) {
	bound := make([]driver.DescriptorHeap, len(heaps))
	copy(bound, heaps)
	s.record(Command{Op: OpSetDescriptorHeaps, Heaps: bound})
}

func (s *CommandStream) SetGraphicsBindingLayout(layout *driver.BindingLayout) {
	s.record(Command{Op: OpSetGraphicsBindingLayout, Layout: layout})
}

func (s *CommandStream) SetComputeBindingLayout(layout *driver.BindingLayout) {
	s.record(Command{Op: OpSetComputeBindingLayout, Layout: layout})
}

func (s *CommandStream) SetGraphicsDescriptorTable(param int, handle driver.GPUDescriptorHandle) {
	s.record(Command{Op: OpSetGraphicsDescriptorTable, Param: param, GPUHandle: handle})
}

func (s *CommandStream) SetComputeDescriptorTable(param int, handle driver.GPUDescriptorHandle) {
	s.record(Command{Op: OpSetComputeDescriptorTable, Param: param, GPUHandle: handle})
}

func (s *CommandStream) SetGraphicsConstantBufferView(param int, address driver.GPUAddress) {
	s.record(Command{Op: OpSetGraphicsConstantBufferView, Param: param, Address: address})
}

func (s *CommandStream) SetComputeConstantBufferView(param int, address driver.GPUAddress) {
	s.record(Command{Op: OpSetComputeConstantBufferView, Param: param, Address: address})
}

func (s *CommandStream) SetVertexBuffers(startSlot int, views []driver.VertexBufferView) {
	bound := make([]driver.VertexBufferView, len(views))
	copy(bound, views)
	s.record(Command{Op: OpSetVertexBuffers, Param: startSlot, VertexBuffers: bound})
}

func (s *CommandStream) SetIndexBuffer(view driver.IndexBufferView) {
	s.record(Command{Op: OpSetIndexBuffer, IndexBuffer: view})
}

func (s *CommandStream) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance int) {
	s.record(Command{Op: OpDraw, Args: [5]int{vertexCount, instanceCount, startVertex, startInstance}})
}

func (s *CommandStream) DrawIndexedInstanced(indexCount, instanceCount, startIndex, baseVertex, startInstance int) {
	s.record(Command{Op: OpDrawIndexed, Args: [5]int{indexCount, instanceCount, startIndex, baseVertex, startInstance}})
}

func (s *CommandStream) Dispatch(groupsX, groupsY, groupsZ int) {
	s.record(Command{Op: OpDispatch, Args: [5]int{groupsX, groupsY, groupsZ}})
}

func (s *CommandStream) ClearRenderTargetView(rtv driver.CPUDescriptorHandle, color [4]float32) {
	s.record(Command{Op: OpClearRenderTarget, CPUHandle: rtv, Color: color})
}

func (s *CommandStream) ClearUnorderedAccessView(gpu driver.GPUDescriptorHandle, cpu driver.CPUDescriptorHandle, resource driver.Resource, values [4]uint32) {
	s.record(Command{Op: OpClearUnorderedAccess, GPUHandle: gpu, CPUHandle: cpu, Dst: resource, Values: values})
}
