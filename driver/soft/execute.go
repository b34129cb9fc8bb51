package soft

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/driver"
)

type statistics struct {
	streams     atomic.Int64
	barriers    atomic.Int64
	transitions atomic.Int64
	copies      atomic.Int64
	draws       atomic.Int64
	dispatches  atomic.Int64
}

// Statistics counts the work a soft device has executed
type Statistics struct {
	StreamsExecuted int
	BarrierBatches  int
	Transitions     int
	Copies          int
	Draws           int
	Dispatches      int
}

func (s Statistics) PrintJson(obj *jwriter.ObjectState) {
	obj.Name("StreamsExecuted").Int(s.StreamsExecuted)
	obj.Name("BarrierBatches").Int(s.BarrierBatches)
	obj.Name("Transitions").Int(s.Transitions)
	obj.Name("Copies").Int(s.Copies)
	obj.Name("Draws").Int(s.Draws)
	obj.Name("Dispatches").Int(s.Dispatches)
}

func (d *Device) Stats() Statistics {
	return Statistics{
		StreamsExecuted: int(d.stats.streams.Load()),
		BarrierBatches:  int(d.stats.barriers.Load()),
		Transitions:     int(d.stats.transitions.Load()),
		Copies:          int(d.stats.copies.Load()),
		Draws:           int(d.stats.draws.Load()),
		Dispatches:      int(d.stats.dispatches.Load()),
	}
}

type pipelineBindings struct {
	layout *driver.BindingLayout
	tables [driver.MaxDescriptorTables]driver.GPUDescriptorHandle
}

type executionState struct {
	heaps    []driver.DescriptorHeap
	graphics pipelineBindings
	compute  pipelineBindings
}

func (d *Device) execute(queueType driver.QueueType, stream *CommandStream) {
	d.stats.streams.Add(1)

	var state executionState
	for i := range stream.commands {
		command := &stream.commands[i]
		d.executeCommand(queueType, &state, command)

		if d.options.KeepHistory {
			d.historyLock.Lock()
			d.history = append(d.history, ExecutedCommand{Queue: queueType, Stream: stream.id, Command: *command})
			d.historyLock.Unlock()
		}
	}
}

func (d *Device) executeCommand(queueType driver.QueueType, state *executionState, command *Command) {
	switch command.Op {
	case OpBarrier:
		d.stats.barriers.Add(1)
		for _, barrier := range command.Barriers {
			if barrier.Type == driver.BarrierTransition {
				d.stats.transitions.Add(1)
				d.transition(barrier)
			}
		}
	case OpCopyResource:
		d.stats.copies.Add(1)
		d.copyResource(command.Dst, command.Src)
	case OpCopyBufferRegion:
		d.stats.copies.Add(1)
		d.copyBufferRegion(command)
	case OpSetDescriptorHeaps:
		state.heaps = command.Heaps
	case OpSetGraphicsBindingLayout:
		state.graphics = pipelineBindings{layout: command.Layout}
	case OpSetComputeBindingLayout:
		state.compute = pipelineBindings{layout: command.Layout}
	case OpSetGraphicsDescriptorTable:
		d.bindTable(&state.graphics, command)
	case OpSetComputeDescriptorTable:
		d.bindTable(&state.compute, command)
	case OpDraw, OpDrawIndexed:
		if queueType != driver.QueueDirect {
			d.fail(errors.Errorf("%s recorded into a %s command stream", command.Op, queueType))
		}
		d.stats.draws.Add(1)
		d.validateTables(command.Op, state.heaps, &state.graphics)
	case OpDispatch:
		if queueType == driver.QueueCopy {
			d.fail(errors.Errorf("%s recorded into a %s command stream", command.Op, queueType))
		}
		d.stats.dispatches.Add(1)
		d.validateTables(command.Op, state.heaps, &state.compute)
	case OpClearRenderTarget:
		heap, index := d.cpuRecord(command.CPUHandle)
		record := heap.records[index]
		if !record.written || record.desc.Type != driver.ViewRenderTarget {
			d.fail(errors.New("render target clear through a descriptor that is not a render target view"))
			return
		}
		d.requireState(command.Op, record.desc.Resource, uint32(record.desc.MipSlice), driver.StateRenderTarget, true)
	case OpClearUnorderedAccess:
		d.requireState(command.Op, command.Dst, driver.AllSubresources, driver.StateUnorderedAccess, true)
	}
}

func (d *Device) transition(barrier driver.ResourceBarrier) {
	if barrier.StateBefore == barrier.StateAfter {
		d.fail(errors.Errorf("redundant transition of %s to %s", barrier.Resource.Name(), barrier.StateAfter))
		return
	}

	var mismatches []error

	d.stateLock.Lock()
	states, ok := d.states.Get(barrier.Resource.ID())
	if ok {
		apply := func(sub int) {
			if states[sub] != barrier.StateBefore {
				mismatches = append(mismatches, errors.Errorf("transition of %s subresource %d claimed before-state %s but it was in %s",
					barrier.Resource.Name(), sub, barrier.StateBefore, states[sub]))
			}
			states[sub] = barrier.StateAfter
		}

		if barrier.Subresource == driver.AllSubresources {
			for sub := range states {
				apply(sub)
			}
		} else if int(barrier.Subresource) < len(states) {
			apply(int(barrier.Subresource))
		} else {
			mismatches = append(mismatches, errors.Errorf("transition of %s names subresource %d of %d", barrier.Resource.Name(), barrier.Subresource, len(states)))
		}
	}
	d.stateLock.Unlock()

	if !ok {
		d.fail(errors.Errorf("transition of unknown resource %s", barrier.Resource.Name()))
	}
	for _, err := range mismatches {
		d.fail(err)
	}
}

// requireState reports a validation error unless each addressed subresource is in the required
// state. With exact unset, a state containing any of the required bits is accepted.
func (d *Device) requireState(op Op, res driver.Resource, subresource uint32, required driver.ResourceState, exact bool) {
	if res == nil {
		return
	}

	d.stateLock.Lock()
	states, ok := d.states.Get(res.ID())
	var bad []int
	var badStates []driver.ResourceState
	if ok {
		for sub, current := range states {
			if subresource != driver.AllSubresources && uint32(sub) != subresource {
				continue
			}
			matches := current&required != 0
			if exact {
				matches = current == required
			}
			if !matches {
				bad = append(bad, sub)
				badStates = append(badStates, current)
			}
		}
	}
	d.stateLock.Unlock()

	if !ok {
		d.fail(errors.Errorf("%s accessed unknown resource %s", op, res.Name()))
		return
	}
	for i, sub := range bad {
		d.fail(errors.Errorf("%s accessed %s subresource %d in state %s, requires %s", op, res.Name(), sub, badStates[i], required))
	}
}

func (d *Device) copyResource(dst, src driver.Resource) {
	d.requireState(OpCopyResource, dst, driver.AllSubresources, driver.StateCopyDest, false)
	d.requireState(OpCopyResource, src, driver.AllSubresources, driver.StateCopySource, false)

	dstBuffer, dstIsBuffer := dst.(*Buffer)
	srcBuffer, srcIsBuffer := src.(*Buffer)
	if dstIsBuffer != srcIsBuffer {
		d.fail(errors.Errorf("copy between %s and %s, which are not both buffers or both textures", dst.Name(), src.Name()))
		return
	}
	if !dstIsBuffer {
		return
	}
	if len(dstBuffer.data) != len(srcBuffer.data) {
		d.fail(errors.Errorf("copy from %s (%d bytes) to %s (%d bytes)", src.Name(), len(srcBuffer.data), dst.Name(), len(dstBuffer.data)))
		return
	}

	copy(dstBuffer.data, srcBuffer.data)
}

func (d *Device) copyBufferRegion(command *Command) {
	d.requireState(OpCopyBufferRegion, command.Dst, 0, driver.StateCopyDest, false)
	d.requireState(OpCopyBufferRegion, command.Src, 0, driver.StateCopySource, false)

	dst, dstOk := command.Dst.(*Buffer)
	src, srcOk := command.Src.(*Buffer)
	if !dstOk || !srcOk {
		d.fail(errors.New("buffer region copy between resources that are not soft buffers"))
		return
	}
	if command.Size < 0 || command.SrcOffset < 0 || command.DstOffset < 0 ||
		command.SrcOffset+command.Size > len(src.data) || command.DstOffset+command.Size > len(dst.data) {
		d.fail(errors.Errorf("buffer region copy of %d bytes from %s+%d to %s+%d is out of bounds",
			command.Size, src.Name(), command.SrcOffset, dst.Name(), command.DstOffset))
		return
	}

	copy(dst.data[command.DstOffset:command.DstOffset+command.Size], src.data[command.SrcOffset:command.SrcOffset+command.Size])
}

func (d *Device) bindTable(bindings *pipelineBindings, command *Command) {
	if command.Param < 0 || command.Param >= driver.MaxDescriptorTables {
		d.fail(errors.Errorf("%s names parameter %d", command.Op, command.Param))
		return
	}
	bindings.tables[command.Param] = command.GPUHandle
}

func (d *Device) validateTables(op Op, heaps []driver.DescriptorHeap, bindings *pipelineBindings) {
	layout := bindings.layout
	if layout == nil {
		d.fail(errors.Errorf("%s executed without a binding layout", op))
		return
	}

	for param := range layout.Parameters {
		heapType, isTable := layout.TableHeapType(param)
		if !isTable {
			continue
		}

		heap, index, ok := d.gpuRecord(bindings.tables[param])
		if !ok {
			d.fail(errors.Errorf("%s executed with table %d of layout %s unbound", op, param, layout.Name))
			continue
		}
		if heap.heapType != heapType {
			d.fail(errors.Errorf("%s executed with %s table %d bound to a %s heap", op, heapType, param, heap.heapType))
			continue
		}

		heapBound := false
		for _, bound := range heaps {
			if bound == driver.DescriptorHeap(heap) {
				heapBound = true
				break
			}
		}
		if !heapBound {
			d.fail(errors.Errorf("%s executed with table %d in a heap that was not set on the command stream", op, param))
			continue
		}

		size := layout.TableSize(param)
		if index+size > len(heap.records) {
			d.fail(errors.Errorf("%s executed with table %d running past the end of its heap", op, param))
			continue
		}

		for i := 0; i < size; i++ {
			record := heap.records[index+i]
			if !record.written {
				d.fail(errors.Errorf("%s executed with uninitialized descriptor %d in table %d", op, i, param))
				continue
			}
			d.validateView(op, record.desc)
		}
	}
}

func (d *Device) validateView(op Op, desc driver.ViewDesc) {
	switch desc.Type {
	case driver.ViewShaderResource:
		d.requireState(op, desc.Resource, driver.AllSubresources, driver.StateShaderResource, false)
	case driver.ViewUnorderedAccess:
		d.requireState(op, desc.Resource, uint32(desc.MipSlice), driver.StateUnorderedAccess, true)
	case driver.ViewConstantBuffer:
		d.requireState(op, desc.Resource, 0, driver.StateVertexAndConstantBuffer, false)
	}
}
