package soft

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/driver"
)

const (
	descriptorIncrementSize = 32
	gpuHandleBit            = uint64(1) << 63
	heapIDShift             = 32
)

type descriptorRecord struct {
	written bool
	desc    driver.ViewDesc
}

// DescriptorHeap is a driver.DescriptorHeap. Handles encode the heap id in their upper bits and the
// byte offset of the descriptor in their lower bits, so they are never null.
type DescriptorHeap struct {
	id            uint32
	heapType      driver.DescriptorHeapType
	shaderVisible bool
	records       []descriptorRecord
}

var _ driver.DescriptorHeap = &DescriptorHeap{}

func (h *DescriptorHeap) Type() driver.DescriptorHeapType { return h.heapType }
func (h *DescriptorHeap) NumDescriptors() int             { return len(h.records) }
func (h *DescriptorHeap) ShaderVisible() bool             { return h.shaderVisible }

func (h *DescriptorHeap) CPUStart() driver.CPUDescriptorHandle {
	return driver.CPUDescriptorHandle(uint64(h.id) << heapIDShift)
}

func (h *DescriptorHeap) GPUStart() driver.GPUDescriptorHandle {
	if !h.shaderVisible {
		return 0
	}
	return driver.GPUDescriptorHandle(gpuHandleBit | uint64(h.id)<<heapIDShift)
}

func splitHandle(handle uint64) (uint32, int) {
	handle &^= gpuHandleBit
	return uint32(handle >> heapIDShift), int(handle&(1<<heapIDShift-1)) / descriptorIncrementSize
}

func (d *Device) heap(id uint32) *DescriptorHeap {
	d.heapsLock.RLock()
	defer d.heapsLock.RUnlock()

	heap, ok := d.heaps.Get(id)
	if !ok {
		panic(fmt.Sprintf("descriptor handle refers to unknown heap %d", id))
	}
	return heap
}

func (d *Device) cpuRecord(handle driver.CPUDescriptorHandle) (*DescriptorHeap, int) {
	if handle.IsNull() {
		panic("attempted to use a null cpu descriptor handle")
	}
	heapID, index := splitHandle(uint64(handle))
	heap := d.heap(heapID)
	if index >= len(heap.records) {
		panic(fmt.Sprintf("cpu descriptor handle %#x is past the end of heap %d of size %d", uint64(handle), heapID, len(heap.records)))
	}
	return heap, index
}

func (d *Device) gpuRecord(handle driver.GPUDescriptorHandle) (*DescriptorHeap, int, bool) {
	if uint64(handle)&gpuHandleBit == 0 {
		return nil, 0, false
	}
	heapID, index := splitHandle(uint64(handle))

	d.heapsLock.RLock()
	heap, ok := d.heaps.Get(heapID)
	d.heapsLock.RUnlock()
	if !ok || !heap.shaderVisible {
		return nil, 0, false
	}
	return heap, index, true
}

func (d *Device) CreateDescriptorHeap(heapType driver.DescriptorHeapType, numDescriptors int, shaderVisible bool) (driver.DescriptorHeap, error) {
	if numDescriptors < 1 {
		return nil, errors.Errorf("invalid descriptor count %d", numDescriptors)
	}
	if shaderVisible && !heapType.ShaderVisible() {
		return nil, errors.Errorf("%s descriptor heaps cannot be shader visible", heapType)
	}

	heap := &DescriptorHeap{
		id:            d.nextHeapID.Add(1),
		heapType:      heapType,
		shaderVisible: shaderVisible,
		records:       make([]descriptorRecord, numDescriptors),
	}

	d.heapsLock.Lock()
	d.heaps.Put(heap.id, heap)
	d.heapsLock.Unlock()

	return heap, nil
}

func (d *Device) DescriptorHandleIncrementSize(heapType driver.DescriptorHeapType) int {
	return descriptorIncrementSize
}

func (d *Device) CreateView(dst driver.CPUDescriptorHandle, desc driver.ViewDesc) error {
	heap, index := d.cpuRecord(dst)
	if heap.heapType != desc.Type.HeapType() {
		return errors.Errorf("cannot write a %s descriptor into a %s heap", desc.Type, heap.heapType)
	}

	heap.records[index] = descriptorRecord{written: true, desc: desc}
	return nil
}

func (d *Device) CopyDescriptors(dst driver.CPUDescriptorHandle, src []driver.CPUDescriptorHandle, heapType driver.DescriptorHeapType) {
	for i, srcHandle := range src {
		d.copyDescriptor(dst.Offset(i, descriptorIncrementSize), srcHandle, heapType)
	}
}

func (d *Device) CopyDescriptorsSimple(count int, dst, src driver.CPUDescriptorHandle, heapType driver.DescriptorHeapType) {
	for i := 0; i < count; i++ {
		d.copyDescriptor(dst.Offset(i, descriptorIncrementSize), src.Offset(i, descriptorIncrementSize), heapType)
	}
}

func (d *Device) copyDescriptor(dst, src driver.CPUDescriptorHandle, heapType driver.DescriptorHeapType) {
	dstHeap, dstIndex := d.cpuRecord(dst)
	srcHeap, srcIndex := d.cpuRecord(src)
	if dstHeap.heapType != heapType || srcHeap.heapType != heapType {
		panic(fmt.Sprintf("copying %s descriptors between a %s heap and a %s heap", heapType, srcHeap.heapType, dstHeap.heapType))
	}

	dstHeap.records[dstIndex] = srcHeap.records[srcIndex]
}

// Descriptor returns the descriptor written at a cpu handle. The second return value is false if
// nothing was ever written there.
func (d *Device) Descriptor(handle driver.CPUDescriptorHandle) (driver.ViewDesc, bool) {
	heap, index := d.cpuRecord(handle)
	record := heap.records[index]
	return record.desc, record.written
}
