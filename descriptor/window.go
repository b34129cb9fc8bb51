package descriptor

import (
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/memutils"
	"github.com/vkngwrapper/conductor/memutils/metadata"
)

// window is a shader-visible descriptor heap that tables are bump-allocated from
type window struct {
	heap      driver.DescriptorHeap
	increment int
	metadata  *metadata.LinearBlockMetadata
}

func newWindow(heap driver.DescriptorHeap, increment int) *window {
	w := &window{
		heap:      heap,
		increment: increment,
		metadata:  metadata.NewLinearBlockMetadata(),
	}
	w.metadata.Init(heap.NumDescriptors())
	return w
}

// fits returns true if count tables holding a total of size descriptors can all be allocated
func (w *window) fits(tables, size int) bool {
	return size+tables*memutils.DebugMargin <= w.metadata.SumFreeSize()
}

func (w *window) allocate(count int) (driver.CPUDescriptorHandle, driver.GPUDescriptorHandle, bool) {
	success, request, err := w.metadata.CreateAllocationRequest(count, 1, 0)
	if err != nil || !success {
		return 0, 0, false
	}

	err = w.metadata.Alloc(request, nil)
	if err != nil {
		return 0, 0, false
	}

	offset := request.Item.Offset
	return w.heap.CPUStart().Offset(offset, w.increment), w.heap.GPUStart().Offset(offset, w.increment), true
}

func (w *window) reset() {
	w.metadata.Clear()
}
