package soft

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/driver"
)

type queueItem struct {
	streams    []*CommandStream
	allocators []*CommandAllocator

	fence *Fence
	value uint64
	wait  bool
}

// Queue is a driver.HardwareQueue. How submitted work is executed depends on the device's ExecutionMode.
type Queue struct {
	device    *Device
	queueType driver.QueueType

	mutex  sync.Mutex
	cond   *sync.Cond
	items  []queueItem
	closed bool
	done   chan struct{}
}

var _ driver.HardwareQueue = &Queue{}

func newQueue(device *Device, queueType driver.QueueType) *Queue {
	queue := &Queue{
		device:    device,
		queueType: queueType,
		done:      make(chan struct{}),
	}
	queue.cond = sync.NewCond(&queue.mutex)

	if device.options.Mode == ExecuteAsync {
		go queue.run()
	} else {
		close(queue.done)
	}

	return queue
}

func (q *Queue) Type() driver.QueueType { return q.queueType }

func (q *Queue) ExecuteCommandStreams(streams []driver.CommandStream) error {
	item := queueItem{
		streams:    make([]*CommandStream, 0, len(streams)),
		allocators: make([]*CommandAllocator, 0, len(streams)),
	}

	for _, stream := range streams {
		softStream, ok := stream.(*CommandStream)
		if !ok {
			return errors.Errorf("attempted to execute a foreign command stream %T", stream)
		}
		if !softStream.closed {
			return errors.New("attempted to execute a command stream that is still open")
		}
		if softStream.queueType != q.queueType {
			return errors.Errorf("attempted to execute a %s command stream on a %s queue", softStream.queueType, q.queueType)
		}
		item.streams = append(item.streams, softStream)
		item.allocators = append(item.allocators, softStream.allocator)
	}

	for i, stream := range item.streams {
		stream.inFlight.Add(1)
		item.allocators[i].inFlight.Add(1)
	}

	return q.enqueue(item)
}

func (q *Queue) Signal(fence driver.Fence, value uint64) error {
	softFence, ok := fence.(*Fence)
	if !ok {
		return errors.Errorf("attempted to signal a foreign fence %T", fence)
	}

	return q.enqueue(queueItem{fence: softFence, value: value})
}

func (q *Queue) Wait(fence driver.Fence, value uint64) error {
	softFence, ok := fence.(*Fence)
	if !ok {
		return errors.Errorf("attempted to wait on a foreign fence %T", fence)
	}

	return q.enqueue(queueItem{fence: softFence, value: value, wait: true})
}

func (q *Queue) enqueue(item queueItem) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return errors.Errorf("%s queue used after its device was closed", q.queueType)
	}

	if q.device.options.Mode == ExecuteImmediate {
		if item.wait && item.fence.CompletedValue() < item.value {
			return errors.Errorf("%s queue would wait forever for fence value %d", q.queueType, item.value)
		}
		q.process(item)
		return nil
	}

	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Pending returns the number of submitted items that have not executed yet
func (q *Queue) Pending() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.items)
}

// Step executes the oldest held item of a queue in ExecuteManual mode. It returns false if there
// was nothing to execute, or if the oldest item is a wait on a fence that has not been reached.
func (q *Queue) Step() bool {
	if q.device.options.Mode != ExecuteManual {
		return false
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.items) == 0 {
		return false
	}

	item := q.items[0]
	if item.wait && item.fence.CompletedValue() < item.value {
		return false
	}

	q.items = q.items[1:]
	if !item.wait {
		q.process(item)
	}
	return true
}

func (q *Queue) process(item queueItem) {
	if item.fence != nil {
		q.device.logger.LogAttrs(context.Background(), slog.LevelDebug, "Queue::Signal",
			slog.String("Queue", q.queueType.String()),
			slog.Uint64("Value", item.value))
		item.fence.Signal(item.value)
		return
	}

	for i, stream := range item.streams {
		q.device.execute(q.queueType, stream)
		stream.inFlight.Add(-1)
		item.allocators[i].inFlight.Add(-1)
	}
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mutex.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mutex.Unlock()
			return
		}
		item := q.items[0]
		q.mutex.Unlock()

		if item.wait {
			if !q.waitFence(item) {
				return
			}
		} else {
			if item.fence == nil && q.device.options.ExecutionLatency > 0 {
				time.Sleep(q.device.options.ExecutionLatency)
			}
			q.process(item)
		}

		q.mutex.Lock()
		q.items = q.items[1:]
		q.mutex.Unlock()
	}
}

func (q *Queue) waitFence(item queueItem) bool {
	for {
		reached, _ := item.fence.WaitFor(item.value, 5*time.Millisecond)
		if reached {
			return true
		}

		q.mutex.Lock()
		closed := q.closed
		q.mutex.Unlock()

		if closed {
			return false
		}
	}
}

func (q *Queue) close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()

	<-q.done
}
