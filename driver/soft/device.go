package soft

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/conductor/driver"
)

type ExecutionMode uint32

const (
	// ExecuteImmediate executes work on the calling goroutine as soon as it is submitted to a queue
	ExecuteImmediate ExecutionMode = iota
	// ExecuteManual holds submitted work until Queue.Step or Device.Drain is called
	ExecuteManual
	// ExecuteAsync executes each queue's work on its own goroutine
	ExecuteAsync
)

var executionModeMapping = map[ExecutionMode]string{
	ExecuteImmediate: "Immediate",
	ExecuteManual:    "Manual",
	ExecuteAsync:     "Async",
}

func (m ExecutionMode) String() string {
	return executionModeMapping[m]
}

type CreateOptions struct {
	Mode ExecutionMode
	// KeepHistory records every executed command for History and WriteCapture
	KeepHistory bool
	// ExecutionLatency delays every batch of command streams executed by an async queue
	ExecutionLatency time.Duration
}

// Device is a driver.Device that executes command streams on the CPU. It tracks the true state of
// every subresource as barriers execute and reports any command that accesses a resource in the
// wrong state, or any transition whose before-state does not match, through ValidationErrors.
type Device struct {
	logger  *slog.Logger
	options CreateOptions

	nextResourceID atomic.Uint64
	nextHeapID     atomic.Uint32
	nextStreamID   atomic.Uint64
	nextAddress    atomic.Uint64

	heapsLock sync.RWMutex
	heaps     *swiss.Map[uint32, *DescriptorHeap]

	stateLock sync.Mutex
	states    *swiss.Map[driver.ResourceID, []driver.ResourceState]

	validationLock   sync.Mutex
	validationErrors []error

	historyLock sync.Mutex
	history     []ExecutedCommand

	queuesLock sync.Mutex
	queues     []*Queue

	stats statistics
}

var _ driver.Device = &Device{}

func New(logger *slog.Logger, options CreateOptions) *Device {
	logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::New", slog.String("Mode", options.Mode.String()))

	device := &Device{
		logger:  logger,
		options: options,
		heaps:   swiss.NewMap[uint32, *DescriptorHeap](16),
		states:  swiss.NewMap[driver.ResourceID, []driver.ResourceState](64),
	}
	device.nextAddress.Store(0x10000)

	return device
}

func (d *Device) Mode() ExecutionMode { return d.options.Mode }

func (d *Device) registerResource(id driver.ResourceID, subresources int, initialState driver.ResourceState) {
	states := make([]driver.ResourceState, subresources)
	for i := range states {
		states[i] = initialState
	}

	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	d.states.Put(id, states)
}

func (d *Device) CreateBuffer(desc driver.BufferDesc) (driver.Buffer, error) {
	return d.createBuffer(desc, driver.StateCommon)
}

func (d *Device) CreateUploadBuffer(size int) (driver.UploadBuffer, error) {
	return d.createBuffer(driver.BufferDesc{Name: "upload", Size: size}, driver.StateGenericRead)
}

func (d *Device) createBuffer(desc driver.BufferDesc, initialState driver.ResourceState) (*Buffer, error) {
	if desc.Size < 1 {
		return nil, errors.Errorf("invalid buffer size %d", desc.Size)
	}

	// keep every buffer 64k aligned in the fake address space
	span := uint64(desc.Size+0xffff) &^ 0xffff
	buffer := &Buffer{
		resource: resource{
			id:           driver.ResourceID(d.nextResourceID.Add(1)),
			name:         desc.Name,
			subresources: 1,
		},
		desc:    desc,
		address: driver.GPUAddress(d.nextAddress.Add(span) - span),
		data:    make([]byte, desc.Size),
	}
	d.registerResource(buffer.id, 1, initialState)

	return buffer, nil
}

func (d *Device) CreateTexture(desc driver.TextureDesc) (driver.Texture, error) {
	if desc.Width < 1 {
		return nil, errors.Errorf("invalid texture width %d", desc.Width)
	}
	switch desc.Dimension {
	case driver.TextureDimension1D, driver.TextureDimension2D, driver.TextureDimension3D:
	default:
		return nil, errors.Errorf("invalid texture dimension %d", desc.Dimension)
	}
	if desc.MipLevels < 1 {
		desc.MipLevels = 1
	}
	if desc.DepthOrArraySize < 1 {
		desc.DepthOrArraySize = 1
	}

	texture := &Texture{
		resource: resource{
			id:           driver.ResourceID(d.nextResourceID.Add(1)),
			name:         desc.Name,
			subresources: desc.SubresourceCount(),
		},
		desc: desc,
	}
	d.registerResource(texture.id, texture.subresources, driver.StateCommon)

	return texture, nil
}

// DestroyResource forgets the GPU-side state of a resource
func (d *Device) DestroyResource(res driver.Resource) {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	d.states.Delete(res.ID())
}

// ResourceState returns the state a subresource is in, as of the work that has finished executing
func (d *Device) ResourceState(res driver.Resource, subresource uint32) driver.ResourceState {
	d.stateLock.Lock()
	defer d.stateLock.Unlock()

	states, ok := d.states.Get(res.ID())
	if !ok || int(subresource) >= len(states) {
		return driver.StateCommon
	}
	return states[subresource]
}

func (d *Device) fail(err error) {
	d.logger.LogAttrs(context.Background(), slog.LevelWarn, "Device::Validation", slog.String("Error", err.Error()))

	d.validationLock.Lock()
	defer d.validationLock.Unlock()

	d.validationErrors = append(d.validationErrors, err)
}

// ValidationErrors returns every misuse detected while executing command streams
func (d *Device) ValidationErrors() []error {
	d.validationLock.Lock()
	defer d.validationLock.Unlock()

	errs := make([]error, len(d.validationErrors))
	copy(errs, d.validationErrors)
	return errs
}

func (d *Device) CreateFence(initialValue uint64) (driver.Fence, error) {
	return newFence(initialValue), nil
}

func (d *Device) CreateCommandAllocator(queueType driver.QueueType) (driver.CommandAllocator, error) {
	return &CommandAllocator{queueType: queueType}, nil
}

func (d *Device) CreateCommandStream(queueType driver.QueueType, allocator driver.CommandAllocator) (driver.CommandStream, error) {
	softAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return nil, errors.Errorf("command stream created with a foreign allocator %T", allocator)
	}
	if softAllocator.queueType != queueType {
		return nil, errors.Errorf("command stream of type %s created with an allocator of type %s", queueType, softAllocator.queueType)
	}

	return &CommandStream{
		id:        d.nextStreamID.Add(1),
		queueType: queueType,
		allocator: softAllocator,
	}, nil
}

func (d *Device) CreateCommandQueue(queueType driver.QueueType) (driver.HardwareQueue, error) {
	queue := newQueue(d, queueType)

	d.queuesLock.Lock()
	defer d.queuesLock.Unlock()

	d.queues = append(d.queues, queue)
	return queue, nil
}

// Drain executes held work on every queue of a device in ExecuteManual mode until no queue can make
// progress. Queues blocked on fences that are never signaled are left blocked.
func (d *Device) Drain() {
	d.queuesLock.Lock()
	queues := make([]*Queue, len(d.queues))
	copy(queues, d.queues)
	d.queuesLock.Unlock()

	for {
		progressed := false
		for _, queue := range queues {
			for queue.Step() {
				progressed = true
			}
		}

		if !progressed {
			return
		}
	}
}

// Close stops the goroutines of every async queue once their submitted work is done
func (d *Device) Close() {
	d.queuesLock.Lock()
	queues := d.queues
	d.queues = nil
	d.queuesLock.Unlock()

	for _, queue := range queues {
		queue.close()
	}
}
