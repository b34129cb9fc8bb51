package command

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/descriptor"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/state"
	"github.com/vkngwrapper/conductor/upload"
)

// DefaultMaxFramesInFlight is used when CreateOptions.MaxFramesInFlight is left unset
const DefaultMaxFramesInFlight = 3

const numQueueTypes = 3

type CreateOptions struct {
	// DescriptorPageSize is the number of descriptors in each CPU-visible descriptor page
	DescriptorPageSize int
	// DescriptorWindowSize is the number of descriptors in each shader-visible window used by
	// recording contexts
	DescriptorWindowSize int
	// UploadPageSize is the size in bytes of each upload page, and the largest single upload
	// allocation
	UploadPageSize int
	// MaxFramesInFlight is the number of frames EndFrame lets the CPU run ahead of the GPU
	MaxFramesInFlight int
}

type retiredResource struct {
	frame    uint64
	resource driver.Resource
}

type frameFence struct {
	frame  uint64
	values [numQueueTypes]uint64
}

// Device owns everything that is shared between the recording contexts of one GPU: the global
// resource state table, a descriptor allocator per heap category, the upload page pool, and a
// queue of each type.
type Device struct {
	logger  *slog.Logger
	driver  driver.Device
	options CreateOptions

	states      *state.GlobalTable
	descriptors [driver.NumDescriptorHeapTypes]*descriptor.Allocator
	uploads     *upload.Pool
	queues      [numQueueTypes]*Queue

	frameMutex     sync.Mutex
	frame          uint64
	framesInFlight []frameFence
	retired        []retiredResource
}

func New(logger *slog.Logger, device driver.Device, options CreateOptions) (*Device, error) {
	if options.MaxFramesInFlight <= 0 {
		options.MaxFramesInFlight = DefaultMaxFramesInFlight
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::New",
		slog.Int("DescriptorPageSize", options.DescriptorPageSize),
		slog.Int("UploadPageSize", options.UploadPageSize),
		slog.Int("MaxFramesInFlight", options.MaxFramesInFlight))

	d := &Device{
		logger:  logger,
		driver:  device,
		options: options,
		states:  state.NewGlobalTable(logger),
		uploads: upload.NewPool(logger, device, upload.PoolOptions{PageSize: options.UploadPageSize}),
	}

	for heapType := driver.DescriptorHeapType(0); heapType < driver.NumDescriptorHeapTypes; heapType++ {
		d.descriptors[heapType] = descriptor.NewAllocator(logger, device, heapType, descriptor.CreateOptions{
			PageSize: options.DescriptorPageSize,
		})
	}

	for _, queueType := range []driver.QueueType{driver.QueueDirect, driver.QueueCompute, driver.QueueCopy} {
		queue, err := newQueue(d, queueType)
		if err != nil {
			return nil, err
		}
		d.queues[queueType] = queue
	}

	return d, nil
}

func (d *Device) Driver() driver.Device           { return d.driver }
func (d *Device) States() *state.GlobalTable      { return d.states }
func (d *Device) UploadPool() *upload.Pool        { return d.uploads }
func (d *Device) Queue(t driver.QueueType) *Queue { return d.queues[t] }
func (d *Device) DirectQueue() *Queue             { return d.queues[driver.QueueDirect] }
func (d *Device) ComputeQueue() *Queue            { return d.queues[driver.QueueCompute] }
func (d *Device) CopyQueue() *Queue               { return d.queues[driver.QueueCopy] }

func (d *Device) DescriptorAllocator(heapType driver.DescriptorHeapType) *descriptor.Allocator {
	return d.descriptors[heapType]
}

// FrameNumber returns the number of the frame currently being recorded
func (d *Device) FrameNumber() uint64 {
	d.frameMutex.Lock()
	defer d.frameMutex.Unlock()

	return d.frame
}

func (d *Device) AllocateDescriptors(heapType driver.DescriptorHeapType, count int) (descriptor.Allocation, error) {
	if heapType >= driver.NumDescriptorHeapTypes {
		return descriptor.Allocation{}, errors.Errorf("unknown descriptor heap type %s", heapType)
	}
	return d.descriptors[heapType].Allocate(count)
}

// ReleaseStaleDescriptors releases every descriptor freed at or before completedFrame. It returns the
// number of descriptors released.
func (d *Device) ReleaseStaleDescriptors(completedFrame uint64) int {
	released := 0
	for _, allocator := range d.descriptors {
		released += allocator.ReleaseStaleDescriptors(completedFrame)
	}
	return released
}

// RegisterResource adds a resource to the global state table. Resources that are not registered
// are assumed to be in driver.StateCommon.
func (d *Device) RegisterResource(resource driver.Resource, initialState driver.ResourceState) {
	d.states.AddResource(resource, initialState)
}

func (d *Device) UnregisterResource(resource driver.Resource) {
	d.states.RemoveResource(resource)
}

// RetireResource unregisters resource once the frame currently being recorded completes. Contexts
// recorded during this frame may still be submitted with the resource in them.
func (d *Device) RetireResource(resource driver.Resource) {
	d.frameMutex.Lock()
	defer d.frameMutex.Unlock()

	d.retired = append(d.retired, retiredResource{frame: d.frame, resource: resource})
}

func (d *Device) unregisterRetired(completedFrame uint64) int {
	count := 0
	for len(d.retired) > 0 && d.retired[0].frame <= completedFrame {
		d.states.RemoveResource(d.retired[0].resource)
		d.retired = d.retired[1:]
		count++
	}
	return count
}

func (d *Device) CreateBuffer(desc driver.BufferDesc) (driver.Buffer, error) {
	buffer, err := d.driver.CreateBuffer(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %s", desc.Name)
	}

	d.RegisterResource(buffer, driver.StateCommon)
	return buffer, nil
}

func (d *Device) CreateTexture(desc driver.TextureDesc) (driver.Texture, error) {
	texture, err := d.driver.CreateTexture(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create texture %s", desc.Name)
	}

	d.RegisterResource(texture, driver.StateCommon)
	return texture, nil
}

// CreateView writes a view of resource into a newly allocated descriptor. mipSlice selects the
// subresource of render target, depth stencil and unordered access views.
func (d *Device) CreateView(resource driver.Resource, viewType driver.ViewType, mipSlice int) (*View, error) {
	kind, err := KindOf(resource)
	if err != nil {
		return nil, err
	}
	if !kind.SupportsView(viewType) {
		return nil, errors.Errorf("cannot create a %s view of %s, which is a %s", viewType, resource.Name(), kind)
	}

	return d.createView(kind, driver.ViewDesc{Type: viewType, Resource: resource, MipSlice: mipSlice})
}

func (d *Device) CreateSampler() (*View, error) {
	return d.createView(0, driver.ViewDesc{Type: driver.ViewSampler})
}

func (d *Device) createView(kind ResourceKind, desc driver.ViewDesc) (*View, error) {
	allocation, err := d.AllocateDescriptors(desc.Type.HeapType(), 1)
	if err != nil {
		return nil, err
	}

	err = d.driver.CreateView(allocation.Handle(0), desc)
	if err != nil {
		freeErr := allocation.Free(d.FrameNumber())
		return nil, errors.CombineErrors(err, freeErr)
	}

	return &View{
		device:     d,
		desc:       desc,
		kind:       kind,
		allocation: allocation,
	}, nil
}

// EndFrame marks the end of the frame being recorded. Every queue is signaled so that the frame's
// completion can be detected, descriptors released during frames the GPU has finished are
// reclaimed, and the CPU waits for the GPU if more than MaxFramesInFlight frames are outstanding.
// It returns the number of the next frame.
func (d *Device) EndFrame() (uint64, error) {
	d.frameMutex.Lock()
	defer d.frameMutex.Unlock()

	fence := frameFence{frame: d.frame}
	for queueType, queue := range d.queues {
		value, err := queue.Signal()
		if err != nil {
			return d.frame, err
		}
		fence.values[queueType] = value
	}
	d.framesInFlight = append(d.framesInFlight, fence)
	d.frame++

	for len(d.framesInFlight) > d.options.MaxFramesInFlight {
		oldest := d.framesInFlight[0]
		for queueType, queue := range d.queues {
			_, err := queue.WaitFor(oldest.values[queueType], driver.NoTimeout)
			if err != nil {
				return d.frame, err
			}
		}
		d.retireFrames()
	}
	d.retireFrames()

	return d.frame, nil
}

func (d *Device) frameComplete(fence frameFence) bool {
	for queueType, queue := range d.queues {
		if !queue.IsComplete(fence.values[queueType]) {
			return false
		}
	}
	return true
}

func (d *Device) retireFrames() {
	retired := false
	var completedFrame uint64
	for len(d.framesInFlight) > 0 && d.frameComplete(d.framesInFlight[0]) {
		completedFrame = d.framesInFlight[0].frame
		d.framesInFlight = d.framesInFlight[1:]
		retired = true
	}

	if retired {
		released := d.ReleaseStaleDescriptors(completedFrame)
		unregistered := d.unregisterRetired(completedFrame)
		d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::retireFrames",
			slog.Uint64("CompletedFrame", completedFrame),
			slog.Int("ReleasedDescriptors", released),
			slog.Int("UnregisteredResources", unregistered))
	}
}

// Flush waits for all work submitted to every queue
func (d *Device) Flush() error {
	for _, queue := range d.queues {
		err := queue.Flush()
		if err != nil {
			return errors.Wrapf(err, "failed to flush %s queue", queue.Type())
		}
	}
	return nil
}

// Destroy waits for the GPU and reclaims every released descriptor. The device may not be used
// afterward.
func (d *Device) Destroy() error {
	err := d.Flush()
	if err != nil {
		return err
	}

	d.frameMutex.Lock()
	defer d.frameMutex.Unlock()

	d.framesInFlight = nil
	d.ReleaseStaleDescriptors(d.frame)
	d.unregisterRetired(d.frame)

	for _, queue := range d.queues {
		queue.destroy()
	}
	return nil
}

// PrintStats writes the state of the device's allocators and queues to w as json
func (d *Device) PrintStats(w io.Writer) error {
	writer := jwriter.NewStreamingWriter(w, 4096)
	obj := writer.Object()

	obj.Name("Frame").Int(int(d.FrameNumber()))
	obj.Name("RegisteredResources").Int(d.states.Count())

	allocators := obj.Name("DescriptorAllocators").Array()
	for _, allocator := range d.descriptors {
		allocatorObj := allocators.Object()
		allocator.PrintJson(&allocatorObj)
		allocatorObj.End()
	}
	allocators.End()

	uploadObj := obj.Name("UploadPool").Object()
	d.uploads.PrintJson(&uploadObj)
	uploadObj.End()

	queues := obj.Name("Queues").Array()
	for _, queue := range d.queues {
		queueObj := queues.Object()
		queue.printJson(&queueObj)
		queueObj.End()
	}
	queues.End()

	obj.End()
	if err := writer.Flush(); err != nil {
		return err
	}
	return writer.Error()
}
