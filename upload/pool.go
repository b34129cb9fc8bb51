package upload

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/internal/utils"
	"github.com/vkngwrapper/conductor/memutils"
	"github.com/vkngwrapper/conductor/memutils/metadata"
)

// DefaultPageSize is the size in bytes of an upload page when PoolOptions.PageSize is left unset
const DefaultPageSize = 2 * 1024 * 1024

// BufferDevice is the part of driver.Device upload pages are created with
type BufferDevice interface {
	CreateUploadBuffer(size int) (driver.UploadBuffer, error)
}

type PoolOptions struct {
	// PageSize is the size of every upload page in bytes, and the largest allocation an Allocator
	// can serve
	PageSize int
	// ExternallySynchronized disables the pool's lock
	ExternallySynchronized bool
}

// page is a persistently mapped upload buffer with a bump cursor
type page struct {
	buffer   driver.UploadBuffer
	metadata *metadata.LinearBlockMetadata
}

// Pool creates and recycles the upload pages of every Allocator on a device. Pages are handed out
// whole and only returned whole.
type Pool struct {
	logger   *slog.Logger
	device   BufferDevice
	pageSize int

	mutex     *utils.OptionalMutex
	pages     []*page
	available []*page
}

func NewPool(logger *slog.Logger, device BufferDevice, options PoolOptions) *Pool {
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Pool{
		logger:   logger,
		device:   device,
		pageSize: pageSize,
		mutex:    utils.NewOptionalMutex(options.ExternallySynchronized),
	}
}

func (p *Pool) PageSize() int { return p.pageSize }

// PageCount returns the number of pages the pool has created
func (p *Pool) PageCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.pages)
}

// AvailableCount returns the number of pages waiting to be handed out again
func (p *Pool) AvailableCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.available)
}

func (p *Pool) acquire() (*page, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.available) > 0 {
		next := p.available[0]
		p.available = p.available[1:]
		return next, nil
	}

	buffer, err := p.device.CreateUploadBuffer(p.pageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create an upload page of %d bytes", p.pageSize)
	}

	next := &page{
		buffer:   buffer,
		metadata: metadata.NewLinearBlockMetadata(),
	}
	next.metadata.Init(p.pageSize)
	p.pages = append(p.pages, next)

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "Pool::acquire",
		slog.String("Buffer", buffer.Name()),
		slog.Int("Pages", len(p.pages)))

	return next, nil
}

func (p *Pool) release(pages []*page) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, released := range pages {
		released.metadata.Clear()
		p.available = append(p.available, released)
	}
}

func (p *Pool) AddStatistics(stats *memutils.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, pg := range p.pages {
		pg.metadata.AddStatistics(stats)
	}
}

func (p *Pool) PrintJson(json *jwriter.ObjectState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	json.Name("PageSize").Int(p.pageSize)
	json.Name("Pages").Int(len(p.pages))
	json.Name("AvailablePages").Int(len(p.available))

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, pg := range p.pages {
		pg.metadata.AddDetailedStatistics(&stats)
	}
	statsObj := json.Name("Stats").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()
}
