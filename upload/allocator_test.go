package upload_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/driver/soft"
	"github.com/vkngwrapper/conductor/memutils"
	"github.com/vkngwrapper/conductor/upload"
)

const pageSize = 256

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newPool(t *testing.T) *upload.Pool {
	device := soft.New(testLogger(), soft.CreateOptions{})
	t.Cleanup(device.Close)
	return upload.NewPool(testLogger(), device, upload.PoolOptions{PageSize: pageSize})
}

type failingDevice struct{}

func (failingDevice) CreateUploadBuffer(size int) (driver.UploadBuffer, error) {
	return nil, errors.New("out of memory")
}

func TestAllocateWholePage(t *testing.T) {
	pool := newPool(t)
	allocator := upload.NewAllocator(testLogger(), pool)

	whole, err := allocator.Allocate(pageSize-memutils.DebugMargin, 1)
	require.NoError(t, err)
	require.Equal(t, 0, whole.Offset)
	require.Len(t, whole.Data, pageSize-memutils.DebugMargin)
	require.Equal(t, whole.Buffer.GPUAddress(), whole.Address)
	require.Equal(t, 1, allocator.PageCount())

	next, err := allocator.Allocate(1, 1)
	require.NoError(t, err)
	require.Equal(t, 2, allocator.PageCount())
	require.Equal(t, 2, pool.PageCount())
	require.NotEqual(t, whole.Buffer, next.Buffer)
	require.Equal(t, 0, next.Offset)
}

func TestAllocateLargerThanPageFails(t *testing.T) {
	pool := newPool(t)
	allocator := upload.NewAllocator(testLogger(), pool)

	for _, alignment := range []uint{1, 2, 4, 16, 256, 4096} {
		_, err := allocator.Allocate(pageSize+1, alignment)
		require.True(t, errors.Is(err, upload.ErrAllocationTooLarge))
	}
	require.Equal(t, 0, pool.PageCount())

	_, err := allocator.Allocate(0, 1)
	require.Error(t, err)

	_, err = allocator.Allocate(8, 3)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
}

func TestAllocateAligns(t *testing.T) {
	pool := newPool(t)
	allocator := upload.NewAllocator(testLogger(), pool)

	first, err := allocator.Allocate(3, 1)
	require.NoError(t, err)
	second, err := allocator.Allocate(16, 64)
	require.NoError(t, err)

	require.Equal(t, first.Buffer, second.Buffer)
	require.Equal(t, 64, second.Offset)
	require.Equal(t, first.Address+64, second.Address)

	copy(second.Data, []byte("constant data"))
	require.Equal(t, []byte("constant data"), second.Buffer.Data()[64:64+13])

	// writes through one allocation never reach the next
	require.Equal(t, 16, cap(second.Data))
}

func TestResetRecyclesPages(t *testing.T) {
	pool := newPool(t)
	allocator := upload.NewAllocator(testLogger(), pool)

	for i := 0; i < 3; i++ {
		_, err := allocator.Allocate(200, 1)
		require.NoError(t, err)
	}
	require.Equal(t, 3, pool.PageCount())

	allocator.Reset()
	require.Equal(t, 0, allocator.PageCount())
	require.Equal(t, 3, pool.AvailableCount())

	other := upload.NewAllocator(testLogger(), pool)
	allocation, err := other.Allocate(200, 1)
	require.NoError(t, err)
	require.Equal(t, 0, allocation.Offset)
	require.Equal(t, 3, pool.PageCount())
	require.Equal(t, 2, pool.AvailableCount())

	var stats memutils.Statistics
	pool.AddStatistics(&stats)
	require.Equal(t, 3, stats.BlockCount)
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 200, stats.AllocationSize)
}

func TestPageCreationFailure(t *testing.T) {
	pool := upload.NewPool(testLogger(), failingDevice{}, upload.PoolOptions{})
	require.Equal(t, upload.DefaultPageSize, pool.PageSize())

	allocator := upload.NewAllocator(testLogger(), pool)
	_, err := allocator.Allocate(16, 16)
	require.Error(t, err)
	require.Equal(t, 0, allocator.PageCount())
}
