package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conductor/memutils"
	"github.com/vkngwrapper/conductor/memutils/metadata"
)

func allocLinear(t *testing.T, m *metadata.LinearBlockMetadata, size int, alignment uint) metadata.BlockAllocationHandle {
	success, req, err := m.CreateAllocationRequest(size, alignment, 0)
	require.NoError(t, err)
	require.True(t, success)

	require.NoError(t, m.Alloc(req, nil))
	return req.BlockAllocationHandle
}

func TestLinearBumpsAndAligns(t *testing.T) {
	m := metadata.NewLinearBlockMetadata()
	m.Init(256)

	first := allocLinear(t, m, 3, 1)
	second := allocLinear(t, m, 8, 16)

	offset, err := m.AllocationOffset(first)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	offset, err = m.AllocationOffset(second)
	require.NoError(t, err)
	require.Equal(t, memutils.AlignUp(3+memutils.DebugMargin, 16), offset)
	require.Equal(t, offset+8+memutils.DebugMargin, m.Cursor())
	require.Equal(t, 2, m.AllocationCount())
	require.NoError(t, m.Validate())
}

func TestLinearExhaustionAndClear(t *testing.T) {
	m := metadata.NewLinearBlockMetadata()
	m.Init(64)

	success, _, err := m.CreateAllocationRequest(65, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	allocLinear(t, m, 64-memutils.DebugMargin, 1)
	require.False(t, m.MayHaveFreeBlock(1))

	success, _, err = m.CreateAllocationRequest(1, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	m.Clear()
	require.True(t, m.IsEmpty())
	require.Equal(t, 0, m.Cursor())
	require.Equal(t, 64, m.SumFreeSize())
}

func TestLinearFreeOnlyMostRecent(t *testing.T) {
	m := metadata.NewLinearBlockMetadata()
	m.Init(128)

	first := allocLinear(t, m, 10, 1)
	second := allocLinear(t, m, 10, 1)

	require.Error(t, m.Free(first))
	require.NoError(t, m.Free(second))
	require.Equal(t, 10+memutils.DebugMargin, m.Cursor())
	require.NoError(t, m.Free(first))
	require.Equal(t, 0, m.Cursor())
	require.Error(t, m.Free(first))
}

func TestLinearStaleRequest(t *testing.T) {
	m := metadata.NewLinearBlockMetadata()
	m.Init(128)

	success, req, err := m.CreateAllocationRequest(10, 1, 0)
	require.NoError(t, err)
	require.True(t, success)

	allocLinear(t, m, 10, 1)
	require.Error(t, m.Alloc(req, nil))
}

func TestLinearStatistics(t *testing.T) {
	m := metadata.NewLinearBlockMetadata()
	m.Init(100)

	allocLinear(t, m, 10, 1)
	allocLinear(t, m, 20, 1)

	var stats memutils.Statistics
	m.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      1,
		AllocationCount: 2,
		BlockSize:       100,
		AllocationSize:  30,
	}, stats)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	m.AddDetailedStatistics(&detailed)
	require.Equal(t, 2, detailed.AllocationCount)
	require.Equal(t, 10, detailed.AllocationSizeMin)
	require.Equal(t, 20, detailed.AllocationSizeMax)
	require.Equal(t, 100-m.Cursor(), m.SumFreeSize())
}
