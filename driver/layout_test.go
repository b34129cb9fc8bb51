package driver_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conductor/driver"
)

func TestBindingLayoutTables(t *testing.T) {
	layout := &driver.BindingLayout{
		Name: "mixed",
		Parameters: []driver.RootParameter{
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{
				{Type: driver.RangeShaderResource, NumDescriptors: 2},
				{Type: driver.RangeUnorderedAccess, NumDescriptors: 1},
			}},
			{Type: driver.RootParameterConstantBufferView, Register: 0},
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{
				{Type: driver.RangeSampler, NumDescriptors: 4},
			}},
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{
				{Type: driver.RangeConstantBuffer, NumDescriptors: 1},
			}},
		},
	}

	require.NoError(t, layout.Validate())
	require.Equal(t, uint32(0b1001), layout.TableMask(driver.DescriptorHeapCBVSRVUAV))
	require.Equal(t, uint32(0b0100), layout.TableMask(driver.DescriptorHeapSampler))
	require.Equal(t, 3, layout.TableSize(0))
	require.Equal(t, 4, layout.TableSize(2))
	require.Equal(t, 0, layout.TableSize(7))

	_, ok := layout.TableHeapType(1)
	require.False(t, ok)
}

func TestBindingLayoutRejects(t *testing.T) {
	testCases := map[string]driver.BindingLayout{
		"unbounded": {Parameters: []driver.RootParameter{
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{
				{Type: driver.RangeShaderResource, NumDescriptors: driver.UnboundedRange},
			}},
		}},
		"empty table": {Parameters: []driver.RootParameter{
			{Type: driver.RootParameterDescriptorTable},
		}},
		"mixed heaps": {Parameters: []driver.RootParameter{
			{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{
				{Type: driver.RangeShaderResource, NumDescriptors: 1},
				{Type: driver.RangeSampler, NumDescriptors: 1},
			}},
		}},
		"too many parameters": {Parameters: make([]driver.RootParameter, driver.MaxDescriptorTables+1)},
	}

	for name, layout := range testCases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, layout.Validate(), driver.ErrInvalidBindingLayout)
		})
	}
}

func TestResourceStateValidity(t *testing.T) {
	require.True(t, driver.StateGenericRead.IsValid())
	require.False(t, driver.StateGenericRead.IsWrite())
	require.True(t, driver.StateRenderTarget.IsValid())
	require.True(t, driver.StateRenderTarget.IsWrite())
	require.False(t, (driver.StateRenderTarget | driver.StateCopySource).IsValid())
	require.Equal(t, "StateCommon", driver.StateCommon.String())
	require.Contains(t, driver.StateCopyDest.String(), "StateCopyDest")
}

func TestHandleOffset(t *testing.T) {
	handle := driver.CPUDescriptorHandle(0x1000)
	require.Equal(t, driver.CPUDescriptorHandle(0x1000+3*32), handle.Offset(3, 32))
	require.False(t, handle.IsNull())
	require.True(t, driver.GPUDescriptorHandle(0).IsNull())

	require.Equal(t, 6, driver.TextureDesc{Dimension: driver.TextureDimension2D, MipLevels: 3, DepthOrArraySize: 2}.SubresourceCount())
	require.Equal(t, 4, driver.TextureDesc{Dimension: driver.TextureDimension3D, MipLevels: 4, DepthOrArraySize: 8}.SubresourceCount())
	require.Equal(t, uint32(5), driver.SubresourceIndex(2, 1, 3))
}
