package driver

import (
	"github.com/cockroachdb/errors"
)

// MaxDescriptorTables is the number of root parameters a binding layout may declare
const MaxDescriptorTables = 32

type DescriptorRangeType uint32

const (
	RangeShaderResource DescriptorRangeType = iota
	RangeUnorderedAccess
	RangeConstantBuffer
	RangeSampler
)

var descriptorRangeTypeMapping = map[DescriptorRangeType]string{
	RangeShaderResource:  "SRV",
	RangeUnorderedAccess: "UAV",
	RangeConstantBuffer:  "CBV",
	RangeSampler:         "Sampler",
}

func (t DescriptorRangeType) String() string {
	return descriptorRangeTypeMapping[t]
}

func (t DescriptorRangeType) HeapType() DescriptorHeapType {
	if t == RangeSampler {
		return DescriptorHeapSampler
	}
	return DescriptorHeapCBVSRVUAV
}

// UnboundedRange marks a descriptor range with no upper bound. Layouts containing one are rejected.
const UnboundedRange = -1

type DescriptorRange struct {
	Type           DescriptorRangeType
	NumDescriptors int
	BaseRegister   int
}

type RootParameterType uint32

const (
	RootParameterDescriptorTable RootParameterType = iota
	RootParameterConstantBufferView
)

type RootParameter struct {
	Type RootParameterType
	// Ranges is only used by descriptor tables
	Ranges []DescriptorRange
	// Register is only used by root constant buffer views
	Register int
}

// BindingLayout is the set of binding-table slots a program expects. Slot i of the binding table
// is Parameters[i].
type BindingLayout struct {
	Name       string
	Parameters []RootParameter
}

var ErrInvalidBindingLayout = errors.New("invalid binding layout")

// Validate rejects layouts the device cannot bind: too many parameters, empty or unbounded ranges,
// and tables mixing sampler ranges with other ranges.
func (l *BindingLayout) Validate() error {
	if len(l.Parameters) > MaxDescriptorTables {
		return errors.Wrapf(ErrInvalidBindingLayout, "layout %s declares %d parameters, the maximum is %d", l.Name, len(l.Parameters), MaxDescriptorTables)
	}

	for paramIndex, param := range l.Parameters {
		if param.Type != RootParameterDescriptorTable {
			continue
		}

		if len(param.Ranges) == 0 {
			return errors.Wrapf(ErrInvalidBindingLayout, "layout %s parameter %d is a descriptor table with no ranges", l.Name, paramIndex)
		}

		heapType := param.Ranges[0].Type.HeapType()
		for rangeIndex, descRange := range param.Ranges {
			if descRange.NumDescriptors == UnboundedRange {
				return errors.Wrapf(ErrInvalidBindingLayout, "layout %s parameter %d range %d is unbounded", l.Name, paramIndex, rangeIndex)
			}
			if descRange.NumDescriptors < 1 {
				return errors.Wrapf(ErrInvalidBindingLayout, "layout %s parameter %d range %d has %d descriptors", l.Name, paramIndex, rangeIndex, descRange.NumDescriptors)
			}
			if descRange.Type.HeapType() != heapType {
				return errors.Wrapf(ErrInvalidBindingLayout, "layout %s parameter %d mixes %s and %s ranges", l.Name, paramIndex, heapType, descRange.Type.HeapType())
			}
		}
	}

	return nil
}

// TableHeapType returns the heap category of the descriptor table at param. The second return value
// is false if param is not a descriptor table.
func (l *BindingLayout) TableHeapType(param int) (DescriptorHeapType, bool) {
	if param < 0 || param >= len(l.Parameters) {
		return 0, false
	}
	p := l.Parameters[param]
	if p.Type != RootParameterDescriptorTable || len(p.Ranges) == 0 {
		return 0, false
	}
	return p.Ranges[0].Type.HeapType(), true
}

// TableMask returns a bitmask with bit i set for every descriptor table of the given category
func (l *BindingLayout) TableMask(heapType DescriptorHeapType) uint32 {
	var mask uint32
	for i := range l.Parameters {
		tableType, ok := l.TableHeapType(i)
		if ok && tableType == heapType {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// TableSize returns the number of descriptors the table at param expects
func (l *BindingLayout) TableSize(param int) int {
	if param < 0 || param >= len(l.Parameters) {
		return 0
	}

	size := 0
	for _, descRange := range l.Parameters[param].Ranges {
		size += descRange.NumDescriptors
	}
	return size
}
