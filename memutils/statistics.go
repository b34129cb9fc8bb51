package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics summarizes a set of blocks. Sizes are in whatever unit the owning allocator
// hands out: descriptor slots for descriptor pages, bytes for upload pages.
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockSize       int
	AllocationSize  int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockSize = 0
	s.AllocationSize = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockSize += other.BlockSize
	s.AllocationSize += other.AllocationSize
}

// PrintJson writes the statistics as fields of an already-open json object
func (s *Statistics) PrintJson(obj *jwriter.ObjectState) {
	obj.Name("BlockCount").Int(s.BlockCount)
	obj.Name("AllocationCount").Int(s.AllocationCount)
	obj.Name("BlockSize").Int(s.BlockSize)
	obj.Name("AllocationSize").Int(s.AllocationSize)
}

type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationSize += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// PrintJson writes the detailed statistics as fields of an already-open json object
func (s *DetailedStatistics) PrintJson(obj *jwriter.ObjectState) {
	s.Statistics.PrintJson(obj)
	obj.Name("UnusedRangeCount").Int(s.UnusedRangeCount)
	if s.AllocationCount > 0 {
		obj.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
		obj.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	}
	if s.UnusedRangeCount > 0 {
		obj.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
		obj.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
	}
}
