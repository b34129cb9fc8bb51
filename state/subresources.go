package state

import (
	"github.com/vkngwrapper/conductor/driver"
)

// subresourceStates records the state of each subresource of one resource. A resource whose
// subresources all share a state is stored as a single whole-resource state; subresources that
// diverge from it are stored as overrides. A subresource with neither is unknown.
type subresourceStates struct {
	all    driver.ResourceState
	hasAll bool
	subs   map[uint32]driver.ResourceState
}

func (s *subresourceStates) get(subresource uint32) (driver.ResourceState, bool) {
	if state, ok := s.subs[subresource]; ok {
		return state, true
	}
	return s.all, s.hasAll
}

func (s *subresourceStates) setAll(state driver.ResourceState) {
	s.all = state
	s.hasAll = true
	for sub := range s.subs {
		delete(s.subs, sub)
	}
}

func (s *subresourceStates) set(subresource uint32, state driver.ResourceState) {
	if subresource == driver.AllSubresources {
		s.setAll(state)
		return
	}

	if s.hasAll && s.all == state {
		delete(s.subs, subresource)
		return
	}

	if s.subs == nil {
		s.subs = make(map[uint32]driver.ResourceState)
	}
	s.subs[subresource] = state
}

// uniform returns the single state shared by every one of count subresources. unknown subresources
// are reported as fallback.
func (s *subresourceStates) uniform(count int, fallback driver.ResourceState) (driver.ResourceState, bool) {
	first := s.stateOr(0, fallback)
	for sub := 1; sub < count; sub++ {
		if s.stateOr(uint32(sub), fallback) != first {
			return 0, false
		}
	}
	return first, true
}

// knowsAll reports whether every one of count subresources has a recorded state
func (s *subresourceStates) knowsAll(count int) bool {
	return s.hasAll || len(s.subs) >= count
}

func (s *subresourceStates) stateOr(subresource uint32, fallback driver.ResourceState) driver.ResourceState {
	state, known := s.get(subresource)
	if !known {
		return fallback
	}
	return state
}

// collapse folds overrides back into a whole-resource state once they cover every subresource
// with the same state
func (s *subresourceStates) collapse(count int) {
	if len(s.subs) == 0 {
		return
	}
	if !s.knowsAll(count) {
		return
	}

	state, uniform := s.uniform(count, s.all)
	if uniform {
		s.setAll(state)
	}
}

// normalizeSubresource maps subresource 0 of single-subresource resources to AllSubresources
func normalizeSubresource(resource driver.Resource, subresource uint32) uint32 {
	if subresource == 0 && resource.SubresourceCount() <= 1 {
		return driver.AllSubresources
	}
	return subresource
}
