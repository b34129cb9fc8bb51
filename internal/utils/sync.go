package utils

import (
	"sync"
)

// OptionalMutex is a mutex that only locks when UseMutex is set. Components created with
// CreateExternallySynchronized leave it unset and rely on the caller for exclusion.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func NewOptionalMutex(externallySynchronized bool) *OptionalMutex {
	return &OptionalMutex{UseMutex: !externallySynchronized}
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

type OptionalRWMutex struct {
	Mutex    sync.RWMutex
	UseMutex bool
}

func (m *OptionalRWMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.UseMutex {
		m.Mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.UseMutex {
		m.Mutex.RUnlock()
	}
}
