package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutexExcludes(t *testing.T) {
	m := NewOptionalMutex(false)
	require.True(t, m.UseMutex)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8000, counter)
}

func TestOptionalMutexExternallySynchronized(t *testing.T) {
	m := NewOptionalMutex(true)
	require.False(t, m.UseMutex)

	// reentrant use is fine when the lock is disabled
	m.Lock()
	m.Lock()
	m.Unlock()
	m.Unlock()
}
