package soft

import (
	"sync"
	"time"

	"github.com/vkngwrapper/conductor/driver"
)

// Fence is a driver.Fence whose completed value is written by the queues of a soft Device
type Fence struct {
	mutex   sync.Mutex
	value   uint64
	changed chan struct{}
}

var _ driver.Fence = &Fence{}

func newFence(initialValue uint64) *Fence {
	return &Fence{
		value:   initialValue,
		changed: make(chan struct{}),
	}
}

func (f *Fence) CompletedValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.value
}

// Signal sets the completed value from the CPU. Values lower than the current value are ignored.
func (f *Fence) Signal(value uint64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if value <= f.value {
		return
	}

	f.value = value
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Fence) WaitFor(value uint64, timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		f.mutex.Lock()
		if f.value >= value {
			f.mutex.Unlock()
			return true, nil
		}
		changed := f.changed
		f.mutex.Unlock()

		select {
		case <-changed:
		case <-expired:
			return f.CompletedValue() >= value, nil
		}
	}
}
