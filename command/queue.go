package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/driver"
)

// Queue owns a hardware queue and its fence. It hands out recording contexts, submits them, and
// recycles each one once the GPU has finished executing it.
type Queue struct {
	logger    *slog.Logger
	device    *Device
	queueType driver.QueueType
	hardware  driver.HardwareQueue
	fence     driver.Fence

	submitMutex sync.Mutex
	submitted   int

	fenceMutex     sync.Mutex
	nextFenceValue uint64

	poolMutex sync.Mutex
	inFlight  []*Context
	spare     []*Context
	created   int
}

func newQueue(device *Device, queueType driver.QueueType) (*Queue, error) {
	hardware, err := device.driver.CreateCommandQueue(queueType)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s queue", queueType)
	}

	fence, err := device.driver.CreateFence(0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create fence for %s queue", queueType)
	}

	return &Queue{
		logger:    device.logger,
		device:    device,
		queueType: queueType,
		hardware:  hardware,
		fence:     fence,
	}, nil
}

func (q *Queue) Type() driver.QueueType         { return q.queueType }
func (q *Queue) Hardware() driver.HardwareQueue { return q.hardware }
func (q *Queue) Fence() driver.Fence            { return q.fence }

// ContextCount returns the number of recording contexts this queue has created
func (q *Queue) ContextCount() int {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	return q.created
}

// Context returns a recording context that is open for recording. The oldest submitted context is
// reused if the GPU has finished with it; otherwise a new one is created.
func (q *Queue) Context() (*Context, error) {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	return q.acquireLocked()
}

func (q *Queue) acquireLocked() (*Context, error) {
	if len(q.spare) > 0 {
		ctx := q.spare[len(q.spare)-1]
		q.spare = q.spare[:len(q.spare)-1]
		return ctx, nil
	}

	if len(q.inFlight) > 0 && q.IsComplete(q.inFlight[0].fenceValue) {
		ctx := q.inFlight[0]
		q.inFlight = q.inFlight[1:]

		ctx.state = ContextCompleted
		err := ctx.reset()
		if err != nil {
			return nil, err
		}
		return ctx, nil
	}

	ctx, err := newContext(q)
	if err != nil {
		return nil, err
	}
	q.created++

	q.logger.LogAttrs(context.Background(), slog.LevelDebug, "Queue::Context",
		slog.String("Queue", q.queueType.String()),
		slog.Int("Created", q.created))

	return ctx, nil
}

func (q *Queue) releaseSpare(ctx *Context) {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	q.spare = append(q.spare, ctx)
}

// Submit closes each context and executes them in order. Barriers the contexts could not resolve
// while recording are resolved against the global state table and executed in a separate context
// ahead of the context that needs them. Submit returns the fence value that will be reached when
// the contexts have finished executing.
func (q *Queue) Submit(contexts ...*Context) (uint64, error) {
	for i, ctx := range contexts {
		if ctx.queue != q {
			return 0, errors.Errorf("a %s context cannot be submitted to a %s queue", ctx.queueType, q.queueType)
		}
		if ctx.state != ContextOpen {
			return 0, errors.Errorf("a %s context cannot be submitted", ctx.state)
		}
		for _, other := range contexts[:i] {
			if other == ctx {
				return 0, errors.Errorf("context %d was submitted more than once", i)
			}
		}
	}

	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	intermediates := make([]*Context, 0, len(contexts))
	q.poolMutex.Lock()
	for range contexts {
		intermediate, err := q.acquireLocked()
		if err != nil {
			q.spare = append(q.spare, intermediates...)
			q.poolMutex.Unlock()
			return 0, err
		}
		intermediates = append(intermediates, intermediate)
	}
	q.poolMutex.Unlock()

	for _, ctx := range contexts {
		err := ctx.close()
		if err != nil {
			q.poolMutex.Lock()
			q.spare = append(q.spare, intermediates...)
			q.poolMutex.Unlock()
			return 0, err
		}
	}

	executed := q.resolve(contexts, intermediates)

	streams := make([]driver.CommandStream, 0, len(executed))
	for _, ctx := range executed {
		if ctx.state == ContextOpen {
			err := ctx.close()
			if err != nil {
				return 0, err
			}
		}
		streams = append(streams, ctx.stream)
	}

	err := q.hardware.ExecuteCommandStreams(streams)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to execute %d command streams on the %s queue", len(streams), q.queueType)
	}

	fenceValue, err := q.Signal()
	if err != nil {
		return 0, err
	}
	q.submitted += len(contexts)

	q.poolMutex.Lock()
	for _, ctx := range executed {
		ctx.fenceValue = fenceValue
		q.inFlight = append(q.inFlight, ctx)
	}
	q.poolMutex.Unlock()

	q.logger.LogAttrs(context.Background(), slog.LevelDebug, "Queue::Submit",
		slog.String("Queue", q.queueType.String()),
		slog.Int("Streams", len(streams)),
		slog.Uint64("FenceValue", fenceValue))

	return fenceValue, nil
}

// resolve records each context's pending barriers into its intermediate and commits the context's
// final states, all under one hold of the global state lock. Intermediates that received no
// barriers go back to the spare pool. It returns the contexts to execute, in order.
func (q *Queue) resolve(contexts, intermediates []*Context) []*Context {
	table := q.device.states
	table.Lock()
	defer table.Unlock()

	executed := make([]*Context, 0, len(contexts)*2)
	for i, ctx := range contexts {
		intermediate := intermediates[i]
		pending := ctx.tracker.FlushPendingResourceBarriers(table, intermediate.stream)
		ctx.tracker.CommitFinalResourceStates(table)

		if pending > 0 {
			executed = append(executed, intermediate)
		} else {
			q.releaseSpare(intermediate)
		}
		executed = append(executed, ctx)
	}
	return executed
}

// Signal schedules the queue's fence to be set to a new value once all work submitted so far has
// finished, and returns that value
func (q *Queue) Signal() (uint64, error) {
	q.fenceMutex.Lock()
	defer q.fenceMutex.Unlock()

	value := q.nextFenceValue + 1
	err := q.hardware.Signal(q.fence, value)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to signal the %s queue's fence to %d", q.queueType, value)
	}

	q.nextFenceValue = value
	return value, nil
}

// LastSignaledValue returns the most recent fence value returned by Signal or Submit
func (q *Queue) LastSignaledValue() uint64 {
	q.fenceMutex.Lock()
	defer q.fenceMutex.Unlock()

	return q.nextFenceValue
}

func (q *Queue) CompletedValue() uint64 {
	return q.fence.CompletedValue()
}

func (q *Queue) IsComplete(fenceValue uint64) bool {
	return q.fence.CompletedValue() >= fenceValue
}

// WaitFor blocks until fenceValue is reached or timeout elapses. It returns false if the timeout
// elapsed first; the caller decides whether that is a hang. A negative timeout waits indefinitely.
func (q *Queue) WaitFor(fenceValue uint64, timeout time.Duration) (bool, error) {
	if q.IsComplete(fenceValue) {
		return true, nil
	}

	reached, err := q.fence.WaitFor(fenceValue, timeout)
	if err != nil {
		return false, errors.Wrapf(err, "failed to wait for the %s queue to reach %d", q.queueType, fenceValue)
	}
	return reached, nil
}

// Flush blocks until all work submitted so far has finished
func (q *Queue) Flush() error {
	value, err := q.Signal()
	if err != nil {
		return err
	}

	reached, err := q.WaitFor(value, driver.NoTimeout)
	if err != nil {
		return err
	}
	if !reached {
		return errors.Errorf("the %s queue never reached fence value %d", q.queueType, value)
	}
	return nil
}

// WaitQueue makes all work subsequently submitted to this queue wait until other reaches fenceValue
func (q *Queue) WaitQueue(other *Queue, fenceValue uint64) error {
	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	err := q.hardware.Wait(other.fence, fenceValue)
	if err != nil {
		return errors.Wrapf(err, "failed to make the %s queue wait for the %s queue", q.queueType, other.queueType)
	}
	return nil
}

func (q *Queue) destroy() {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	for _, ctx := range q.inFlight {
		ctx.uploads.Reset()
	}
	q.inFlight = nil
	q.spare = nil
}

func (q *Queue) printJson(json *jwriter.ObjectState) {
	q.submitMutex.Lock()
	submitted := q.submitted
	q.submitMutex.Unlock()

	q.poolMutex.Lock()
	inFlight := len(q.inFlight)
	spare := len(q.spare)
	created := q.created
	q.poolMutex.Unlock()

	json.Name("Type").String(q.queueType.String())
	json.Name("ContextsSubmitted").Int(submitted)
	json.Name("ContextsCreated").Int(created)
	json.Name("ContextsInFlight").Int(inFlight)
	json.Name("SpareContexts").Int(spare)
	json.Name("LastSignaledValue").Int(int(q.LastSignaledValue()))
	json.Name("CompletedValue").Int(int(q.CompletedValue()))
}
