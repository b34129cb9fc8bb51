package state_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conductor/driver"
	"github.com/vkngwrapper/conductor/driver/soft"
	"github.com/vkngwrapper/conductor/state"
)

type recordingStream struct {
	driver.CommandStream

	batches [][]driver.ResourceBarrier
}

func (s *recordingStream) ResourceBarrier(barriers []driver.ResourceBarrier) {
	s.batches = append(s.batches, append([]driver.ResourceBarrier(nil), barriers...))
}

func (s *recordingStream) barriers() []driver.ResourceBarrier {
	var all []driver.ResourceBarrier
	for _, batch := range s.batches {
		all = append(all, batch...)
	}
	return all
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newResources(t *testing.T) (driver.Buffer, driver.Texture) {
	device := soft.New(testLogger(), soft.CreateOptions{})
	t.Cleanup(device.Close)

	buffer, err := device.CreateBuffer(driver.BufferDesc{Name: "buffer", Size: 256})
	require.NoError(t, err)

	texture, err := device.CreateTexture(driver.TextureDesc{
		Name:             "texture",
		Dimension:        driver.TextureDimension2D,
		Width:            16,
		Height:           16,
		DepthOrArraySize: 1,
		MipLevels:        3,
	})
	require.NoError(t, err)

	return buffer, texture
}

func submit(table *state.GlobalTable, tracker *state.Tracker) *recordingStream {
	pending := &recordingStream{}
	table.ResolveAndCommit(tracker, pending)
	return pending
}

func TestFirstUseIsPending(t *testing.T) {
	buffer, _ := newResources(t)
	tracker := state.NewTracker(testLogger())

	tracker.TransitionResource(buffer, driver.StateCopyDest, driver.AllSubresources)
	require.Equal(t, 1, tracker.PendingCount())
	require.Equal(t, 0, tracker.ImmediateCount())

	tracker.TransitionResource(buffer, driver.StateCopySource, driver.AllSubresources)
	require.Equal(t, 1, tracker.PendingCount())
	require.Equal(t, 1, tracker.ImmediateCount())

	stream := &recordingStream{}
	require.Equal(t, 1, tracker.FlushResourceBarriers(stream))
	require.Equal(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(buffer, driver.StateCopyDest, driver.StateCopySource, driver.AllSubresources),
	}, stream.barriers())

	require.Equal(t, 0, tracker.FlushResourceBarriers(stream))
	require.Len(t, stream.batches, 1)

	state, known := tracker.FinalState(buffer, driver.AllSubresources)
	require.True(t, known)
	require.Equal(t, driver.StateCopySource, state)
}

func TestRepeatedTransitionIsSkipped(t *testing.T) {
	buffer, _ := newResources(t)
	tracker := state.NewTracker(testLogger())

	tracker.TransitionResource(buffer, driver.StateCopyDest, 0)
	tracker.TransitionResource(buffer, driver.StateCopyDest, 0)
	tracker.TransitionResource(buffer, driver.StateCopyDest, driver.AllSubresources)

	require.Equal(t, 1, tracker.PendingCount())
	require.Equal(t, 0, tracker.ImmediateCount())
}

func TestSequentialContextsSeeCommittedState(t *testing.T) {
	_, texture := newResources(t)
	table := state.NewGlobalTable(testLogger())

	contextA := state.NewTracker(testLogger())
	contextA.TransitionResource(texture, driver.StateRenderTarget, driver.AllSubresources)
	pendingA := submit(table, contextA)
	require.Equal(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StateCommon, driver.StateRenderTarget, driver.AllSubresources),
	}, pendingA.barriers())
	require.Equal(t, driver.StateRenderTarget, table.State(texture, 2))

	contextB := state.NewTracker(testLogger())
	contextB.TransitionResource(texture, driver.StatePixelShaderResource, driver.AllSubresources)
	pendingB := submit(table, contextB)
	require.Equal(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StateRenderTarget, driver.StatePixelShaderResource, driver.AllSubresources),
	}, pendingB.barriers())
	require.Equal(t, driver.StatePixelShaderResource, table.State(texture, 0))
}

func TestResolvedNoOpIsDropped(t *testing.T) {
	buffer, _ := newResources(t)
	table := state.NewGlobalTable(testLogger())
	table.AddResource(buffer, driver.StateCopyDest)

	tracker := state.NewTracker(testLogger())
	tracker.TransitionResource(buffer, driver.StateCopyDest, driver.AllSubresources)

	stream := submit(table, tracker)
	require.Empty(t, stream.batches)
	require.Equal(t, 0, tracker.PendingCount())
}

func TestUnregisteredResourceIsCommon(t *testing.T) {
	buffer, _ := newResources(t)
	table := state.NewGlobalTable(testLogger())
	require.Equal(t, driver.StateCommon, table.State(buffer, driver.AllSubresources))

	tracker := state.NewTracker(testLogger())
	tracker.TransitionResource(buffer, driver.StateCommon, driver.AllSubresources)
	require.Empty(t, submit(table, tracker).batches)

	table.AddResource(buffer, driver.StateCopySource)
	require.Equal(t, 1, table.Count())
	table.RemoveResource(buffer)
	require.Equal(t, 0, table.Count())
	require.Equal(t, driver.StateCommon, table.State(buffer, 0))
}

func TestSubresourceTransitions(t *testing.T) {
	_, texture := newResources(t)
	table := state.NewGlobalTable(testLogger())
	table.AddResource(texture, driver.StatePixelShaderResource)

	tracker := state.NewTracker(testLogger())
	tracker.TransitionResource(texture, driver.StateRenderTarget, 1)
	tracker.TransitionResource(texture, driver.StateCopySource, 1)

	immediate := &recordingStream{}
	tracker.FlushResourceBarriers(immediate)
	require.Equal(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StateRenderTarget, driver.StateCopySource, 1),
	}, immediate.barriers())

	// subresources 0 and 2 are unknown to this context and stay pending; 1 is known
	tracker.TransitionResource(texture, driver.StateCopyDest, driver.AllSubresources)
	tracker.FlushResourceBarriers(immediate)
	require.Equal(t, driver.TransitionBarrier(texture, driver.StateCopySource, driver.StateCopyDest, 1), immediate.barriers()[1])

	pending := submit(table, tracker)
	require.ElementsMatch(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StatePixelShaderResource, driver.StateRenderTarget, 1),
		driver.TransitionBarrier(texture, driver.StatePixelShaderResource, driver.StateCopyDest, 0),
		driver.TransitionBarrier(texture, driver.StatePixelShaderResource, driver.StateCopyDest, 2),
	}, pending.barriers())

	for sub := uint32(0); sub < 3; sub++ {
		require.Equal(t, driver.StateCopyDest, table.State(texture, sub))
	}
}

func TestAllTransitionOverDivergingSubresources(t *testing.T) {
	_, texture := newResources(t)

	tracker := state.NewTracker(testLogger())
	tracker.TransitionResource(texture, driver.StateCopyDest, driver.AllSubresources)
	tracker.TransitionResource(texture, driver.StateRenderTarget, 0)

	tracker.TransitionResource(texture, driver.StatePixelShaderResource, driver.AllSubresources)

	immediate := &recordingStream{}
	require.Equal(t, 4, tracker.FlushResourceBarriers(immediate))
	require.Equal(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StateCopyDest, driver.StateRenderTarget, 0),
		driver.TransitionBarrier(texture, driver.StateRenderTarget, driver.StatePixelShaderResource, 0),
		driver.TransitionBarrier(texture, driver.StateCopyDest, driver.StatePixelShaderResource, 1),
		driver.TransitionBarrier(texture, driver.StateCopyDest, driver.StatePixelShaderResource, 2),
	}, immediate.barriers())

	// the subresources agree again so the next whole-resource transition is a single barrier
	tracker.TransitionResource(texture, driver.StateCopySource, driver.AllSubresources)
	immediate = &recordingStream{}
	require.Equal(t, 1, tracker.FlushResourceBarriers(immediate))
	require.Equal(t, driver.AllSubresources, immediate.barriers()[0].Subresource)
}

func TestPendingAllResolvesAgainstDivergingGlobalState(t *testing.T) {
	_, texture := newResources(t)
	table := state.NewGlobalTable(testLogger())

	first := state.NewTracker(testLogger())
	first.TransitionResource(texture, driver.StateRenderTarget, 2)
	submit(table, first)

	second := state.NewTracker(testLogger())
	second.TransitionResource(texture, driver.StateRenderTarget, driver.AllSubresources)
	pending := submit(table, second)

	// subresource 2 is already a render target
	require.Equal(t, []driver.ResourceBarrier{
		driver.TransitionBarrier(texture, driver.StateCommon, driver.StateRenderTarget, 0),
		driver.TransitionBarrier(texture, driver.StateCommon, driver.StateRenderTarget, 1),
	}, pending.barriers())
}

func TestUAVAndAliasingBarriers(t *testing.T) {
	buffer, texture := newResources(t)
	tracker := state.NewTracker(testLogger())

	tracker.UAVBarrier(buffer)
	tracker.UAVBarrier(nil)
	tracker.AliasBarrier(buffer, texture)
	tracker.ResourceBarrier(driver.ResourceBarrier{
		Type:        driver.BarrierTransition,
		Resource:    buffer,
		Subresource: driver.AllSubresources,
		// before-state hints are ignored
		StateBefore: driver.StateCopySource,
		StateAfter:  driver.StateUnorderedAccess,
	})

	require.Equal(t, 3, tracker.ImmediateCount())
	require.Equal(t, 1, tracker.PendingCount())

	stream := &recordingStream{}
	tracker.FlushResourceBarriers(stream)
	require.Equal(t, driver.BarrierUAV, stream.barriers()[0].Type)
	require.Nil(t, stream.barriers()[1].Resource)
	require.Equal(t, driver.BarrierAliasing, stream.barriers()[2].Type)

	tracker.Reset()
	require.Equal(t, 0, tracker.PendingCount())
	_, known := tracker.FinalState(buffer, driver.AllSubresources)
	require.False(t, known)
}

func TestInvalidTransitionsPanic(t *testing.T) {
	buffer, texture := newResources(t)
	tracker := state.NewTracker(testLogger())

	require.Panics(t, func() {
		tracker.TransitionResource(buffer, driver.StateCopyDest|driver.StateRenderTarget, driver.AllSubresources)
	})
	require.Panics(t, func() {
		tracker.TransitionResource(texture, driver.StateCopyDest, 3)
	})
}

func TestResolveRequiresLock(t *testing.T) {
	buffer, _ := newResources(t)
	table := state.NewGlobalTable(testLogger())
	tracker := state.NewTracker(testLogger())
	tracker.TransitionResource(buffer, driver.StateCopyDest, driver.AllSubresources)

	require.Panics(t, func() {
		tracker.FlushPendingResourceBarriers(table, &recordingStream{})
	})
	require.Panics(t, func() {
		tracker.CommitFinalResourceStates(table)
	})
}

func TestConcurrentFirstUseSerializes(t *testing.T) {
	buffer, _ := newResources(t)

	for i := 0; i < 50; i++ {
		table := state.NewGlobalTable(testLogger())

		left := state.NewTracker(testLogger())
		left.TransitionResource(buffer, driver.StateCopyDest, driver.AllSubresources)
		right := state.NewTracker(testLogger())
		right.TransitionResource(buffer, driver.StateCopySource, driver.AllSubresources)

		var order []string
		var orderLock sync.Mutex
		streams := map[string]*recordingStream{}

		var wait sync.WaitGroup
		for name, tracker := range map[string]*state.Tracker{"left": left, "right": right} {
			name, tracker := name, tracker
			stream := &recordingStream{}
			streams[name] = stream

			wait.Add(1)
			go func() {
				defer wait.Done()
				table.Lock()
				defer table.Unlock()

				tracker.FlushPendingResourceBarriers(table, stream)
				tracker.CommitFinalResourceStates(table)

				orderLock.Lock()
				order = append(order, name)
				orderLock.Unlock()
			}()
		}
		wait.Wait()

		winner, loser := streams[order[0]], streams[order[1]]
		require.Len(t, winner.barriers(), 1)
		require.Len(t, loser.barriers(), 1)
		require.Equal(t, driver.StateCommon, winner.barriers()[0].StateBefore)
		require.Equal(t, winner.barriers()[0].StateAfter, loser.barriers()[0].StateBefore)
		require.Equal(t, loser.barriers()[0].StateAfter, table.State(buffer, driver.AllSubresources))
	}
}
