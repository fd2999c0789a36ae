package fsm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContextOnLeaveRunsAfterDrain covers the Leave contract: OnLeave fires
// once per Enter/Leave bracket, after every queued event (including ones a
// handler raised mid-drain) has been processed.
func TestContextOnLeaveRunsAfterDrain(t *testing.T) {
	ctx := NewContext(nil)

	var sequence []string
	ctx.OnLeave = func() { sequence = append(sequence, "onleave") }

	f := New(ctx, func(c *Context, fsm *FSM, src Source, eventType int, arg any) {
		sequence = append(sequence, "event")
		if eventType == EventUserBase {
			c.Raise(&Event{Dest: fsm, Src: SelfSource, Type: EventUserBase + 1})
		}
	}, nil)

	ctx.Dispatch(f, SelfSource, EventUserBase, nil)

	assert.Equal(t, []string{"event", "event", "onleave"}, sequence,
		"OnLeave must run after the incoming queue has fully drained, follow-ups included")
}

// TestContextMutualExclusion covers the lock itself: two goroutines
// hammering the same context never observe each other mid-bracket.
func TestContextMutualExclusion(t *testing.T) {
	ctx := NewContext(nil)

	var inside, maxInside int
	ctx.OnLeave = func() {
		inside++
		if inside > maxInside {
			maxInside = inside
		}
		inside--
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ctx.Enter()
				ctx.Leave()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "no two goroutines may hold the context at once")
}

func TestContextLeaveWithoutEnterPanics(t *testing.T) {
	ctx := NewContext(nil)
	assert.Panics(t, func() { ctx.Leave() })
}

// TestDispatchDeliversToHandler checks the common Dispatch convenience
// path an application thread uses to inject one event.
func TestDispatchDeliversToHandler(t *testing.T) {
	ctx := NewContext(nil)

	var gotType int
	var gotSrc Source
	f := New(ctx, func(c *Context, fsm *FSM, src Source, eventType int, arg any) {
		gotType = eventType
		gotSrc = src
		fsm.State = eventType
	}, nil)

	ctx.Dispatch(f, SelfSource, EventUserBase+1, nil)

	assert.Equal(t, EventUserBase+1, gotType)
	assert.Equal(t, SelfSource, gotSrc)
	assert.Equal(t, EventUserBase+1, f.State)
}

// TestRaiseRequeuesWithinSameContext covers a handler that raises a
// follow-up event to itself mid-dispatch; drainIncomingLocked must process
// it before the outermost Leave returns.
func TestRaiseRequeuesWithinSameContext(t *testing.T) {
	ctx := NewContext(nil)

	const (
		evStart = EventUserBase + iota
		evFollowUp
	)

	var sequence []int
	f := New(ctx, func(c *Context, fsm *FSM, src Source, eventType int, arg any) {
		sequence = append(sequence, eventType)
		if eventType == evStart {
			c.Raise(&Event{Dest: fsm, Src: SelfSource, Type: evFollowUp})
		}
	}, nil)

	ctx.Dispatch(f, SelfSource, evStart, nil)

	assert.Equal(t, []int{evStart, evFollowUp}, sequence)
}

// TestRaiseActiveEventPanics covers the Event.active re-raise guard.
func TestRaiseActiveEventPanics(t *testing.T) {
	ctx := NewContext(nil)
	f := New(ctx, func(*Context, *FSM, Source, int, any) {}, nil)

	ev := &Event{Dest: f, Src: SelfSource, Type: EventUserBase}
	ctx.Enter()
	ctx.Raise(ev)
	assert.Panics(t, func() { ctx.Raise(ev) })
	ctx.Leave()
}

// TestHoldReleaseBlocksWaitTilReleased covers the outstanding-reference
// counter that delays teardown, used by Socket.Close's linger wait.
func TestHoldReleaseBlocksWaitTilReleased(t *testing.T) {
	ctx := NewContext(nil)

	ctx.Enter()
	ctx.Hold()
	ctx.Hold()
	ctx.Leave()

	require.Equal(t, 2, ctx.Holds())

	done := make(chan struct{})
	go func() {
		ctx.WaitTilReleased()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitTilReleased returned before all holds were released")
	default:
	}

	ctx.Enter()
	ctx.Release()
	ctx.Release()
	ctx.Leave()

	<-done
	assert.Equal(t, 0, ctx.Holds())
}

func TestReleaseWithoutHoldPanics(t *testing.T) {
	ctx := NewContext(nil)
	ctx.Enter()
	defer ctx.Leave()
	assert.Panics(t, func() { ctx.Release() })
}

// TestFSMShutdownHandlerTakesOverUntilIdle covers the deliver() switchover:
// once EventStop arrives, the shutdown handler runs instead of Handler
// until the FSM reports idle again.
func TestFSMShutdownHandlerTakesOverUntilIdle(t *testing.T) {
	ctx := NewContext(nil)

	const evPoke = EventUserBase

	var normalCalls, shutdownCalls int
	f := New(ctx,
		func(c *Context, fsm *FSM, src Source, eventType int, arg any) {
			normalCalls++
			fsm.State = 1
		},
		func(c *Context, fsm *FSM, src Source, eventType int, arg any) {
			shutdownCalls++
			fsm.State = StateIdle // shutdown completes in one step here
		},
	)

	ctx.Dispatch(f, SelfSource, evPoke, nil)
	assert.Equal(t, 1, normalCalls)
	assert.False(t, f.Stopping())

	ctx.Dispatch(f, SelfSource, EventStop, nil)
	assert.Equal(t, 1, shutdownCalls)
	assert.True(t, f.IsIdle())
	assert.False(t, f.Stopping(), "Stopping must clear once the FSM reports idle")

	ctx.Dispatch(f, SelfSource, evPoke, nil)
	assert.Equal(t, 2, normalCalls, "Handler must resume once shutdown has completed")
}
