package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolNextRoundRobins(t *testing.T) {
	p := NewPool(3)
	defer p.Close()

	require.Equal(t, 3, p.Len())

	seen := map[*Worker]bool{
		p.Next(): true,
		p.Next(): true,
		p.Next(): true,
	}
	assert.Len(t, seen, 3, "Next should cycle through every worker in the pool before repeating")
}

func TestWorkerScheduleTaskRuns(t *testing.T) {
	p := NewPool(1)
	defer p.Close()
	w := p.Next()

	done := make(chan struct{})
	w.ScheduleTask(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestWorkerAddTimerFires(t *testing.T) {
	p := NewPool(1)
	defer p.Close()
	w := p.Next()

	fired := make(chan struct{})
	w.AddTimer(10*time.Millisecond, func() { close(fired) }, nil)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

// TestWorkerCancelTimerAlwaysSchedulesStopped covers cancelling a timer that
// has not fired yet: CancelTimer schedules its stopped callback. The
// already-fired case is TestWorkerCancelTimerAfterFireIsNoop below.
func TestWorkerCancelTimerAlwaysSchedulesStopped(t *testing.T) {
	p := NewPool(1)
	defer p.Close()
	w := p.Next()

	stopped := make(chan struct{}, 1)
	timer := w.AddTimer(time.Hour, nil, func() { stopped <- struct{}{} })
	w.CancelTimer(timer)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stopped callback never scheduled for a cancelled, unfired timer")
	}
}

// TestWorkerCancelTimerAfterFireIsNoop covers the other side of that race:
// once a timer has already fired, a later CancelTimer call must not
// retroactively invoke stopped — the timer wasn't cancelled, it completed.
func TestWorkerCancelTimerAfterFireIsNoop(t *testing.T) {
	p := NewPool(1)
	defer p.Close()
	w := p.Next()

	fired := make(chan struct{})
	stopped := make(chan struct{}, 1)
	timer := w.AddTimer(5*time.Millisecond, func() { close(fired) }, func() { stopped <- struct{}{} })

	<-fired
	w.CancelTimer(timer)

	select {
	case <-stopped:
		t.Fatal("stopped must not fire for a timer that already completed")
	case <-time.After(50 * time.Millisecond):
	}
}
