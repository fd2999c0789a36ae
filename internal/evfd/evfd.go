// Package evfd implements the event-FD utility: a kernel-backed signalable
// handle usable both for cross-goroutine wakeup and for genuine external
// polling — sp.Socket hands these out as poll(2)-able descriptors.
//
// Built on os.Pipe rather than a raw eventfd(2) syscall so the same code
// path works on every GOOS the Go runtime supports; os.File over a pipe
// already integrates with the runtime's netpoller for deadline-bounded
// reads.
package evfd

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanoproto/sp/spcode"
)

// pollSlice bounds every blocking Wait into slices no longer than this, so
// that a concurrent Close is observed promptly even though os.File doesn't
// offer a portable "wake me on close" primitive.
const pollSlice = 100 * time.Millisecond

// EventFD is a one-bit, level-triggered signal: Signal sets it, Unsignal
// clears it, Wait blocks until it is set or the timeout/close fires.
type EventFD struct {
	r, w    *os.File
	pending atomic.Bool
	mu      sync.Mutex
	closed  bool
}

// New creates an EventFD backed by an OS pipe.
func New() (*EventFD, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &EventFD{r: r, w: w}, nil
}

// Signal sets the event. Idempotent while already pending.
func (e *EventFD) Signal() {
	if e.pending.CompareAndSwap(false, true) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		_, _ = e.w.Write([]byte{1})
	}
}

// Unsignal clears the event, draining any pending bytes.
func (e *EventFD) Unsignal() {
	if !e.pending.CompareAndSwap(true, false) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	buf := make([]byte, 64)
	// A deadline already in the past fails the read before it looks at the
	// pipe, so the drain gets a short deadline in the future instead.
	_ = e.r.SetReadDeadline(time.Now().Add(time.Millisecond))
	for {
		n, err := e.r.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	_ = e.r.SetReadDeadline(time.Time{})
}

// Wait blocks until the event is signaled, the timeout elapses, or the
// EventFD is closed. Returns nil on signal, spcode EBADF on close, and
// spcode ETIMEDOUT on timeout. A negative timeout means wait indefinitely
// (still internally bounded into pollSlice-sized waits).
func (e *EventFD) Wait(timeout time.Duration) error {
	deadline := time.Time{}
	infinite := timeout < 0
	if !infinite {
		deadline = time.Now().Add(timeout)
	}

	for {
		if e.pending.Load() {
			return nil
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return spcode.New(spcode.EBADF)
		}
		e.mu.Unlock()

		slice := pollSlice
		if !infinite {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return spcode.New(spcode.ETIMEDOUT)
			}
			if remaining < slice {
				slice = remaining
			}
		}

		buf := make([]byte, 1)
		_ = e.r.SetReadDeadline(time.Now().Add(slice))
		n, err := e.r.Read(buf)
		if n > 0 {
			// The read consumed the byte; the pending flag keeps the event
			// set until Unsignal clears it.
			e.pending.Store(true)
			return nil
		}
		if err != nil && !isTimeout(err) {
			if e.isClosed() {
				return spcode.New(spcode.EBADF)
			}
		}
	}
}

func (e *EventFD) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func isTimeout(err error) bool {
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}

// Close releases the underlying pipe. Any blocked Wait observes this within
// one pollSlice and returns EBADF.
func (e *EventFD) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.w.Close()
	return e.r.Close()
}
