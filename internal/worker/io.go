package worker

import "net"

// ArmRead performs a single Read on conn in a dedicated goroutine and
// posts the completion (n, err) to ScheduleTask so it runs on w's goroutine
// — the point at which it is safe to Dispatch an event into the owning
// FSM's context. Arming is "start the op, get a completion event",
// implemented atop the Go runtime's own integrated poller rather than a
// second hand-rolled one (see worker.go's package doc for rationale).
func (w *Worker) ArmRead(conn net.Conn, buf []byte, done func(n int, err error)) {
	go func() {
		n, err := conn.Read(buf)
		w.ScheduleTask(func() { done(n, err) })
	}()
}

// ArmWrite is the write counterpart of ArmRead.
func (w *Worker) ArmWrite(conn net.Conn, buf []byte, done func(n int, err error)) {
	go func() {
		n, err := conn.Write(buf)
		w.ScheduleTask(func() { done(n, err) })
	}()
}

// ArmAccept performs a single Accept on ln in a dedicated goroutine and
// posts the completion to the worker.
func (w *Worker) ArmAccept(ln net.Listener, done func(conn net.Conn, err error)) {
	go func() {
		conn, err := ln.Accept()
		w.ScheduleTask(func() { done(conn, err) })
	}()
}

// ArmDial performs a single Dial in a dedicated goroutine and posts the
// completion to the worker.
func (w *Worker) ArmDial(dial func() (net.Conn, error), done func(conn net.Conn, err error)) {
	go func() {
		conn, err := dial()
		w.ScheduleTask(func() { done(conn, err) })
	}()
}
