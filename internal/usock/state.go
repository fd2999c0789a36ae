// Package usock implements the endpoint socket byte-stream abstraction: an
// FSM-driven wrapper around one OS-level connection (TCP, Unix domain, or
// a listener thereof) with explicit lifecycle states, layered directly on
// internal/fsm and internal/worker.
package usock

import "github.com/nanoproto/sp/internal/fsm"

// Endpoint lifecycle states. StateIdle reuses fsm.StateIdle (0)
// since "idle" means the same thing in both layers: the FSM is quiescent and
// safe to free.
const (
	StateIdle = fsm.StateIdle
	StateStarting = iota
	StateConnecting
	StateBeingAccepted
	StateAccepted
	StateActive
	StateCancellingIO
	StateListening
	StateAccepting
	StateCancellingAccept
	StateRemovingFD
	StoppingAccept
	StateStopping
	StateDone
)

// Event types local to usock, starting past fsm.EventUserBase so they never
// collide with the generic Start/Stop/Stopped events every FSM shares.
const (
	evConnected = fsm.EventUserBase + iota
	evConnectError
	evAccepted
	evAcceptError
	evReadable
	evWritable
	evIOError
	evCancelIODone
	evActivate
	evListenError
)

// Mode distinguishes which public operation started the endpoint.
type Mode int

const (
	ModeConnect Mode = iota
	ModeListen
	ModeBeingAccepted
)
