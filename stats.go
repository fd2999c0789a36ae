package sp

import "sync/atomic"

// Statistic names for Socket.GetStatistic. Order fixes the index
// buildSymbolTable assigns each one under the "STATISTIC" namespace.
const (
	StatEstablishedConnections = "ESTABLISHED_CONNECTIONS"
	StatAcceptedConnections    = "ACCEPTED_CONNECTIONS"
	StatDroppedConnections     = "DROPPED_CONNECTIONS"
	StatBrokenConnections      = "BROKEN_CONNECTIONS"
	StatConnectErrors          = "CONNECT_ERRORS"
	StatBindErrors             = "BIND_ERRORS"
	StatAcceptErrors           = "ACCEPT_ERRORS"
	StatMessagesSent           = "MESSAGES_SENT"
	StatMessagesReceived       = "MESSAGES_RECEIVED"
	StatBytesSent              = "BYTES_SENT"
	StatBytesReceived          = "BYTES_RECEIVED"
	StatCurrentConnections     = "CURRENT_CONNECTIONS"
	StatInProgressConnections  = "INPROGRESS_CONNECTIONS"
	StatCurrentSendPriority    = "CURRENT_SND_PRIORITY"
	StatCurrentRecvPriority    = "CURRENT_RCV_PRIORITY"
	StatCurrentEndpointErrors  = "CURRENT_EP_ERRORS"
)

var statisticNames = []string{
	StatEstablishedConnections,
	StatAcceptedConnections,
	StatDroppedConnections,
	StatBrokenConnections,
	StatConnectErrors,
	StatBindErrors,
	StatAcceptErrors,
	StatMessagesSent,
	StatMessagesReceived,
	StatBytesSent,
	StatBytesReceived,
	StatCurrentConnections,
	StatInProgressConnections,
	StatCurrentSendPriority,
	StatCurrentRecvPriority,
	StatCurrentEndpointErrors,
}

// Stats is a socket's statistics block: monotonic counters plus a few
// gauges, one instance per Socket. All fields are safe for concurrent
// access; callers read a consistent snapshot via Snapshot.
type Stats struct {
	EstablishedConnections atomic.Uint64
	AcceptedConnections    atomic.Uint64
	DroppedConnections     atomic.Uint64
	BrokenConnections      atomic.Uint64
	ConnectErrors          atomic.Uint64
	BindErrors             atomic.Uint64
	AcceptErrors           atomic.Uint64
	MessagesSent           atomic.Uint64
	MessagesReceived       atomic.Uint64
	BytesSent              atomic.Uint64
	BytesReceived          atomic.Uint64

	CurrentConnections    atomic.Int64
	InProgressConnections atomic.Int64
	CurrentSendPriority   atomic.Int64
	CurrentRecvPriority   atomic.Int64
	CurrentEndpointErrors atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats, for logging/inspection
// without exposing the atomics themselves.
type StatsSnapshot struct {
	EstablishedConnections uint64
	AcceptedConnections    uint64
	DroppedConnections     uint64
	BrokenConnections      uint64
	ConnectErrors          uint64
	BindErrors             uint64
	AcceptErrors           uint64
	MessagesSent           uint64
	MessagesReceived       uint64
	BytesSent              uint64
	BytesReceived          uint64

	CurrentConnections    int64
	InProgressConnections int64
	CurrentSendPriority   int64
	CurrentRecvPriority   int64
	CurrentEndpointErrors int64
}

// Get looks up a single named counter or gauge. Gauges are reported as
// their signed value cast to uint64, so counters and gauges share one
// 64-bit result type.
func (s *Stats) Get(name string) (uint64, bool) {
	switch name {
	case StatEstablishedConnections:
		return s.EstablishedConnections.Load(), true
	case StatAcceptedConnections:
		return s.AcceptedConnections.Load(), true
	case StatDroppedConnections:
		return s.DroppedConnections.Load(), true
	case StatBrokenConnections:
		return s.BrokenConnections.Load(), true
	case StatConnectErrors:
		return s.ConnectErrors.Load(), true
	case StatBindErrors:
		return s.BindErrors.Load(), true
	case StatAcceptErrors:
		return s.AcceptErrors.Load(), true
	case StatMessagesSent:
		return s.MessagesSent.Load(), true
	case StatMessagesReceived:
		return s.MessagesReceived.Load(), true
	case StatBytesSent:
		return s.BytesSent.Load(), true
	case StatBytesReceived:
		return s.BytesReceived.Load(), true
	case StatCurrentConnections:
		return uint64(s.CurrentConnections.Load()), true
	case StatInProgressConnections:
		return uint64(s.InProgressConnections.Load()), true
	case StatCurrentSendPriority:
		return uint64(s.CurrentSendPriority.Load()), true
	case StatCurrentRecvPriority:
		return uint64(s.CurrentRecvPriority.Load()), true
	case StatCurrentEndpointErrors:
		return uint64(s.CurrentEndpointErrors.Load()), true
	default:
		return 0, false
	}
}

// Snapshot copies the current counter/gauge values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		EstablishedConnections: s.EstablishedConnections.Load(),
		AcceptedConnections:    s.AcceptedConnections.Load(),
		DroppedConnections:     s.DroppedConnections.Load(),
		BrokenConnections:      s.BrokenConnections.Load(),
		ConnectErrors:          s.ConnectErrors.Load(),
		BindErrors:             s.BindErrors.Load(),
		AcceptErrors:           s.AcceptErrors.Load(),
		MessagesSent:           s.MessagesSent.Load(),
		MessagesReceived:       s.MessagesReceived.Load(),
		BytesSent:              s.BytesSent.Load(),
		BytesReceived:          s.BytesReceived.Load(),
		CurrentConnections:     s.CurrentConnections.Load(),
		InProgressConnections:  s.InProgressConnections.Load(),
		CurrentSendPriority:    s.CurrentSendPriority.Load(),
		CurrentRecvPriority:    s.CurrentRecvPriority.Load(),
		CurrentEndpointErrors:  s.CurrentEndpointErrors.Load(),
	}
}
