package sp

import "context"

// Transport is the pluggable scheme handler a protocol-agnostic Socket uses
// for bind/connect. Transport packages (inproc, tcp, ipc, ws) each provide
// one, self-registered by scheme via RegisterTransport.
type Transport interface {
	// Scheme returns the URL scheme this transport handles, e.g. "tcp".
	Scheme() string
	// NewDialer prepares a connector for addr (not yet dialing). info
	// carries the local protocol's wire identity so stream-based transports
	// can run the SP opening handshake and reject an
	// incompatible peer before handing back a PipeConn.
	NewDialer(addr string, info ProtocolInfo) (TransportDialer, error)
	// NewListener prepares a listener for addr (not yet listening).
	NewListener(addr string, info ProtocolInfo) (TransportListener, error)
}

// TransportDialer performs one connection attempt per Dial call, returning
// a PipeConn once the attempt (including any handshake) completes.
type TransportDialer interface {
	Dial(ctx context.Context) (PipeConn, error)
}

// TransportListener accepts connections, one per Accept call, until Close.
type TransportListener interface {
	Listen() error
	Accept(ctx context.Context) (PipeConn, error)
	Close() error
	Addr() string
}

var transportRegistry = map[string]Transport{}

// RegisterTransport makes t available to AddEndpoint under t.Scheme().
// Transport packages call this from an init func, so a blank import of a
// transport package is all it takes to enable its scheme.
func RegisterTransport(t Transport) {
	transportRegistry[t.Scheme()] = t
}

// lookupTransport finds a previously registered Transport by scheme.
func lookupTransport(scheme string) (Transport, bool) {
	t, ok := transportRegistry[scheme]
	return t, ok
}
