// Package inproc implements the in-process transport: two
// Sockets in the same process connect without touching the network stack at
// all, via a process-wide registry of bound addresses (binproc) matching
// connecting dialers (cinproc) to a bounded, single-slot-per-direction
// session (sinproc).
package inproc

import (
	"strings"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/spcode"
)

func init() { sp.RegisterTransport(New()) }

// Transport is the inproc scheme handler.
type Transport struct{}

// New constructs an inproc Transport.
func New() *Transport { return &Transport{} }

// Scheme implements sp.Transport.
func (t *Transport) Scheme() string { return "inproc" }

// NewDialer implements sp.Transport.
func (t *Transport) NewDialer(addr string, info sp.ProtocolInfo) (sp.TransportDialer, error) {
	label, err := parseLabel(addr)
	if err != nil {
		return nil, err
	}
	return &dialer{label: label, info: info}, nil
}

// NewListener implements sp.Transport.
func (t *Transport) NewListener(addr string, info sp.ProtocolInfo) (sp.TransportListener, error) {
	label, err := parseLabel(addr)
	if err != nil {
		return nil, err
	}
	return &listener{label: label, info: info}, nil
}

// parseLabel validates the opaque 1..127-byte inproc address label.
func parseLabel(addr string) (string, error) {
	label := strings.TrimPrefix(addr, "inproc://")
	if len(label) == 0 || len(label) > 127 {
		return "", spcode.New(spcode.EINVAL)
	}
	return label, nil
}
