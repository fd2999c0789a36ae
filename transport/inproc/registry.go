package inproc

import (
	"sync"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/spcode"
)

// binproc is the process-wide bound endpoint: one per address
// currently listened on, holding the queue of pending connect requests a
// cinproc dialer feeds and an inproc listener's Accept drains.
type binproc struct {
	label   string
	pending chan *connectReq
}

type connectReq struct {
	info   sp.ProtocolInfo
	result chan connectResult
}

type connectResult struct {
	conn sp.PipeConn
	err  error
}

var (
	registryMu sync.Mutex
	registry   = map[string]*binproc{}
)

// bind registers label as bound, failing if another binproc already holds
// it — mirroring EADDRINUSE on a real listen(2).
func bind(label string) (*binproc, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[label]; exists {
		return nil, spcode.New(spcode.EADDRINUSE)
	}
	b := &binproc{label: label, pending: make(chan *connectReq, 64)}
	registry[label] = b
	return b, nil
}

// unbind removes b from the registry if it is still the current holder of
// label (a later bind may already have replaced it after a racing Close).
func unbind(label string, b *binproc) {
	registryMu.Lock()
	if registry[label] == b {
		delete(registry, label)
	}
	registryMu.Unlock()
}

// lookup finds the binproc currently bound to label, if any.
func lookup(label string) (*binproc, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	b, ok := registry[label]
	return b, ok
}
