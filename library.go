package sp

import (
	"sort"
	"sync/atomic"

	"github.com/nanoproto/sp/spcode"
)

// terminated tracks process-wide shutdown state: once Term is called,
// subsequent NewSocket calls fail with ETERM. There is exactly one such
// flag per process, like the inproc registry — library lifecycle is a
// process-wide concern, not a per-socket one.
var terminated atomic.Bool

// Term begins process-wide shutdown: every subsequent call to NewSocket
// fails with spcode.ETERM. It does not itself close any existing Socket —
// callers are still responsible for closing sockets they hold, but any
// blocked Send/Recv on them will already be unblocked by that Socket's own
// Close, not by Term. Term is idempotent.
func Term() {
	terminated.Store(true)
}

// Terminated reports whether Term has been called in this process.
func Terminated() bool {
	return terminated.Load()
}

// SymbolType classifies a Symbol's namespace.
type SymbolType int

const (
	SymbolNamespace SymbolType = iota
	SymbolOption
	SymbolStatistic
	SymbolErrorCode
)

func (t SymbolType) String() string {
	switch t {
	case SymbolNamespace:
		return "namespace"
	case SymbolOption:
		return "option"
	case SymbolStatistic:
		return "statistic"
	case SymbolErrorCode:
		return "error_code"
	default:
		return "unknown"
	}
}

// Symbol is one entry in the process-wide symbol table, used by language
// bindings (and introspection tools) to enumerate the constants this
// library exports without hardcoding them.
type Symbol struct {
	Name      string
	Value     int
	Namespace string
	Type      SymbolType
}

var symbolTable = buildSymbolTable()

func buildSymbolTable() []Symbol {
	var syms []Symbol

	for name, value := range map[string]int{
		OptionSendBuffer:      0,
		OptionRecvBuffer:      1,
		OptionSendTimeout:     2,
		OptionRecvTimeout:     3,
		OptionLinger:          4,
		OptionReconnectIvl:    5,
		OptionReconnectIvlMax: 6,
		OptionRecvMaxSize:     7,
		OptionSendPriority:    8,
		OptionRecvPriority:    9,
		OptionIPv4Only:        10,
		OptionMaxTTL:          11,
		OptionSocketName:      12,
	} {
		syms = append(syms, Symbol{Name: name, Value: value, Namespace: "SOL_SOCKET", Type: SymbolOption})
	}

	for i, name := range statisticNames {
		syms = append(syms, Symbol{Name: name, Value: i, Namespace: "STATISTIC", Type: SymbolStatistic})
	}

	for code := spcode.EINVAL; code <= spcode.EPROTO; code++ {
		syms = append(syms, Symbol{Name: code.String(), Value: int(code), Namespace: "ERRNO", Type: SymbolErrorCode})
	}

	// Stable, deterministic iteration order: SymbolAt(i) must be a pure
	// function of i across calls within a process, which a map-derived
	// build order alone wouldn't guarantee.
	sort.Slice(syms, func(i, j int) bool {
		if syms[i].Type != syms[j].Type {
			return syms[i].Type < syms[j].Type
		}
		return syms[i].Name < syms[j].Name
	})
	return syms
}

// SymbolAt returns the i'th exported symbol's name and value. Out-of-range
// i (negative or beyond the table) reports ok=false.
func SymbolAt(i int) (name string, value int, ok bool) {
	if i < 0 || i >= len(symbolTable) {
		return "", 0, false
	}
	s := symbolTable[i]
	return s.Name, s.Value, true
}

// SymbolInfo returns the i'th exported symbol's full tuple (name, value,
// namespace, type).
func SymbolInfo(i int) (Symbol, bool) {
	if i < 0 || i >= len(symbolTable) {
		return Symbol{}, false
	}
	return symbolTable[i], true
}
