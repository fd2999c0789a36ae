// Package spcode defines the POSIX-flavored error taxonomy shared by every
// layer of the Scalability Protocols engine, and classifies transport-level
// errors into it.
package spcode

import (
	"errors"
	"fmt"
)

// Code is one member of the library's POSIX-flavored error taxonomy.
type Code int

const (
	// Argument errors.
	EINVAL Code = iota
	ENOPROTOOPT
	ENOTSUP
	EMSGSIZE

	// Resource errors.
	ENOMEM
	EMFILE
	ENFILE
	EADDRINUSE
	EADDRNOTAVAIL
	ENODEV

	// State errors.
	EBADF
	ETERM
	EFSM

	// Timing errors.
	ETIMEDOUT
	EAGAIN
	EINTR

	// Transport errors.
	ECONNRESET
	ECONNREFUSED
	ECONNABORTED
	ENETDOWN
	ENETRESET
	ENETUNREACH
	EHOSTUNREACH
	ENOTCONN
	EPROTO
)

var codeNames = map[Code]string{
	EINVAL:        "EINVAL",
	ENOPROTOOPT:   "ENOPROTOOPT",
	ENOTSUP:       "ENOTSUP",
	EMSGSIZE:      "EMSGSIZE",
	ENOMEM:        "ENOMEM",
	EMFILE:        "EMFILE",
	ENFILE:        "ENFILE",
	EADDRINUSE:    "EADDRINUSE",
	EADDRNOTAVAIL: "EADDRNOTAVAIL",
	ENODEV:        "ENODEV",
	EBADF:         "EBADF",
	ETERM:         "ETERM",
	EFSM:          "EFSM",
	ETIMEDOUT:     "ETIMEDOUT",
	EAGAIN:        "EAGAIN",
	EINTR:         "EINTR",
	ECONNRESET:    "ECONNRESET",
	ECONNREFUSED:  "ECONNREFUSED",
	ECONNABORTED:  "ECONNABORTED",
	ENETDOWN:      "ENETDOWN",
	ENETRESET:     "ENETRESET",
	ENETUNREACH:   "ENETUNREACH",
	EHOSTUNREACH:  "EHOSTUNREACH",
	ENOTCONN:      "ENOTCONN",
	EPROTO:        "EPROTO",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("spcode(%d)", int(c))
}

// Error wraps a Code with an optional underlying cause and operation label.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		if e.Op == "" {
			return e.Code.String()
		}
		return e.Op + ": " + e.Code.String()
	}
	if e.Op == "" {
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Code.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, spcode.New(EBADF)) style matching against a bare
// sentinel built from the same Code, without requiring identical Op/Err.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New builds a bare *Error carrying only a Code, suitable as an errors.Is
// sentinel (e.g. spcode.New(spcode.EAGAIN)).
func New(code Code) *Error {
	return &Error{Code: code}
}

// Wrap annotates err with a Code and an operation label.
func Wrap(op string, code Code, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Of extracts the Code carried by err, if any, and reports whether one was
// found.
func Of(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	c, ok := Of(err)
	return ok && c == code
}
