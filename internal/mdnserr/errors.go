// Package mdnserr defines the error kinds spec.md §7 enumerates, shared by
// every internal package and re-exported by the root mdns package so
// callers can use errors.Is/errors.As against a single set of sentinels.
package mdnserr

import "fmt"

// Kind classifies an Error the way spec.md §7 enumerates error kinds.
type Kind int

const (
	InvalidArg Kind = iota
	InvalidState
	NotFound
	Conflict
	OutOfMemory
	Full
	ParseError
)

func (k Kind) String() string {
	switch k {
	case InvalidArg:
		return "invalid argument"
	case InvalidState:
		return "invalid state"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case OutOfMemory:
		return "out of memory"
	case Full:
		return "full"
	case ParseError:
		return "parse error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across the public API. Two
// Errors compare equal under errors.Is when their Kind matches, regardless
// of Op or wrapped cause, matching the "error code" propagation policy of
// spec.md §7.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind for operation op.
func New(k Kind, op string) *Error { return &Error{Kind: k, Op: op} }

// Wrap builds an Error of the given kind for operation op, wrapping cause.
func Wrap(k Kind, op string, cause error) *Error { return &Error{Kind: k, Op: op, Err: cause} }

// Sentinels for errors.Is comparisons against a bare kind.
var (
	ErrInvalidArg   = &Error{Kind: InvalidArg}
	ErrInvalidState = &Error{Kind: InvalidState}
	ErrNotFound     = &Error{Kind: NotFound}
	ErrConflict     = &Error{Kind: Conflict}
	ErrOutOfMemory  = &Error{Kind: OutOfMemory}
	ErrFull         = &Error{Kind: Full}
	ErrParseError   = &Error{Kind: ParseError}
)
