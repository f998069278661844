package mdns

import "github.com/kdanielm/mdnsd/internal/mdnserr"

// ErrKind classifies a public API error (spec.md §7).
type ErrKind = mdnserr.Kind

// Error is the concrete error type every public method returns on failure.
// Two Errors compare equal under errors.Is when their Kind matches.
type Error = mdnserr.Error

const (
	ErrKindInvalidArg   = mdnserr.InvalidArg
	ErrKindInvalidState = mdnserr.InvalidState
	ErrKindNotFound     = mdnserr.NotFound
	ErrKindConflict     = mdnserr.Conflict
	ErrKindOutOfMemory  = mdnserr.OutOfMemory
	ErrKindFull         = mdnserr.Full
	ErrKindParseError   = mdnserr.ParseError
)

// Sentinels for errors.Is(err, mdns.ErrNotFound) style comparisons.
var (
	ErrInvalidArg   = mdnserr.ErrInvalidArg
	ErrInvalidState = mdnserr.ErrInvalidState
	ErrNotFound     = mdnserr.ErrNotFound
	ErrConflict     = mdnserr.ErrConflict
	ErrOutOfMemory  = mdnserr.ErrOutOfMemory
	ErrFull         = mdnserr.ErrFull
	ErrParseError   = mdnserr.ErrParseError
)
