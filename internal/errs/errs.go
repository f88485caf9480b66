// Package errs defines the tagged error taxonomy shared by all bridge
// operations. Every failure surfaced to a caller is one of these kinds;
// anything else is a bug.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that dispatch on failure mode.
type Kind int

const (
	// Validation means the caller's input was malformed or out of range.
	// The store is never touched for these.
	Validation Kind = iota
	// Range means a timestamp conversion would overflow the store's
	// 64-bit native epoch representation.
	Range
	// Access means a backing store could not be read (missing path,
	// locked file, or missing Full Disk Access permission).
	Access
	// Delivery means the native send mechanism reported a failure.
	// Sends are never retried automatically.
	Delivery
	// Selection means a disambiguation index was out of range or
	// referenced an expired resolution.
	Selection
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Range:
		return "range"
	case Access:
		return "access"
	case Delivery:
		return "delivery"
	case Selection:
		return "selection"
	default:
		return "unknown"
	}
}

// Error is a tagged error with a consistent user-visible prefix.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("msgbridge: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("msgbridge: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error from a format string.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and context message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err (or anything it wraps) is a tagged error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
