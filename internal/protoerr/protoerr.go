// Package protoerr defines the error kinds shared across h1, h2 and
// dispatch (spec.md §7 "Error Handling Design"). Kinds are concept-level
// tags, not a type hierarchy, so callers test a kind with Is(err, kind),
// which finds the *Error in err's chain via errors.As, and otherwise
// treat any *Error as opaque.
package protoerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure, used to decide propagation policy
// (spec.md §7 "Propagation policy") without inspecting error strings.
type Kind int

const (
	Parse Kind = iota
	IO
	Protocol
	User
	Canceled
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case IO:
		return "io"
	case Protocol:
		return "protocol"
	case User:
		return "user"
	case Canceled:
		return "canceled"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Kind that governs how the
// caller must react to it.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "h1.decodeHead"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors referenced directly by spec.md scenarios.
var (
	ErrTooLarge        = errors.New("protocore: head exceeds size ceiling")
	ErrInvalidFraming  = errors.New("protocore: invalid or conflicting body framing")
	ErrBodyReadAfterClose = errors.New("protocore: read on closed body")
	ErrHijacked        = errors.New("protocore: connection already upgraded")
	ErrShutdown        = errors.New("protocore: connection is shutting down")
)
