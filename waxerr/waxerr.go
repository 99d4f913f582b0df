// Package waxerr defines the typed error taxonomy shared by the Wax
// storage core. Any error returned to a caller can be classified via
// Kind without parsing the message.
package waxerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error returned by the storage core.
type Kind int

const (
	// Unknown is the zero value; never returned by the core itself.
	Unknown Kind = iota
	// Format marks an unrecognized magic, an unsupported version, both
	// root pages invalid, or an unexpected record CRC.
	Format
	// InvalidArgument marks a caller error: an empty required field, an
	// incompatible dimension, mismatched batch lengths, a negative
	// timestamp, a vector search with no query embedding, a supersede of
	// a nonexistent frame, or an unrecognized staged blob schema.
	InvalidArgument
	// Io marks an underlying system error: a read/write failure, an
	// fsync failure, a full disk, or lock contention.
	Io
	// NotFound marks an explicit lookup of a frame id absent from both
	// the committed catalog and the pending view.
	NotFound
	// Provider marks a refusal from an external collaborator (e.g. an
	// embedding provider rejected by an on-device-only policy).
	Provider
	// Corruption marks an inconsistency detected by a deep Verify.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Format:
		return "FormatError"
	case InvalidArgument:
		return "InvalidArgument"
	case Io:
		return "Io"
	case NotFound:
		return "NotFound"
	case Provider:
		return "Provider"
	case Corruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrapped error. It satisfies errors.Unwrap so that
// errors.Is/errors.As keep working across Kind.
type Error struct {
	kind Kind
	op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("wax: %s: %s", e.op, e.kind)
	}
	return fmt.Sprintf("wax: %s: %s: %v", e.op, e.kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New builds an error classified by kind for operation op.
func New(kind Kind, op string, err error) *Error {
	return &Error{kind: kind, op: op, err: err}
}

// Newf is New with a formatted message as the cause.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{kind: kind, op: op, err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or an error it wraps) is a *Error of the
// given Kind. This is the idiomatic entry point for callers:
// waxerr.Is(err, waxerr.NotFound).
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error,
// otherwise Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}
