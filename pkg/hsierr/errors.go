// Package hsierr defines the error taxonomy shared by the hsiprep packages.
//
// Every structured error type matches one sentinel through errors.Is, so a
// caller can classify a failure without knowing which package produced it,
// and use errors.As when it needs the details (sizes, field names).
package hsierr

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrNotFound          = errors.New("file not found")
	ErrFormat            = errors.New("malformed input")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInsufficientBands = errors.New("insufficient bands")
	ErrPrecondition      = errors.New("precondition violated")
)

// NotFoundError reports a missing header or data file.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
func (e *NotFoundError) Unwrap() error        { return e.Err }

// FormatError reports an unparsable header or a data file whose size does
// not match the declared geometry. Expected and Actual are byte counts and
// are only set for size mismatches.
type FormatError struct {
	Path     string
	Field    string
	Line     int
	Expected int64
	Actual   int64
	Reason   string
}

func (e *FormatError) Error() string {
	msg := "format error"
	if e.Path != "" {
		msg += " in " + e.Path
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Expected != 0 || e.Actual != 0 {
		msg += fmt.Sprintf(" (expected %d bytes, got %d)", e.Expected, e.Actual)
	}
	return msg
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// SizeMismatch reports whether the error describes a declared/actual size
// disagreement rather than a syntax problem.
func (e *FormatError) SizeMismatch() bool {
	return e.Expected != e.Actual
}

// UnsupportedFormatError reports a header value (or method name) that is
// well-formed but not implemented.
type UnsupportedFormatError struct {
	Field string
	Value string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported %s: %q", e.Field, e.Value)
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// InsufficientBandsError is returned when an alignment method that cannot
// invent bands is asked for more than the cube holds.
type InsufficientBandsError struct {
	Available int
	Requested int
	Method    string
}

func (e *InsufficientBandsError) Error() string {
	return fmt.Sprintf("%s alignment needs at least %d bands, cube has %d",
		e.Method, e.Requested, e.Available)
}

func (e *InsufficientBandsError) Is(target error) bool { return target == ErrInsufficientBands }

// PreconditionError signals a caller bug: an argument that contradicts the
// data it describes (band count vs. cube shape, crop outside the image).
type PreconditionError struct {
	Param    string
	Expected int
	Actual   int
	Reason   string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("precondition violated for %s: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("precondition violated for %s: expected %d, got %d",
		e.Param, e.Expected, e.Actual)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }
