package hsierr

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

// TestClassification verifies that wrapped errors keep their sentinel
func TestClassification(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{&NotFoundError{Path: "a.hdr"}, ErrNotFound},
		{&FormatError{Path: "a.img", Expected: 10, Actual: 9}, ErrFormat},
		{&UnsupportedFormatError{Field: "data type", Value: "6"}, ErrUnsupportedFormat},
		{&InsufficientBandsError{Available: 4, Requested: 10, Method: "crop"}, ErrInsufficientBands},
		{&PreconditionError{Param: "bands", Expected: 4, Actual: 5}, ErrPrecondition},
	}
	for _, tc := range tests {
		wrapped := fmt.Errorf("processing scan: %w", tc.err)
		if !errors.Is(wrapped, tc.sentinel) {
			t.Errorf("%T: errors.Is(%v) failed", tc.err, tc.sentinel)
		}
		if errors.Is(wrapped, ErrPrecondition) != (tc.sentinel == ErrPrecondition) {
			t.Errorf("%T: unexpected match against ErrPrecondition", tc.err)
		}
	}
}

// TestFormatErrorDetails verifies errors.As access to size mismatches
func TestFormatErrorDetails(t *testing.T) {
	err := fmt.Errorf("load: %w", &FormatError{Path: "a.img", Reason: "size", Expected: 100, Actual: 99})

	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatal("errors.As failed")
	}
	if !fe.SizeMismatch() {
		t.Error("Expected a size mismatch")
	}
	if !strings.Contains(err.Error(), "expected 100 bytes, got 99") {
		t.Errorf("Size missing from message: %s", err)
	}

	syntax := &FormatError{Path: "a.hdr", Line: 3, Reason: "missing '='"}
	if syntax.SizeMismatch() {
		t.Error("Syntax error reported as size mismatch")
	}
}

// TestNotFoundUnwrap verifies that the underlying fs error stays reachable
func TestNotFoundUnwrap(t *testing.T) {
	err := &NotFoundError{Path: "a.img", Err: fs.ErrNotExist}
	if !errors.Is(err, fs.ErrNotExist) || !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError must match both ErrNotFound and its cause")
	}
}
