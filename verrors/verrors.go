// Package verrors defines the error taxonomy shared by every metadata
// manager and the data VIO pipeline.
//
// The taxonomy is a kind, not a type hierarchy: a Result pairs one of a
// small set of Codes with an underlying Go error so callers can both
// branch on Code and use errors.Is/errors.As on the wrapped cause.
package verrors

import (
	"errors"
	"fmt"
)

// Code enumerates the outcomes a pipeline stage or metadata operation
// can report, per the error taxonomy in the core specification.
type Code int

const (
	// Success indicates no error.
	Success Code = iota
	// OutOfSpace means no free PBN was available in the requested zone.
	// Recoverable: the caller may wait or fall back to deduplication.
	OutOfSpace
	// OutOfRange means a PBN or LBN argument was outside the device's
	// addressable range. Fatal to the request, not to the device.
	OutOfRange
	// InvalidFragment means a compressed block's header was malformed.
	InvalidFragment
	// ReadOnly means the device has been driven into read-only mode.
	ReadOnly
	// InvalidAdminState means an admin operation was requested in a
	// state that does not permit it.
	InvalidAdminState
	// AssertionFailed means an internal invariant did not hold.
	AssertionFailed
	// StorageError means the underlying backend reported a failure.
	StorageError
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case OutOfSpace:
		return "OUT_OF_SPACE"
	case OutOfRange:
		return "OUT_OF_RANGE"
	case InvalidFragment:
		return "INVALID_FRAGMENT"
	case ReadOnly:
		return "READ_ONLY"
	case InvalidAdminState:
		return "INVALID_ADMIN_STATE"
	case AssertionFailed:
		return "ASSERTION_FAILED"
	case StorageError:
		return "STORAGE_ERROR"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Result is the canonical error value threaded through a data VIO's
// pipeline stages. A zero Result (Code == Success, Err == nil) means
// the stage succeeded.
type Result struct {
	Code Code
	Err  error
}

// Error implements the error interface so a Result can be returned
// directly wherever idiomatic Go code expects an error.
func (r *Result) Error() string {
	if r == nil {
		return Success.String()
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Code, r.Err)
	}
	return r.Code.String()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (r *Result) Unwrap() error {
	if r == nil {
		return nil
	}
	return r.Err
}

// Is reports whether this Result's Code matches the Code of another
// Result, letting callers write errors.Is(err, verrors.New(verrors.OutOfSpace, nil)).
func (r *Result) Is(target error) bool {
	other, ok := target.(*Result)
	if !ok {
		return false
	}
	return r.Code == other.Code
}

// New constructs a Result from a code and an optional underlying cause.
func New(code Code, cause error) *Result {
	return &Result{Code: code, Err: cause}
}

// Wrapf constructs a Result whose cause is a formatted error.
func Wrapf(code Code, format string, args ...interface{}) *Result {
	return &Result{Code: code, Err: fmt.Errorf(format, args...)}
}

// OK reports whether r represents success (a nil Result also counts).
func OK(r *Result) bool {
	return r == nil || r.Code == Success
}

// CodeOf extracts the Code from an arbitrary error, returning Success
// if err is nil and AssertionFailed if err is non-nil but not a
// *Result (an unexpected error is treated as an internal invariant
// violation by callers that only understand the taxonomy).
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var r *Result
	if errors.As(err, &r) {
		return r.Code
	}
	return AssertionFailed
}

// Fatal reports whether a Code's failure mode drives the device
// read-only, per the failure model: refcount underflow, journal
// underflow, invalid slab index, invalid compressed-fragment header,
// and assertion failures are fatal; OUT_OF_SPACE and byte-compare
// mismatches are not.
func Fatal(c Code) bool {
	switch c {
	case AssertionFailed, InvalidFragment:
		return true
	default:
		return false
	}
}
