// Package readout implements the core data-acquisition pipeline: the
// page-lifetime/memory model, per-equipment producer loop, multi-source
// aggregator, and consumer fan-out described in the pipeline specification.
package readout

import (
	"errors"
	"fmt"
)

// Error represents a structured readout error with taxonomy and context,
// categorized so callers can decide whether a failure is retryable.
type Error struct {
	Op        string    // operation that failed (e.g. "NewPool", "Aggregator.run")
	Equipment string    // equipment/component name, empty if not applicable
	Code      ErrorCode // high-level taxonomy category
	Msg       string    // human-readable message
	Inner     error     // wrapped cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Equipment != "" {
		parts = append(parts, fmt.Sprintf("equipment=%s", e.Equipment))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("readout: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("readout: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports comparing against a bare ErrorCode.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode classifies why an operation failed.
type ErrorCode string

// Error implements the error interface so a bare ErrorCode can be used
// as an errors.Is target.
func (c ErrorCode) Error() string { return string(c) }

const (
	// ErrConfiguration covers bad values, missing banks, incompatible
	// flags. Fatal at startup.
	ErrConfiguration ErrorCode = "configuration"
	// ErrResourceExhaustion covers pool empty, output FIFO full,
	// timeframe buffer full. Non-fatal; counted.
	ErrResourceExhaustion ErrorCode = "resource exhaustion"
	// ErrStreamValidation covers RDH invalid, link-id inconsistency,
	// timeframe-id discontinuity, orbit-outside-range.
	ErrStreamValidation ErrorCode = "stream validation"
	// ErrDriverFailure covers source/driver failures surfaced as a
	// per-equipment error counter.
	ErrDriverFailure ErrorCode = "driver failure"
	// ErrFatalInvariant covers bugs: releasing an invalid page address,
	// impossible pool parameters. These abort the process.
	ErrFatalInvariant ErrorCode = "fatal invariant"
)

// NewError creates a structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewEquipmentError creates an equipment-scoped structured error.
func NewEquipmentError(op, equipment string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Equipment: equipment, Code: code, Msg: msg}
}

// WrapError wraps an existing error with readout context, preserving the
// inner error's code when it is already structured.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if re, ok := inner.(*Error); ok {
		return &Error{Op: op, Equipment: re.Equipment, Code: re.Code, Msg: re.Msg, Inner: re.Inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a structured Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// Sentinel errors for common fatal invariants.
var (
	// ErrInvalidPage is returned by release when the address is not a
	// valid page of its pool. This is a fatal bug.
	ErrInvalidPage = &Error{Code: ErrFatalInvariant, Msg: "invalid page address"}
	// ErrPoolExhausted is returned when new_page finds the free-list
	// empty; non-fatal, the caller should treat this as Idle.
	ErrPoolExhausted = &Error{Code: ErrResourceExhaustion, Msg: "pool exhausted"}
	// ErrNoSuchBank is returned by the bank manager when a named bank
	// does not exist.
	ErrNoSuchBank = &Error{Code: ErrConfiguration, Msg: "no such bank"}
	// ErrOutOfSpace is returned by the bank manager when a pool request
	// does not fit in the remaining bank space.
	ErrOutOfSpace = &Error{Code: ErrConfiguration, Msg: "not enough space"}
)
