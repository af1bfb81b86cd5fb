// Package errs defines the stable error taxonomy surfaced by the ledger
// core. Every abort, rejection and invariant failure maps to one of the
// E001..E010 codes; the code is what clients key retry behavior on.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies a stable error class.
type Code string

const (
	CodeNoRoute              Code = "E001"
	CodeInsufficientCapacity Code = "E002"
	CodeTrustLimitExceeded   Code = "E003"
	CodeTrustLineNotActive   Code = "E004"
	CodeInvalidSignature     Code = "E005"
	CodeInsufficientRights   Code = "E006"
	CodeTimeout              Code = "E007"
	CodeConflict             Code = "E008"
	CodeInvalidInput         Code = "E009"
	CodeInternal             Code = "E010"
)

// Retryable reports whether a client may usefully resubmit an operation
// that failed with this code. E007 and E010 are transient; everything
// else is a permanent outcome for the same request.
func (c Code) Retryable() bool {
	return c == CodeTimeout || c == CodeInternal
}

// Valid reports whether c is one of the defined codes.
func (c Code) Valid() bool {
	switch c {
	case CodeNoRoute, CodeInsufficientCapacity, CodeTrustLimitExceeded,
		CodeTrustLineNotActive, CodeInvalidSignature, CodeInsufficientRights,
		CodeTimeout, CodeConflict, CodeInvalidInput, CodeInternal:
		return true
	}
	return false
}

// Error is the structured error carried on every failed operation and
// persisted to the transaction row on abort.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two taxonomy errors by code, so
// errors.Is(err, errs.Conflict("")) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds a taxonomy error with optional structured details.
func New(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Wrap attaches a taxonomy code to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func NoRoute(message string, details map[string]any) *Error {
	return New(CodeNoRoute, message, details)
}

func InsufficientCapacity(message string, details map[string]any) *Error {
	return New(CodeInsufficientCapacity, message, details)
}

func TrustLimitExceeded(message string, details map[string]any) *Error {
	return New(CodeTrustLimitExceeded, message, details)
}

func TrustLineNotActive(message string, details map[string]any) *Error {
	return New(CodeTrustLineNotActive, message, details)
}

func InvalidSignature(message string) *Error {
	return New(CodeInvalidSignature, message, nil)
}

func InsufficientRights(message string) *Error {
	return New(CodeInsufficientRights, message, nil)
}

func Timeout(message string) *Error {
	return New(CodeTimeout, message, nil)
}

func Conflict(message string, details map[string]any) *Error {
	return New(CodeConflict, message, details)
}

func InvalidInput(message string, details map[string]any) *Error {
	return New(CodeInvalidInput, message, details)
}

func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, Cause: cause}
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// E010 for anything that is not a taxonomy error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError normalizes any error into a taxonomy error. Taxonomy errors
// pass through untouched; everything else becomes an E010 wrapper.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err.Error(), err)
}

// DetailsOf returns the structured details from an error chain, or nil.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
