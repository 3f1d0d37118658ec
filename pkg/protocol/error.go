package protocol

import (
	"errors"
	"fmt"
)

// Error is the typed failure returned across component boundaries.
// Diag carries method-specific diagnostic fields (required_amount, received_amount).
type Error struct {
	Code    Code              `json:"code"`
	Reason  PolicyReason      `json:"reason,omitempty"`
	Message string            `json:"message"`
	Diag    map[string]string `json:"diag,omitempty"`

	wrapped error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s/%s: %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Errorf builds a typed Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches an underlying cause to a typed Error.
func WrapErr(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, wrapped: err}
}

// WithReason tags a policy violation with its sub-reason.
func (e *Error) WithReason(r PolicyReason) *Error {
	e.Reason = r
	return e
}

// WithDiag attaches a diagnostic field.
func (e *Error) WithDiag(key, value string) *Error {
	if e.Diag == nil {
		e.Diag = make(map[string]string)
	}
	e.Diag[key] = value
	return e
}

// CodeOf extracts the taxonomy code from any error chain.
// Unclassified errors map to CodeNetworkError only when the caller says so;
// here they report as empty.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ReasonOf extracts the policy sub-reason, if any.
func ReasonOf(err error) PolicyReason {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}
