// Package errs implements the closed error taxonomy shared by every layer of
// the rule engine. Every failure surfaced by the engine maps to one of the
// Kind values below; callers branch on Kind rather than on sentinel values or
// type assertions against adapter-specific error types.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error classifications.
type Kind string

const (
	KindRuleNotFound       Kind = "rule_not_found"
	KindInvalidInput       Kind = "invalid_input"
	KindValidationError    Kind = "validation_error"
	KindConfigError        Kind = "config_error"
	KindNetworkError       Kind = "network_error"
	KindTimeout            Kind = "timeout"
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindServiceUnavailable Kind = "service_unavailable"
	KindFileSystemError    Kind = "filesystem_error"
	KindSignatureInvalid   Kind = "signature_invalid"
	KindCircuitOpen        Kind = "circuit_open"
	KindExecutionError     Kind = "execution_error"
	KindInternalError      Kind = "internal_error"
)

// retryable classifies which kinds are safe to retry automatically.
var retryable = map[Kind]bool{
	KindNetworkError:       true,
	KindTimeout:            true,
	KindServiceUnavailable: true,
}

// Error is the single error type used across the engine. It carries a Kind
// from the closed taxonomy above, a human-readable message safe to display to
// operators, an optional rule id, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	RuleID  string
	Cause   error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithRuleID returns a copy of e annotated with a rule id.
func (e *Error) WithRuleID(id string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.RuleID = id
	return &cp
}

func (e *Error) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("%s: %s (rule=%s)", e.Kind, e.Message, e.RuleID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the error's kind is in the retryable set.
func (e *Error) Retryable() bool { return retryable[e.Kind] }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternalError when err
// is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalError
}

// Retryable reports whether err should be retried under the retry envelope
// in §4.F. Non-Error values are treated as non-retryable.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
