// Package errs defines the error taxonomy shared by every core component.
//
// Every error the core returns carries a stable Kind, a human message, and
// an optional Hint the caller can act on (e.g. the gap ranges a sync tool
// should backfill). Nothing in this package performs I/O or logging; it is
// pure data plus the handful of constructors components use.
package errs

import "fmt"

// Kind is a stable error classification. Callers should switch on Kind, not
// on error message text.
type Kind string

const (
	// Configuration
	KindUnknownTimeframe Kind = "UnknownTimeframe"
	KindUnknownFeature   Kind = "UnknownFeature"
	KindInvalidPolicy    Kind = "InvalidPolicy"
	KindInvalidRisk      Kind = "InvalidRiskConfig"
	KindUnknownStrategy  Kind = "UnknownStrategy"

	// Data
	KindNotFound             Kind = "NotFound"
	KindNoDataInRange        Kind = "NoDataInRange"
	KindCoverageInsufficient Kind = "CoverageInsufficient"
	KindGapsDetected         Kind = "GapsDetected"
	KindSanityViolation      Kind = "SanityViolation"
	KindBackendUnavailable   Kind = "BackendUnavailable"

	// Runtime
	KindPreflightFailed          Kind = "PreflightFailed"
	KindAborted                  Kind = "Aborted"
	KindOrderRejected            Kind = "OrderRejected"
	KindInternalInvariantViolate Kind = "InternalInvariantViolated"
	KindRoleNotReady             Kind = "RoleNotReady"

	// Artifact
	KindVersionMismatch Kind = "VersionMismatch"
	KindWriteFailed     Kind = "WriteFailed"
	KindSchemaMismatch  Kind = "SchemaMismatch"
)

// RejectReason is the sub-reason carried by an OrderRejected error.
type RejectReason string

const (
	RejectLiquidationTooClose RejectReason = "LiquidationTooClose"
	RejectBelowMinSize        RejectReason = "BelowMinSize"
	RejectCappedToZero        RejectReason = "CappedToZero"
)

// Error is the structured error type returned across the core's public
// surface (preflight, run, verify).
type Error struct {
	Kind   Kind
	Msg    string
	Hint   string
	Reason RejectReason // only meaningful when Kind == KindOrderRejected
	Cause  error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a plain structured error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a plain structured error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithHint attaches a remediation hint (e.g. gap ranges to backfill).
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithCause wraps an underlying error.
func WithCause(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Rejected builds an OrderRejected error with a sub-reason. Pre-trade
// rejections are not fatal: the engine logs them and drops the signal.
func Rejected(reason RejectReason, msg string) *Error {
	return &Error{Kind: KindOrderRejected, Msg: msg, Reason: reason}
}

// Is reports whether err is an *Error of the given kind, unwrapping as
// needed. This lets callers write errs.Is(err, errs.KindNotFound).
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		break
	}
	return false
}
