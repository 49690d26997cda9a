// Package faults defines the failure kinds surfaced by the pipeline and the
// error type that carries them. Every terminal failure has a kind tag, a
// human message, and a one-line recommendation for the operator.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags a failure with its pipeline-level classification.
type Kind string

const (
	InputInvalid          Kind = "InputInvalid"
	NoFailureDetected     Kind = "NoFailureDetected"
	BudgetExceeded        Kind = "BudgetExceeded"
	SchemaViolation       Kind = "SchemaViolation"
	BackendUnavailable    Kind = "BackendUnavailable"
	ValidationFailed      Kind = "ValidationFailed"
	ApplyConflict         Kind = "ApplyConflict"
	ApplyFailed           Kind = "ApplyFailed"
	ConcurrentApplication Kind = "ConcurrentApplication"
	Cancelled             Kind = "Cancelled"
	TimedOut              Kind = "TimedOut"
)

// defaultRecommendations provides the one-line operator hint per kind when
// the failure site does not supply a more specific one.
var defaultRecommendations = map[Kind]string{
	InputInvalid:          "Check that the log is non-empty UTF-8 and the workflow file parses.",
	NoFailureDetected:     "The log matched no known failure pattern; inspect it manually.",
	BudgetExceeded:        "Reduce the log window or raise the token budget cap.",
	SchemaViolation:       "The backend kept returning malformed JSON; try another model.",
	BackendUnavailable:    "Verify the backend endpoint, credentials, and network reachability.",
	ValidationFailed:      "Review the validation errors before retrying the fix.",
	ApplyConflict:         "Resolve the conflicting patches and re-run the dry run.",
	ApplyFailed:           "Files were restored from backup; inspect the cause before retrying.",
	ConcurrentApplication: "Another application is in progress against this root; retry later.",
	Cancelled:             "The operation was cancelled before completion.",
	TimedOut:              "The operation exceeded its deadline; retry with a longer timeout.",
}

// Failure is the error type surfaced across component boundaries.
type Failure struct {
	Kind           Kind
	Message        string
	Recommendation string
	Err            error
}

// New creates a Failure with the kind's default recommendation.
func New(kind Kind, format string, args ...interface{}) *Failure {
	return &Failure{
		Kind:           kind,
		Message:        fmt.Sprintf(format, args...),
		Recommendation: defaultRecommendations[kind],
	}
}

// Wrap creates a Failure that records an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Failure {
	return &Failure{
		Kind:           kind,
		Message:        fmt.Sprintf(format, args...),
		Recommendation: defaultRecommendations[kind],
		Err:            err,
	}
}

// WithRecommendation overrides the default recommendation.
func (f *Failure) WithRecommendation(rec string) *Failure {
	f.Recommendation = rec
	return f
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf classifies an arbitrary error chain. Context cancellation and
// deadline errors map to Cancelled and TimedOut even when produced outside
// this package. Unclassified errors return the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromContext converts a context error into the corresponding Failure.
// It returns nil when the context is still live.
func FromContext(ctx context.Context) *Failure {
	switch ctx.Err() {
	case context.Canceled:
		return Wrap(Cancelled, ctx.Err(), "operation cancelled")
	case context.DeadlineExceeded:
		return Wrap(TimedOut, ctx.Err(), "operation deadline exceeded")
	default:
		return nil
	}
}
