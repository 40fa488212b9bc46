package node

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a node failure.
type ErrorKind string

const (
	// KindExecution is a capability failure.
	KindExecution ErrorKind = "Execution"
	// KindTimeout is a capability call that exceeded its per-node timeout.
	KindTimeout ErrorKind = "Timeout"
	// KindResolution is an argument template that could not be resolved.
	KindResolution ErrorKind = "Resolution"
	// KindValidation is a correction mutation that failed re-validation.
	KindValidation ErrorKind = "Validation"
	// KindCancelled marks a node that was cancelled or whose result was discarded.
	KindCancelled ErrorKind = "Cancelled"
	// KindCorrectionExhausted marks a node whose attempt budget ran out.
	KindCorrectionExhausted ErrorKind = "CorrectionExhausted"
	// KindInfrastructure is a failure of the engine's own collaborators.
	KindInfrastructure ErrorKind = "Infrastructure"
)

// Error is the structured failure descriptor attached to a node.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a structured node error.
func NewError(kind ErrorKind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// permanentError wraps a capability error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Capabilities return it when a retry
// with the same arguments cannot succeed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// AsError converts an arbitrary capability error into a structured node error.
// A *Error anywhere in the chain is returned as is; errors wrapped with
// Permanent become non-retryable Execution errors; everything else is a
// retryable Execution error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var nodeErr *Error
	if errors.As(err, &nodeErr) {
		return nodeErr
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return &Error{Kind: KindExecution, Message: err.Error(), Retryable: false}
	}
	return &Error{Kind: KindExecution, Message: err.Error(), Retryable: true}
}
