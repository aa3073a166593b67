package erp

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a tool call failed to produce an answer.
// These are distinct from a NotFound result: the reference system was asked
// and answered "no" for NotFound, whereas a failure means it was never
// successfully consulted.
type FailureKind string

const (
	// FailureUnavailable covers transport-level failures (connection refused,
	// 5xx, 429). Safe to retry.
	FailureUnavailable FailureKind = "unavailable"

	// FailureTimeout covers deadline expiry before a response arrived.
	// Safe to retry.
	FailureTimeout FailureKind = "timeout"

	// FailureProtocol covers malformed responses, including responses with
	// unknown fields or status values. Not retried.
	FailureProtocol FailureKind = "protocol"
)

// ToolFailure wraps the underlying error for a failed tool call.
type ToolFailure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *ToolFailure) Error() string {
	return fmt.Sprintf("erp: %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ToolFailure) Unwrap() error {
	return e.Err
}

// Retryable reports whether a retry could plausibly succeed.
func (e *ToolFailure) Retryable() bool {
	return e.Kind == FailureUnavailable || e.Kind == FailureTimeout
}

// AsFailure extracts a ToolFailure from an error chain.
func AsFailure(err error) (*ToolFailure, bool) {
	var tf *ToolFailure
	if errors.As(err, &tf) {
		return tf, true
	}
	return nil, false
}

// CreateRejection is an authoritative business rejection from the reference
// system at record-creation time (e.g. duplicate invoice number). It is not a
// tool failure: the system was reached and said no.
type CreateRejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CreateRejection) Error() string {
	return fmt.Sprintf("erp: invoice creation rejected (%s): %s", e.Code, e.Message)
}

// AsRejection extracts a CreateRejection from an error chain.
func AsRejection(err error) (*CreateRejection, bool) {
	var cr *CreateRejection
	if errors.As(err, &cr) {
		return cr, true
	}
	return nil, false
}
