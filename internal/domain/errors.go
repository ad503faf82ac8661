package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionFailed is returned when subscription to events fails
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrTokenNotFound is returned when an event references a token that was never created
	ErrTokenNotFound = errors.New("token not found")

	// ErrControllerNotFound is returned when a child token has no controller record
	ErrControllerNotFound = errors.New("token controller not found")

	// ErrLeverNotFound is returned when a lever update references a lever that was never created
	ErrLeverNotFound = errors.New("token control lever not found")

	// ErrInvalidEvent is returned when an event payload fails validation
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnknownEventKind is returned when no handler exists for an event kind
	ErrUnknownEventKind = errors.New("unknown event kind")
)

// ConsistencyError reports that the event stream referenced state that should
// exist but does not. Processing must stop at the offending event.
type ConsistencyError struct {
	Kind     EventKind
	Position Position
	Err      error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error at %s (%s): %v", e.Position, e.Kind, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// NewConsistencyError wraps err as a fatal consistency error for the given event
func NewConsistencyError(event *Event, err error) error {
	ce := &ConsistencyError{Err: err}
	if event != nil {
		ce.Kind = event.Kind
		ce.Position = event.Position
	}
	return ce
}

// UpstreamError reports a failed read from the authoritative source. The event
// that triggered it can be retried from scratch.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err as a retryable upstream failure
func NewUpstreamError(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

// IsConsistencyError reports whether err is a fatal consistency error
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

// IsRetryable reports whether err is an upstream failure worth retrying
func IsRetryable(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
