package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrQueueFull is returned when enqueueing onto a bounded queue at capacity
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed is returned when enqueueing onto a closed queue
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrLeadNotFound is returned when a lead cannot be found in the lead store
	ErrLeadNotFound = errors.New("lead not found")

	// ErrInvalidSignal is returned when an inbox message cannot be decoded
	ErrInvalidSignal = errors.New("invalid inbox signal")

	// ErrMaxRetriesExceeded wraps the last send error of an outreach task that
	// has used up its retries
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ErrorKind classifies mail transport failures
type ErrorKind string

const (
	TransportTimeout     ErrorKind = "TRANSPORT_TIMEOUT"
	TransportRateLimited ErrorKind = "TRANSPORT_RATE_LIMITED"
	InvalidRecipient     ErrorKind = "INVALID_RECIPIENT"
	TransportRejected    ErrorKind = "TRANSPORT_REJECTED"
)

// Retryable reports whether failures of this kind are transient
func (k ErrorKind) Retryable() bool {
	return k == TransportTimeout || k == TransportRateLimited
}

// Ptr returns a pointer to a copy of k
func (k ErrorKind) Ptr() *ErrorKind {
	return &k
}

// TransportError is returned by the mail transport for a failed send
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the send may succeed on a later attempt
func (e *TransportError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewTransportError creates a new transport error of the given kind
func NewTransportError(kind ErrorKind, err error) error {
	return &TransportError{Kind: kind, Err: err}
}

// ClassifyError maps any send error to an ErrorKind.
// Errors that carry no classification are treated as permanent rejections.
func ClassifyError(err error) ErrorKind {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportTimeout
	}

	return TransportRejected
}
