package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidBooking = errors.New("booking needs a client and an operator")

	// Transition errors.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("actor not permitted")
	ErrStaleState        = errors.New("stale job state")
	ErrArtifactRequired  = errors.New("completion artifact required")
	ErrInvalidPrice      = errors.New("price must be positive with at most two decimal places")

	// Payment errors.
	ErrPaymentFailed  = errors.New("payment hold failed")
	ErrCaptureFailed  = errors.New("payment capture failed")
	ErrRefundFailed   = errors.New("payment refund failed")
	ErrGatewayTimeout = errors.New("escrow gateway timeout")
)

// TransitionError describes a rejected transition request.
type TransitionError struct {
	From JobStatus
	To   JobStatus
	Role Role
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s -> %s by %s: %v", e.From, e.To, e.Role, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// PaymentError describes a failed escrow gateway call.
type PaymentError struct {
	JobID     string
	Reference string
	Err       error
	Cause     error
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("job %s: %v: %v", e.JobID, e.Err, e.Cause)
	}
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

// Unwrap exposes both the classification and the gateway cause, so
// errors.Is matches ErrCaptureFailed as well as ErrGatewayTimeout.
func (e *PaymentError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Retryable reports whether the caller may safely retry the same intent.
func Retryable(err error) bool {
	return errors.Is(err, ErrStaleState) ||
		errors.Is(err, ErrPaymentFailed) ||
		errors.Is(err, ErrCaptureFailed) ||
		errors.Is(err, ErrRefundFailed)
}
