package http

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/ecode"
	"github.com/karprabha/snowjob-backend/internal/logger"
)

// Exception is the body of every error response. Retryable tells the
// caller that repeating the same intent, after refetching the job for a
// stale state, may succeed.
type Exception struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Errors    any    `json:"errors,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type transitionContext struct {
	From domain.JobStatus `json:"from"`
	To   domain.JobStatus `json:"to"`
	Role domain.Role      `json:"role,omitempty"`
}

func ErrorResponse(c *gin.Context, code int, message string, errs ...any) {
	if message == "" {
		message = ecode.Text(code)
	}
	body := Exception{Code: code, Message: message}
	if len(errs) > 0 {
		body.Errors = errs[0]
	}
	c.AbortWithStatusJSON(ecode.ToHTTPStatus(code), body)
}

// Classify maps a service error to its business code. Payment failures
// are checked first because a hold timeout matches both ErrPaymentFailed
// and ErrGatewayTimeout.
func Classify(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return ecode.NothingFound
	case errors.Is(err, domain.ErrPaymentFailed):
		return ecode.PaymentFailed
	case errors.Is(err, domain.ErrCaptureFailed):
		return ecode.CaptureFailed
	case errors.Is(err, domain.ErrRefundFailed):
		return ecode.RefundFailed
	case errors.Is(err, domain.ErrGatewayTimeout):
		return ecode.GatewayTimeout
	case errors.Is(err, domain.ErrStaleState):
		return ecode.StaleState
	case errors.Is(err, domain.ErrUnauthorized):
		return ecode.AccessDenied
	case errors.Is(err, domain.ErrArtifactRequired):
		return ecode.ArtifactRequired
	case errors.Is(err, domain.ErrInvalidPrice):
		return ecode.InvalidPrice
	case errors.Is(err, domain.ErrInvalidBooking):
		return ecode.ParamErr
	case errors.Is(err, domain.ErrInvalidTransition):
		return ecode.InvalidTransition
	case errors.Is(err, context.DeadlineExceeded):
		return ecode.Deadline
	}
	return ecode.ServerErr
}

// failWith renders err. Unexpected errors are logged and hidden from the
// caller.
func failWith(c *gin.Context, log *logger.Logger, err error) {
	code := Classify(err)

	if code == ecode.ServerErr {
		log.Error(c.Request.Context(), "Request failed", "event", "request_error", "path", c.FullPath(), "error", err)
		ErrorResponse(c, code, "")
		return
	}

	body := Exception{Code: code, Message: ecode.Text(code), Retryable: domain.Retryable(err)}
	var te *domain.TransitionError
	if errors.As(err, &te) {
		body.Errors = transitionContext{From: te.From, To: te.To, Role: te.Role}
	}
	c.AbortWithStatusJSON(ecode.ToHTTPStatus(code), body)
}

// paymentError is the payment part of a transition response; the
// transition itself succeeded.
type paymentError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func newPaymentError(err error) *paymentError {
	if err == nil {
		return nil
	}
	code := Classify(err)
	return &paymentError{Code: code, Message: ecode.Text(code), Retryable: domain.Retryable(err)}
}
