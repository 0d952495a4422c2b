// Package ecode holds the business codes returned next to the HTTP status
// in every error body. Clients switch on the code; the status alone cannot
// tell a stale write from an illegal transition.
package ecode

import "net/http"

const (
	OK = 0

	AccessDenied = -403
	RequestErr   = -400
	ParamErr     = -401
	NothingFound = -404
	Conflict     = -409
	TooLarge     = -413
	TooMany      = -429
	ServerErr    = -500
	Unavailable  = -503
	Deadline     = -504

	InvalidTransition = -1001
	StaleState        = -1002
	ArtifactRequired  = -1003
	InvalidPrice      = -1004
	PaymentFailed     = -1101
	CaptureFailed     = -1102
	RefundFailed      = -1103
	GatewayTimeout    = -1104
)

var messages = map[int]string{
	OK:                "ok",
	AccessDenied:      "Actor is not permitted to do this",
	RequestErr:        "Invalid request",
	ParamErr:          "Invalid parameters",
	NothingFound:      "Not found",
	Conflict:          "Resource conflict",
	TooLarge:          "Request body too large",
	TooMany:           "Too many requests",
	ServerErr:         "Internal server error",
	Unavailable:       "Service unavailable",
	Deadline:          "Deadline exceeded",
	InvalidTransition: "This action is no longer available",
	StaleState:        "The job changed, reload and try again",
	ArtifactRequired:  "A completion photo is required",
	InvalidPrice:      "Price must be positive with at most two decimal places",
	PaymentFailed:     "Payment could not be held",
	CaptureFailed:     "Payment could not be released",
	RefundFailed:      "Payment could not be refunded",
	GatewayTimeout:    "Payment processor timed out",
}

var statuses = map[int]int{
	OK:                http.StatusOK,
	AccessDenied:      http.StatusForbidden,
	RequestErr:        http.StatusBadRequest,
	ParamErr:          http.StatusBadRequest,
	NothingFound:      http.StatusNotFound,
	Conflict:          http.StatusConflict,
	TooLarge:          http.StatusRequestEntityTooLarge,
	TooMany:           http.StatusTooManyRequests,
	ServerErr:         http.StatusInternalServerError,
	Unavailable:       http.StatusServiceUnavailable,
	Deadline:          http.StatusGatewayTimeout,
	InvalidTransition: http.StatusConflict,
	StaleState:        http.StatusConflict,
	ArtifactRequired:  http.StatusUnprocessableEntity,
	InvalidPrice:      http.StatusBadRequest,
	PaymentFailed:     http.StatusPaymentRequired,
	CaptureFailed:     http.StatusBadGateway,
	RefundFailed:      http.StatusBadGateway,
	GatewayTimeout:    http.StatusGatewayTimeout,
}

// Text returns the default message for code.
func Text(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[ServerErr]
}

// ToHTTPStatus maps code to its HTTP status. Unknown codes are 500.
func ToHTTPStatus(code int) int {
	if status, ok := statuses[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
