package ecode

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{InvalidTransition, http.StatusConflict},
		{StaleState, http.StatusConflict},
		{AccessDenied, http.StatusForbidden},
		{PaymentFailed, http.StatusPaymentRequired},
		{NothingFound, http.StatusNotFound},
		{ParamErr, http.StatusBadRequest},
		{TooMany, http.StatusTooManyRequests},
		{-99999, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToHTTPStatus(tt.code), "code %d", tt.code)
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, "The job changed, reload and try again", Text(StaleState))
	assert.Equal(t, Text(ServerErr), Text(42))
}
