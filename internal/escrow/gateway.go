// Package escrow sequences calls to the payment processor so that held
// funds move in lock-step with the job lifecycle.
package escrow

import (
	"context"

	"github.com/shopspring/decimal"
)

// HoldRequest asks the processor to reserve Amount. The processor must
// return the same reference for a repeated IdempotencyKey.
type HoldRequest struct {
	JobID          string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Gateway is the payment processor capability. Capture and Refund are
// idempotent per reference: repeating a successful call is not an error.
type Gateway interface {
	CreateHold(ctx context.Context, req HoldRequest) (string, error)
	Capture(ctx context.Context, reference string) error
	Refund(ctx context.Context, reference string) error
}
