package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusAccepted   JobStatus = "accepted"
	StatusEnRoute    JobStatus = "en-route"
	StatusInProgress JobStatus = "in-progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
)

// Statuses lists every job status in lifecycle order.
var Statuses = []JobStatus{
	StatusPending,
	StatusAccepted,
	StatusEnRoute,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

func (s JobStatus) Valid() bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentHeld     PaymentStatus = "held"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

const DefaultCurrency = "USD"

// PriceScale is the number of decimal places a price may carry. Amounts
// are rendered and stored in postgres at this scale.
const PriceScale = 2

// ValidatePrice rejects prices that are not positive or that carry more
// decimal places than PriceScale, since those would be rounded on display
// and on save.
func ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() || !price.Equal(price.Truncate(PriceScale)) {
		return ErrInvalidPrice
	}
	return nil
}

// Job is one snow-removal service request. Version is bumped by every
// successful save and is the optimistic-concurrency token.
type Job struct {
	ID                 string          `json:"id"`
	ClientID           string          `json:"client_id"`
	OperatorID         string          `json:"operator_id"`
	OperatorName       string          `json:"operator_name,omitempty"`
	Status             JobStatus       `json:"status"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	Price              decimal.Decimal `json:"price"`
	Currency           string          `json:"currency"`
	Address            string          `json:"address,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	EscrowReference    string          `json:"escrow_reference,omitempty"`
	CompletionArtifact string          `json:"completion_artifact,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancelledBy        string          `json:"cancelled_by,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	ReopenCount        int             `json:"reopen_count"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Booking carries what a client supplies when booking a job.
type Booking struct {
	ClientID     string
	OperatorID   string
	OperatorName string
	Price        decimal.Decimal
	Currency     string
	Address      string
	Notes        string
}

func NewJob(booking Booking, now time.Time) *Job {
	currency := booking.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	job := &Job{
		ID:            uuid.New().String(),
		ClientID:      booking.ClientID,
		OperatorID:    booking.OperatorID,
		OperatorName:  booking.OperatorName,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Price:         booking.Price,
		Currency:      currency,
		Address:       booking.Address,
		Notes:         booking.Notes,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}

	return job
}

// Clone returns a deep copy so callers can mutate a snapshot without
// touching the stored one.
func (j Job) Clone() Job {
	c := j
	if j.CancelledAt != nil {
		t := *j.CancelledAt
		c.CancelledAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// NeedsReconciliation reports whether the job's status has moved on but
// the held funds were neither captured nor refunded.
func (j Job) NeedsReconciliation() bool {
	if j.PaymentStatus != PaymentHeld {
		return false
	}
	return j.Status == StatusCompleted || j.Status == StatusCancelled
}

// Amount renders the price with its currency, e.g. "45.00 USD".
func (j Job) Amount() string {
	return j.Price.StringFixed(PriceScale) + " " + j.Currency
}

// Operator returns the assigned operator as an actor, named when the
// booking or the last reassignment supplied a name.
func (j Job) Operator() Actor {
	return Actor{ID: j.OperatorID, Role: RoleOperator, Name: j.OperatorName}
}
