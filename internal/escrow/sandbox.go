package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/shopspring/decimal"
)

type Operation string

const (
	OpHold    Operation = "hold"
	OpCapture Operation = "capture"
	OpRefund  Operation = "refund"
)

var (
	ErrDeclined       = errors.New("sandbox: declined")
	ErrUnknownHold    = errors.New("sandbox: unknown hold")
	ErrHoldNotCapture = errors.New("sandbox: hold already refunded")
	ErrHoldNotRefund  = errors.New("sandbox: hold already captured")
)

type holdState string

const (
	holdActive   holdState = "held"
	holdCaptured holdState = "captured"
	holdRefunded holdState = "refunded"
)

type sandboxHold struct {
	amount   decimal.Decimal
	currency string
	state    holdState
}

// SandboxGateway is an in-process payment processor used in development
// and tests. It honours idempotency keys and can be told to fail or stall.
type SandboxGateway struct {
	mu       sync.Mutex
	holds    map[string]*sandboxHold
	keys     map[string]string
	failures map[Operation]int
	latency  time.Duration
	calls    map[Operation]int
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		holds:    make(map[string]*sandboxHold),
		keys:     make(map[string]string),
		failures: make(map[Operation]int),
		calls:    make(map[Operation]int),
	}
}

// FailNext makes the next n calls of op fail with ErrDeclined.
func (g *SandboxGateway) FailNext(op Operation, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = n
}

// SetLatency delays every call by d, or until the caller's context ends.
func (g *SandboxGateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

func (g *SandboxGateway) Calls(op Operation) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// State returns the processor-side state of a hold ("held", "captured",
// "refunded"), or "" when unknown.
func (g *SandboxGateway) State(reference string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holds[reference]; ok {
		return string(h.state)
	}
	return ""
}

func (g *SandboxGateway) begin(ctx context.Context, op Operation) error {
	g.mu.Lock()
	g.calls[op]++
	latency := g.latency
	fail := g.failures[op] > 0
	if fail {
		g.failures[op]--
	}
	g.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return ErrDeclined
	}
	return nil
}

func (g *SandboxGateway) CreateHold(ctx context.Context, req HoldRequest) (string, error) {
	if err := g.begin(ctx, OpHold); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("sandbox: invalid amount %s", req.Amount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, ok := g.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return ref, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	ref := "hold_" + id
	g.holds[ref] = &sandboxHold{amount: req.Amount, currency: req.Currency, state: holdActive}
	if req.IdempotencyKey != "" {
		g.keys[req.IdempotencyKey] = ref
	}
	return ref, nil
}

func (g *SandboxGateway) Capture(ctx context.Context, reference string) error {
	if err := g.begin(ctx, OpCapture); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.holds[reference]
	if !ok {
		return ErrUnknownHold
	}
	switch h.state {
	case holdRefunded:
		return ErrHoldNotCapture
	case holdActive:
		h.state = holdCaptured
	}
	return nil
}

func (g *SandboxGateway) Refund(ctx context.Context, reference string) error {
	if err := g.begin(ctx, OpRefund); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.holds[reference]
	if !ok {
		return ErrUnknownHold
	}
	switch h.state {
	case holdCaptured:
		return ErrHoldNotRefund
	case holdActive:
		h.state = holdRefunded
	}
	return nil
}
