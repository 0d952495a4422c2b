package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPGatewayConfig describes how to reach the payment processor.
type HTTPGatewayConfig struct {
	BaseURL string
	APIKey  string
	// BreakerFailureRatio trips the breaker once at least
	// BreakerMinRequests calls in an interval failed at this ratio.
	BreakerFailureRatio float64
	BreakerMinRequests  uint32
	BreakerOpenTimeout  time.Duration
}

// HTTPGateway talks JSON to the processor. Every call goes through a
// circuit breaker so a struggling processor fails fast instead of tying
// up request goroutines; callers see the failure and retry later.
type HTTPGateway struct {
	base    *url.URL
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type holdBody struct {
	JobID    string `json:"job_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type holdResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// StatusError is returned for non-2xx processor responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("escrow gateway: status %d: %s", e.StatusCode, e.Message)
}

func NewHTTPGateway(cfg HTTPGatewayConfig, client *http.Client) (*HTTPGateway, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("escrow gateway: invalid base url %q", cfg.BaseURL)
	}
	if client == nil {
		client = &http.Client{}
	}

	ratio := cfg.BreakerFailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	minRequests := cfg.BreakerMinRequests
	if minRequests == 0 {
		minRequests = 3
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "escrow-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
	})

	return &HTTPGateway{base: base, apiKey: cfg.APIKey, client: client, breaker: breaker}, nil
}

func (g *HTTPGateway) CreateHold(ctx context.Context, req HoldRequest) (string, error) {
	body := holdBody{JobID: req.JobID, Amount: req.Amount.String(), Currency: req.Currency}

	var resp holdResponse
	if err := g.do(ctx, "/holds", req.IdempotencyKey, body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (g *HTTPGateway) Capture(ctx context.Context, reference string) error {
	return g.do(ctx, "/holds/"+url.PathEscape(reference)+"/capture", reference+":capture", nil, nil)
}

func (g *HTTPGateway) Refund(ctx context.Context, reference string) error {
	return g.do(ctx, "/holds/"+url.PathEscape(reference)+"/refund", reference+":refund", nil, nil)
}

func (g *HTTPGateway) do(ctx context.Context, path, idempotencyKey string, in, out any) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.post(ctx, path, idempotencyKey, in, out)
	})
	return err
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	var payload io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("escrow gateway: marshal request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	endpoint := g.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), payload)
	if err != nil {
		return fmt.Errorf("escrow gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("escrow gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("escrow gateway: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if jsonErr := json.Unmarshal(raw, &e); jsonErr != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Message}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("escrow gateway: decode response: %w", err)
		}
	}
	return nil
}
