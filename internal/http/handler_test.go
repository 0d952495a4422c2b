package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karprabha/snowjob-backend/internal/audit"
	"github.com/karprabha/snowjob-backend/internal/clock"
	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/ecode"
	"github.com/karprabha/snowjob-backend/internal/escrow"
	"github.com/karprabha/snowjob-backend/internal/service"
	"github.com/karprabha/snowjob-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	clientActor   = map[string]string{"id": "client-1", "role": "client"}
	operatorActor = map[string]string{"id": "operator-1", "role": "operator"}
)

type stubLimiter struct{ allow bool }

func (l stubLimiter) Allow() bool { return l.allow }

type testServer struct {
	router  *gin.Engine
	gateway *escrow.SandboxGateway
	clock   *clock.FakeClock
}

func newTestServer(t *testing.T, limiter Limiter) *testServer {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 1, 20, 7, 0, 0, 0, time.UTC))
	gateway := escrow.NewSandboxGateway()
	svc := service.New(
		store.NewInMemoryJobStore(),
		escrow.NewCoordinator(gateway, time.Second, fake),
		audit.NewMessenger(audit.NewInMemorySink()),
		service.WithClock(fake),
	)
	return &testServer{
		router:  NewRouter(svc, RouterOptions{Limiter: limiter, Clock: fake}),
		gateway: gateway,
		clock:   fake,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createJob(t *testing.T) domain.Job {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/jobs", map[string]any{
		"client_id":   "client-1",
		"operator_id": "operator-1",
		"price":       "45.00",
		"address":     "12 Elm Street",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func (s *testServer) transition(t *testing.T, jobID, target string, actor map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/jobs/"+jobID+"/transitions", map[string]any{"target": target, "actor": actor})
}

func decodeException(t *testing.T, rec *httptest.ResponseRecorder) Exception {
	t.Helper()
	var ex Exception
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex), rec.Body.String())
	return ex
}

func TestHealthCheckHandler(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateJob(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, "45.00 USD", job.Amount())
	assert.Equal(t, int64(1), job.Version)
}

func TestCreateJobRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name     string
		body     any
		status   int
		code     int
		errField string
	}{
		{"malformed json", `{"client_id":`, http.StatusBadRequest, ecode.RequestErr, ""},
		{"missing operator", map[string]any{"client_id": "c", "price": "10"}, http.StatusBadRequest, ecode.ParamErr, "operator_id"},
		{"bad currency", map[string]any{"client_id": "c", "operator_id": "o", "price": "10", "currency": "usd"}, http.StatusBadRequest, ecode.ParamErr, "currency"},
		{"zero price", map[string]any{"client_id": "c", "operator_id": "o", "price": "0"}, http.StatusBadRequest, ecode.InvalidPrice, ""},
		{"sub-cent price", map[string]any{"client_id": "c", "operator_id": "o", "price": "0.004"}, http.StatusBadRequest, ecode.InvalidPrice, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			ex := decodeException(t, rec)
			assert.Equal(t, tt.code, ex.Code)
			if tt.errField != "" {
				assert.Contains(t, ex.Errors, tt.errField)
			}
		})
	}
}

func TestCreateJobBodyTooLarge(t *testing.T) {
	s := newTestServer(t, nil)
	body := fmt.Sprintf(`{"client_id":"c","operator_id":"o","price":"10","notes":%q}`, strings.Repeat("x", maxBodyBytes))

	rec := s.do(t, http.MethodPost, "/jobs", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, ecode.TooLarge, decodeException(t, rec).Code)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/jobs/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ecode.NothingFound, decodeException(t, rec).Code)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)

	rec := s.transition(t, job.ID, "accepted", operatorActor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/payment", map[string]any{"actor": clientActor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var held domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &held))
	assert.Equal(t, domain.PaymentHeld, held.PaymentStatus)

	s.transition(t, job.ID, "en-route", operatorActor)
	s.transition(t, job.ID, "in-progress", operatorActor)

	rec = s.transition(t, job.ID, "completed", operatorActor)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ecode.ArtifactRequired, decodeException(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/artifact", map[string]any{"artifact_ref": "photos/after.jpg", "actor": operatorActor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.transition(t, job.ID, "completed", operatorActor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out TransitionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, domain.StatusCompleted, out.Job.Status)
	assert.Equal(t, domain.PaymentPaid, out.Job.PaymentStatus)
	assert.Nil(t, out.PaymentError)

	rec = s.do(t, http.MethodGet, "/jobs/"+job.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 8)
	assert.Equal(t, domain.AuditPaymentCaptured, entries[7].Kind)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m MetricResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 1, m.TotalJobsCreated)
	assert.Equal(t, 1, m.HoldsPlaced)
	assert.Equal(t, 1, m.CapturesSucceeded)
	assert.Equal(t, 4, m.TransitionsApplied)
}

func TestTransitionErrors(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)

	rec := s.transition(t, job.ID, "accepted", clientActor)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ecode.AccessDenied, decodeException(t, rec).Code)

	rec = s.transition(t, job.ID, "completed", operatorActor)
	assert.Equal(t, http.StatusConflict, rec.Code)
	ex := decodeException(t, rec)
	assert.Equal(t, ecode.InvalidTransition, ex.Code)
	assert.Equal(t, map[string]any{"from": "pending", "to": "completed", "role": "operator"}, ex.Errors)

	rec = s.transition(t, job.ID, "finished", operatorActor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeException(t, rec).Errors, "target")

	rec = s.transition(t, job.ID, "accepted", map[string]string{"id": "operator-1", "role": "boss"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeException(t, rec).Errors, "actor.role")
}

func TestRefundFailureReportedAlongsideTransition(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)
	s.transition(t, job.ID, "accepted", operatorActor)
	s.do(t, http.MethodPost, "/jobs/"+job.ID+"/payment", map[string]any{"actor": clientActor})

	s.gateway.FailNext(escrow.OpRefund, 1)
	rec := s.transition(t, job.ID, "cancelled", operatorActor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out TransitionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, domain.StatusCancelled, out.Job.Status)
	assert.Equal(t, domain.PaymentHeld, out.Job.PaymentStatus)
	require.NotNil(t, out.PaymentError)
	assert.Equal(t, ecode.RefundFailed, out.PaymentError.Code)
	assert.True(t, out.PaymentError.Retryable)
}

func TestTransitionAgainstObservedVersion(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)

	rec := s.transition(t, job.ID, "accepted", operatorActor)
	require.Equal(t, http.StatusOK, rec.Code)
	var accepted TransitionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	s.transition(t, job.ID, "en-route", operatorActor)
	s.transition(t, job.ID, "in-progress", operatorActor)

	rec = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/transitions", map[string]any{
		"target":           "cancelled",
		"expected_version": accepted.Job.Version,
		"actor":            clientActor,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	ex := decodeException(t, rec)
	assert.Equal(t, ecode.StaleState, ex.Code)
	assert.True(t, ex.Retryable)

	rec = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/payment", map[string]any{
		"expected_status": "accepted",
		"actor":           clientActor,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ecode.StaleState, decodeException(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/transitions", map[string]any{
		"target":           "cancelled",
		"expected_version": -1,
		"expected_status":  "finished",
		"actor":            clientActor,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decodeException(t, rec).Errors
	assert.Contains(t, errs, "expected_version")
	assert.Contains(t, errs, "expected_status")

	rec = s.do(t, http.MethodGet, "/jobs/"+job.ID, nil)
	var current domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, domain.StatusInProgress, current.Status)

	rec = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/transitions", map[string]any{
		"target":           "cancelled",
		"expected_version": current.Version,
		"expected_status":  "in-progress",
		"actor":            clientActor,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestReopenWindow(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)
	s.transition(t, job.ID, "cancelled", clientActor)

	rec := s.do(t, http.MethodGet, "/jobs/"+job.ID+"/reopen-window", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reopenable":true,"remaining_seconds":300}`, rec.Body.String())

	at := s.clock.Now().Add(5 * time.Minute).Format(time.RFC3339)
	rec = s.do(t, http.MethodGet, "/jobs/"+job.ID+"/reopen-window?at="+at, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reopenable":false,"remaining_seconds":0}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/jobs/"+job.ID+"/reopen-window?at=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActions(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)

	rec := s.do(t, http.MethodGet, "/jobs/"+job.ID+"/actions?actor_id=operator-1&role=operator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var actions service.Actions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actions))
	assert.Equal(t, []domain.JobStatus{domain.StatusAccepted, domain.StatusCancelled}, actions.Targets)

	rec = s.do(t, http.MethodGet, "/jobs/"+job.ID+"/actions?actor_id=operator-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReassignAndPrice(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.createJob(t)

	rec := s.do(t, http.MethodPost, "/jobs/"+job.ID+"/reassign", map[string]any{
		"operator_id":   "operator-2",
		"operator_name": "Robin",
		"actor":         map[string]string{"id": "admin-1", "role": "admin"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/jobs/"+job.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "This job has been reassigned to Robin", entries[1].Message)

	rec = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/price", map[string]any{"price": "60", "actor": clientActor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var repriced domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repriced))
	assert.Equal(t, "operator-2", repriced.OperatorID)
	assert.Equal(t, "60.00 USD", repriced.Amount())

	rec = s.do(t, http.MethodGet, "/operators/operator-2/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []service.OperatorJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, job.ID, listed[0].ID)

	rec = s.do(t, http.MethodGet, "/operators/operator-1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRateLimitedWrites(t *testing.T) {
	s := newTestServer(t, stubLimiter{allow: false})

	rec := s.do(t, http.MethodPost, "/jobs", map[string]any{"client_id": "c", "operator_id": "o", "price": "10"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ecode.TooMany, decodeException(t, rec).Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load: %w", domain.ErrJobNotFound), ecode.NothingFound},
		{&domain.TransitionError{Err: domain.ErrStaleState}, ecode.StaleState},
		{&domain.TransitionError{Err: domain.ErrUnauthorized}, ecode.AccessDenied},
		{&domain.PaymentError{Err: domain.ErrPaymentFailed, Cause: domain.ErrGatewayTimeout}, ecode.PaymentFailed},
		{&domain.PaymentError{Err: domain.ErrCaptureFailed}, ecode.CaptureFailed},
		{domain.ErrInvalidTransition, ecode.InvalidTransition},
		{errors.New("boom"), ecode.ServerErr},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
}
