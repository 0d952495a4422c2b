package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/karprabha/snowjob-backend/internal/clock"
	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/ecode"
	"github.com/karprabha/snowjob-backend/internal/logger"
	"github.com/karprabha/snowjob-backend/internal/service"
)

type ActorRequest struct {
	ID   string `json:"id" form:"actor_id" validate:"required,max=128"`
	Role string `json:"role" form:"role" validate:"required,oneof=client operator admin"`
	Name string `json:"name" form:"actor_name" validate:"max=128"`
}

func (a ActorRequest) actor() domain.Actor {
	return domain.Actor{ID: a.ID, Role: domain.Role(a.Role), Name: a.Name}
}

type CreateJobRequest struct {
	ClientID     string          `json:"client_id" validate:"required,max=128"`
	OperatorID   string          `json:"operator_id" validate:"required,max=128"`
	OperatorName string          `json:"operator_name" validate:"max=128"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	Address      string          `json:"address" validate:"max=500"`
	Notes        string          `json:"notes" validate:"max=2000"`
}

// TransitionRequest may carry the version and status of the job as the
// caller last saw it. A job that has moved on since is rejected as stale
// instead of being changed behind the caller's back.
type TransitionRequest struct {
	Target          string       `json:"target" validate:"required,oneof=pending accepted en-route in-progress completed cancelled"`
	ExpectedVersion int64        `json:"expected_version" validate:"gte=0"`
	ExpectedStatus  string       `json:"expected_status" validate:"omitempty,oneof=pending accepted en-route in-progress completed cancelled"`
	Actor           ActorRequest `json:"actor"`
}

func (r TransitionRequest) expectations() []service.Expectation {
	return expectations(r.ExpectedVersion, r.ExpectedStatus)
}

type PaymentRequest struct {
	ExpectedVersion int64        `json:"expected_version" validate:"gte=0"`
	ExpectedStatus  string       `json:"expected_status" validate:"omitempty,oneof=accepted en-route in-progress"`
	Actor           ActorRequest `json:"actor"`
}

func (r PaymentRequest) expectations() []service.Expectation {
	return expectations(r.ExpectedVersion, r.ExpectedStatus)
}

func expectations(version int64, status string) []service.Expectation {
	return []service.Expectation{
		service.ExpectVersion(version),
		service.ExpectStatus(domain.JobStatus(status)),
	}
}

type ArtifactRequest struct {
	ArtifactRef string       `json:"artifact_ref" validate:"required,max=1024"`
	Actor       ActorRequest `json:"actor"`
}

type ReassignRequest struct {
	OperatorID   string       `json:"operator_id" validate:"required,max=128"`
	OperatorName string       `json:"operator_name" validate:"max=128"`
	Actor        ActorRequest `json:"actor"`
}

type PriceRequest struct {
	Price decimal.Decimal `json:"price"`
	Actor ActorRequest    `json:"actor"`
}

type TransitionResponse struct {
	Job          domain.Job    `json:"job"`
	PaymentError *paymentError `json:"payment_error,omitempty"`
}

type ReopenWindowResponse struct {
	Reopenable       bool    `json:"reopenable"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

type JobHandler struct {
	svc   *service.Service
	clock clock.Clock
	log   *logger.Logger
}

func NewJobHandler(svc *service.Service, c clock.Clock, log *logger.Logger) *JobHandler {
	return &JobHandler{svc: svc, clock: c, log: log}
}

// bind decodes the JSON body into req and validates it. It writes the
// error response itself and reports whether the handler may continue.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(c, ecode.TooLarge, "")
			return false
		}
		ErrorResponse(c, ecode.RequestErr, "Failed to parse request body")
		return false
	}
	if errs := ValidateStruct(req); errs != nil {
		ErrorResponse(c, ecode.ParamErr, "", errs)
		return false
	}
	return true
}

func (h *JobHandler) Create(c *gin.Context) {
	var req CreateJobRequest
	if !bind(c, &req) {
		return
	}

	job, err := h.svc.CreateJob(c.Request.Context(), domain.Booking{
		ClientID:     req.ClientID,
		OperatorID:   req.OperatorID,
		OperatorName: req.OperatorName,
		Price:        req.Price,
		Currency:     req.Currency,
		Address:      req.Address,
		Notes:        req.Notes,
	})
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.svc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) Transition(c *gin.Context) {
	var req TransitionRequest
	if !bind(c, &req) {
		return
	}

	out, err := h.svc.RequestTransition(c.Request.Context(), c.Param("id"), domain.JobStatus(req.Target), req.Actor.actor(), req.expectations()...)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, TransitionResponse{Job: out.Job, PaymentError: newPaymentError(out.PaymentErr)})
}

func (h *JobHandler) ConfirmPayment(c *gin.Context) {
	var req PaymentRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.ConfirmPayment(c.Request.Context(), c.Param("id"), req.Actor.actor(), req.expectations()...))
}

func (h *JobHandler) AttachArtifact(c *gin.Context) {
	var req ArtifactRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.AttachCompletionArtifact(c.Request.Context(), c.Param("id"), req.ArtifactRef, req.Actor.actor()))
}

func (h *JobHandler) Reassign(c *gin.Context) {
	var req ReassignRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.ReassignOperator(c.Request.Context(), c.Param("id"),
		domain.Actor{ID: req.OperatorID, Name: req.OperatorName}, req.Actor.actor()))
}

func (h *JobHandler) UpdatePrice(c *gin.Context) {
	var req PriceRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.svc.UpdatePrice(c.Request.Context(), c.Param("id"), req.Price, req.Actor.actor()))
}

// ReopenWindow reports how long the job can still be reopened, measured at
// the optional RFC 3339 "at" query parameter or now.
func (h *JobHandler) ReopenWindow(c *gin.Context) {
	at := h.clock.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ErrorResponse(c, ecode.ParamErr, "", map[string]string{"at": "The field 'at' must be an RFC 3339 time."})
			return
		}
		at = parsed
	}

	remaining, err := h.svc.GetReopenWindow(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, ReopenWindowResponse{
		Reopenable:       remaining > 0,
		RemainingSeconds: remaining.Seconds(),
	})
}

func (h *JobHandler) Actions(c *gin.Context) {
	var req ActorRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		ErrorResponse(c, ecode.RequestErr, "")
		return
	}
	if errs := ValidateStruct(&req); errs != nil {
		ErrorResponse(c, ecode.ParamErr, "", errs)
		return
	}

	actions, err := h.svc.AvailableActions(c.Request.Context(), c.Param("id"), req.actor())
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (h *JobHandler) Audit(c *gin.Context) {
	entries, err := h.svc.ListAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *JobHandler) ListForOperator(c *gin.Context) {
	jobs, err := h.svc.ListOperatorJobs(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if jobs == nil {
		jobs = []service.OperatorJob{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) respond(c *gin.Context) func(domain.Job, error) {
	return func(job domain.Job, err error) {
		if err != nil {
			failWith(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
