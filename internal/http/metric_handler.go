package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/karprabha/snowjob-backend/internal/logger"
	"github.com/karprabha/snowjob-backend/internal/store"
)

type MetricHandler struct {
	metricStore store.MetricStore
	log         *logger.Logger
}

func NewMetricHandler(metricStore store.MetricStore, log *logger.Logger) *MetricHandler {
	return &MetricHandler{metricStore: metricStore, log: log}
}

type MetricResponse struct {
	TotalJobsCreated   int `json:"total_jobs_created"`
	TransitionsApplied int `json:"transitions_applied"`
	StaleConflicts     int `json:"stale_conflicts"`
	HoldsPlaced        int `json:"holds_placed"`
	HoldsFailed        int `json:"holds_failed"`
	CapturesSucceeded  int `json:"captures_succeeded"`
	CapturesFailed     int `json:"captures_failed"`
	RefundsSucceeded   int `json:"refunds_succeeded"`
	RefundsFailed      int `json:"refunds_failed"`
	Reconciled         int `json:"reconciled"`
}

func (h *MetricHandler) GetMetrics(c *gin.Context) {
	metrics, err := h.metricStore.GetMetrics(c.Request.Context())
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, MetricResponse{
		TotalJobsCreated:   metrics.TotalJobsCreated,
		TransitionsApplied: metrics.TransitionsApplied,
		StaleConflicts:     metrics.StaleConflicts,
		HoldsPlaced:        metrics.HoldsPlaced,
		HoldsFailed:        metrics.HoldsFailed,
		CapturesSucceeded:  metrics.CapturesSucceeded,
		CapturesFailed:     metrics.CapturesFailed,
		RefundsSucceeded:   metrics.RefundsSucceeded,
		RefundsFailed:      metrics.RefundsFailed,
		Reconciled:         metrics.Reconciled,
	})
}
