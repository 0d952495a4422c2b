package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/karprabha/snowjob-backend/internal/clock"
	"github.com/karprabha/snowjob-backend/internal/logger"
	"github.com/karprabha/snowjob-backend/internal/service"
)

type HealthCheckResponse struct {
	Status string `json:"status"`
}

func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthCheckResponse{Status: "ok"})
}

type RouterOptions struct {
	// Limiter throttles mutating routes. Nil disables throttling.
	Limiter Limiter
	Logger  *logger.Logger
	Clock   clock.Clock
}

func NewRouter(svc *service.Service, opts RouterOptions) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	jobs := NewJobHandler(svc, opts.Clock, opts.Logger)
	metrics := NewMetricHandler(svc.Metrics(), opts.Logger)

	router.GET("/health", HealthCheckHandler)
	router.GET("/metrics", metrics.GetMetrics)

	router.GET("/jobs/:id", jobs.Get)
	router.GET("/jobs/:id/reopen-window", jobs.ReopenWindow)
	router.GET("/jobs/:id/actions", jobs.Actions)
	router.GET("/jobs/:id/audit", jobs.Audit)
	router.GET("/operators/:id/jobs", jobs.ListForOperator)

	writes := router.Group("/", limitBody())
	if opts.Limiter != nil {
		writes.Use(rateLimit(opts.Limiter, opts.Logger))
	}
	writes.POST("/jobs", jobs.Create)
	writes.POST("/jobs/:id/transitions", jobs.Transition)
	writes.POST("/jobs/:id/payment", jobs.ConfirmPayment)
	writes.POST("/jobs/:id/artifact", jobs.AttachArtifact)
	writes.POST("/jobs/:id/reassign", jobs.Reassign)
	writes.POST("/jobs/:id/price", jobs.UpdatePrice)

	return router
}
