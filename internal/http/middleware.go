package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/karprabha/snowjob-backend/internal/ecode"
	"github.com/karprabha/snowjob-backend/internal/logger"
)

const maxBodyBytes = 1024 * 1024 // 1MB max

// Limiter is satisfied by ratelimiter.BurstyLimiter.
type Limiter interface {
	Allow() bool
}

func rateLimit(l Limiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow() {
			c.Next()
			return
		}
		log.Warn(c.Request.Context(), "Rate limited", "event", "rate_limited", "path", c.FullPath(), "ip", c.ClientIP())
		c.Header("Retry-After", "1")
		ErrorResponse(c, ecode.TooMany, "")
	}
}

func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info(c.Request.Context(), "HTTP request",
			"event", "http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP())
	}
}
