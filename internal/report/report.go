// Package report sends errors that need a human to an error tracker.
package report

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/karprabha/snowjob-backend/internal/logger"
)

// Reporter records an error with searchable tags.
type Reporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

// LogReporter writes reports to the log. It is the fallback when no
// error tracker is configured.
type LogReporter struct {
	log *logger.Logger
}

func NewLogReporter(log *logger.Logger) *LogReporter {
	return &LogReporter{log: log}
}

func (r *LogReporter) Report(ctx context.Context, err error, tags map[string]string) {
	kv := []any{"event", "error_reported", "error", err}
	for k, v := range tags {
		kv = append(kv, k, v)
	}
	r.log.Error(ctx, "Error reported", kv...)
}

type SentryOptions struct {
	DSN         string
	ServerName  string
	Release     string
	Environment string
}

// SentryReporter captures errors on a Sentry hub.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentry initialises the Sentry client and returns a reporter bound to
// the current hub.
func NewSentry(opts SentryOptions) (*SentryReporter, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		AttachStacktrace: true,
		ServerName:       opts.ServerName,
		Release:          opts.Release,
		Environment:      opts.Environment,
	})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.CurrentHub()}, nil
}

// NewSentryWithHub wraps an existing hub.
func NewSentryWithHub(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

func (r *SentryReporter) Report(_ context.Context, err error, tags map[string]string) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Multi reports to every reporter.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, err error, tags map[string]string) {
	for _, r := range m {
		r.Report(ctx, err, tags)
	}
}
