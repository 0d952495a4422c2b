package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karprabha/snowjob-backend/internal/logger"
)

type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *captureTransport) Configure(sentry.ClientOptions) {}
func (t *captureTransport) SendEvent(e *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}
func (t *captureTransport) Flush(time.Duration) bool              { return true }
func (t *captureTransport) FlushWithContext(context.Context) bool { return true }
func (t *captureTransport) Close()                                {}

func TestSentryReporterTagsEvent(t *testing.T) {
	transport := &captureTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{Transport: transport})
	require.NoError(t, err)

	r := NewSentryWithHub(sentry.NewHub(client, sentry.NewScope()))
	r.Report(context.Background(), errors.New("capture failed"), map[string]string{"job_id": "job-1"})

	require.Len(t, transport.events, 1)
	assert.Equal(t, "job-1", transport.events[0].Tags["job_id"])
	require.NotEmpty(t, transport.events[0].Exception)
	assert.Equal(t, "capture failed", transport.events[0].Exception[0].Value)
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	Multi{NewLogReporter(logger.NewWriter(&buf))}.Report(context.Background(), errors.New("boom"), map[string]string{"job_id": "job-1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "job-1", line["job_id"])
}
