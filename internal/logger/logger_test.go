package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf)
	log.SetVersion("1.2.3")

	log.Error(context.Background(), "Capture failed", "event", "capture_failed", "job_id", "job-1", "error", errors.New("boom"))

	line := decodeLine(t, &buf)
	assert.Equal(t, "Capture failed", line["msg"])
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "capture_failed", line["event"])
	assert.Equal(t, "job-1", line["job_id"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "1.2.3", line[VersionKey])
	assert.NotContains(t, line, TraceIDKey)
}

func TestDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Info(context.Background(), "odd", "event")

	line := decodeLine(t, &buf)
	assert.Equal(t, "event", line["!BADKEY"])
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "snowjob.log")

	log, cleanup, err := New(Options{Level: "debug", Format: "text", Output: "file", OutputFile: path})
	require.NoError(t, err)
	defer cleanup()

	log.Debug(context.Background(), "hello")
	assert.FileExists(t, path)
}
