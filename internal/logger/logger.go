package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const (
	TraceIDKey = "trace_id"
	VersionKey = "version"
)

// Options selects level, format and output for a Logger.
type Options struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json or text
	Output     string // stdout, stderr or file
	OutputFile string
}

// Logger wraps logrus with context-aware, key/value logging methods:
//
//	log.Info(ctx, "Job transitioned", "event", "job_transitioned", "job_id", id)
type Logger struct {
	*logrus.Logger
	version string
	file    *os.File
}

// New builds a Logger. The returned cleanup closes the log file, if any.
func New(opts Options) (*Logger, func(), error) {
	l := &Logger{Logger: logrus.New()}

	level, err := logrus.ParseLevel(orDefault(opts.Level, "info"))
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	switch strings.ToLower(opts.Output) {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if opts.OutputFile == "" {
			return nil, nil, fmt.Errorf("logger: output file is required")
		}
		if err := os.MkdirAll(filepath.Dir(opts.OutputFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logger: create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.OutputFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logger: open log file: %w", err)
		}
		l.file = f
		l.SetOutput(f)
	default:
		l.SetOutput(os.Stdout)
	}

	return l, func() {
		if l.file != nil {
			_ = l.file.Close()
		}
	}, nil
}

// NewWriter returns a JSON logger writing to w at debug level. Tests use it
// with a buffer or io.Discard.
func NewWriter(w io.Writer) *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard)
}

func (l *Logger) SetVersion(v string) {
	l.version = v
}

func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Debug(msg)
}

func (l *Logger) Info(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Info(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Warn(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Error(msg)
}

// entry collects the trace ID from ctx, the version and kv pairs into a
// logrus entry. A dangling key is logged under "!BADKEY".
func (l *Logger) entry(ctx context.Context, kv []any) *logrus.Entry {
	fields := logrus.Fields{}

	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			fields[TraceIDKey] = sc.TraceID().String()
		}
	}
	if l.version != "" {
		fields[VersionKey] = l.version
	}

	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok || i+1 == len(kv) {
			fields["!BADKEY"] = kv[i]
			continue
		}
		value := kv[i+1]
		if err, isErr := value.(error); isErr {
			value = err.Error()
		}
		fields[key] = value
	}

	return l.WithFields(fields)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
