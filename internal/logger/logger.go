// Package logger provides the structured, leveled logging used across
// the frontend: a thin wrapper around logrus that attaches per-request
// fields from the context.
package logger

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKeyFields struct{}

// Fields is a set of structured key/value pairs attached to a request.
type Fields map[string]interface{}

var (
	base     = logrus.New()
	baseOnce sync.Once
)

// Init configures the process-wide logger. Safe to call once at startup;
// subsequent calls are no-ops.
func Init(level logrus.Level, out io.Writer, jsonFormat bool) {
	baseOnce.Do(func() {
		if out == nil {
			out = os.Stderr
		}
		base.SetOutput(out)
		base.SetLevel(level)
		if jsonFormat {
			base.SetFormatter(&logrus.JSONFormatter{})
		} else {
			base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
	})
}

// WithFields returns a context carrying additional structured fields,
// merged with any fields already present on ctx.
func WithFields(ctx context.Context, f Fields) context.Context {
	merged := Fields{}
	if existing, ok := ctx.Value(ctxKeyFields{}).(Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range f {
		merged[k] = v
	}
	return context.WithValue(ctx, ctxKeyFields{}, merged)
}

func entry(ctx context.Context) *logrus.Entry {
	if f, ok := ctx.Value(ctxKeyFields{}).(Fields); ok {
		return base.WithFields(logrus.Fields(f))
	}
	return logrus.NewEntry(base)
}

// Info logs an informational message with any fields attached to ctx.
func Info(ctx context.Context, msg string) {
	entry(ctx).Info(msg)
}

// Infof logs a formatted informational message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Infof(format, args...)
}

// Error logs err alongside msg: the root cause is always recorded but
// never propagated as a panic.
func Error(ctx context.Context, msg string, err error) {
	if err == nil {
		entry(ctx).Error(msg)
		return
	}
	entry(ctx).WithError(err).Error(msg)
}

// LogIf logs err if non-nil and returns it unchanged, so call sites can
// wrap an error-returning expression without an extra branch.
func LogIf(ctx context.Context, err error) error {
	if err != nil {
		entry(ctx).WithError(err).Error("operation failed")
	}
	return err
}

// Fatal logs msg and err and terminates the process. Reserved for startup
// failures only; the request path never calls this.
func Fatal(ctx context.Context, msg string, err error) {
	entry(ctx).WithError(err).Fatal(msg)
}
