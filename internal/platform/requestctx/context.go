// Package requestctx carries per-request values (logger, trace and actor) through context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// key is unexported so that only this package can read or write the slots; the type
// parameter keeps slots of different value types apart.
type key[T any] struct{ name string }

var (
	loggerKey = key[*zap.Logger]{"logger"}
	traceKey  = key[TraceInfo]{"trace"}
	actorKey  = key[string]{"actor"}
)

func store[T any](ctx context.Context, k key[T], v T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, v)
}

func load[T any](ctx context.Context, k key[T]) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	return v, ok
}

var noopLogger = zap.NewNop()

// TraceInfo is the trace metadata extracted from the incoming request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Resource formats the Cloud Logging trace resource name, or "" when either the
// project or the trace id is unknown.
func (t TraceInfo) Resource() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return "projects/" + t.ProjectID + "/traces/" + t.TraceID
}

// WithLogger stores logger; nil stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return store(ctx, loggerKey, logger)
}

// Logger returns the request logger or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := load(ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared no-op logger.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return store(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return load(ctx, traceKey)
}

// TraceID is a shortcut for Trace(ctx).TraceID.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithActor records the staff member or system acting on the request.
func WithActor(ctx context.Context, actor string) context.Context {
	return store(ctx, actorKey, actor)
}

// Actor returns the acting reference, or "" when none was recorded.
func Actor(ctx context.Context) string {
	actor, _ := load(ctx, actorKey)
	return actor
}
