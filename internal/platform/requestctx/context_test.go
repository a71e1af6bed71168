package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestValuesRoundTrip(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	ctx = WithActor(ctx, "staff-1")
	ctx = WithTrace(ctx, TraceInfo{TraceID: "abc", ProjectID: "proj"})

	assert.Same(t, logger, Logger(ctx))
	assert.Equal(t, "staff-1", Actor(ctx))
	assert.Equal(t, "abc", TraceID(ctx))
	info, ok := Trace(ctx)
	assert.True(t, ok)
	assert.Equal(t, "projects/proj/traces/abc", info.Resource())
}

func TestMissingValues(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, NoopLogger(), Logger(ctx))
	assert.Same(t, NoopLogger(), Logger(WithLogger(ctx, nil)))
	assert.Empty(t, Actor(ctx))
	assert.Empty(t, TraceID(ctx))
	_, ok := Trace(ctx)
	assert.False(t, ok)
	assert.Empty(t, TraceInfo{TraceID: "abc"}.Resource())
}
