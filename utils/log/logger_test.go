package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCtx_AddsContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := logger
	SetLogger(zap.New(core))
	t.Cleanup(func() { logger = prev })

	ctx := WithSessionID(context.Background(), "s-1")
	ctx = WithUserID(ctx, "u-1")
	ctx = WithRoute(ctx, "chat")
	WithCtx(ctx).Info("turn started")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "s-1", fields["session_id"])
		assert.Equal(t, "u-1", fields["user_id"])
		assert.Equal(t, "chat", fields["route"])
		assert.NotContains(t, fields, "request_id")
	}
}

func TestSetLogger_IgnoresNil(t *testing.T) {
	prev := logger
	SetLogger(nil)
	assert.Same(t, prev, logger)
}
