package log

import (
	"context"
	"os"

	"go.uber.org/zap"
)

type ctxKey string

const (
	keySessionID ctxKey = "session_id"
	keyUserID    ctxKey = "user_id"
	keyRequestID ctxKey = "request_id"
	keyRoute     ctxKey = "route"
)

var logger *zap.Logger

func init() {
	if os.Getenv("DEBUG") == "true" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
}

// SetLogger replaces the package logger. Tests use it with zap.NewNop.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keySessionID, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, keyRoute, route)
}

func WithCtx(ctx context.Context) *zap.Logger {
	fields := []zap.Field{}
	if ctx == nil {
		return logger
	}

	if v, ok := ctx.Value(keyRequestID).(string); ok && v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v, ok := ctx.Value(keyRoute).(string); ok && v != "" {
		fields = append(fields, zap.String("route", v))
	}
	if v, ok := ctx.Value(keySessionID).(string); ok && v != "" {
		fields = append(fields, zap.String("session_id", v))
	}
	if v, ok := ctx.Value(keyUserID).(string); ok && v != "" {
		fields = append(fields, zap.String("user_id", v))
	}

	return logger.With(fields...)
}

func With(fields ...zap.Field) *zap.Logger {
	return logger.With(fields...)
}

// Sync flushes buffered log entries. Call it before the process exits.
func Sync() {
	_ = logger.Sync()
}
