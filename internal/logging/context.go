package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// NewCorrelationID generates a correlation ID for one pipeline run
func NewCorrelationID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context carrying the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, if any
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationContext attaches a fresh correlation ID and a tagged logger
// to the context. Every pipeline stage for one symbol run shares them.
func WithCorrelationContext(ctx context.Context) (context.Context, *Logger) {
	id := NewCorrelationID()
	l := Default().WithCorrelationID(id)
	newCtx := context.WithValue(ctx, correlationIDKey, id)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// DetectorContext creates a logger for a pattern detector invocation
func DetectorContext(detector, symbol, timeframe string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"detector":  detector,
		"symbol":    symbol,
		"timeframe": timeframe,
	}).WithComponent("detector")
}

// RunContext creates a logger for a background analysis run
func RunContext(runID, kind string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"run_id": runID,
		"kind":   kind,
	}).WithComponent("supervisor")
}
