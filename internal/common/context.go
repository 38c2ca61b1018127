package common

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyPatientID contextKey = "patient_id"
	ContextKeyLogger    contextKey = "logger"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithPatientID adds a patient ID to the context
func WithPatientID(ctx context.Context, patientID string) context.Context {
	return context.WithValue(ctx, ContextKeyPatientID, patientID)
}

// PatientIDFromContext extracts the patient ID from context
func PatientIDFromContext(ctx context.Context) string {
	if patientID, ok := ctx.Value(ContextKeyPatientID).(string); ok {
		return patientID
	}
	return ""
}

// WithLogger stores a request-scoped logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ContextKeyLogger, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback annotated
// with whatever request and patient IDs the context carries.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ContextKeyLogger).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		fallback = zap.L()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fallback = fallback.With(zap.String("request_id", id))
	}
	if id := PatientIDFromContext(ctx); id != "" {
		fallback = fallback.With(zap.String("patient_id", id))
	}
	return fallback
}

// WithTimeout creates a context with the specified timeout
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
