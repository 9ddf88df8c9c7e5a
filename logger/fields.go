package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across nex.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldComponent = "component"
	FieldHandler   = "handler"
	FieldStage     = "stage"

	// Objects
	FieldBucket   = "bucket"
	FieldKey      = "key"
	FieldArtifact = "artifact"
	FieldFile     = "file"

	// Counters
	FieldEntity  = "entity"
	FieldDelta   = "delta"
	FieldCount   = "count"
	FieldBackend = "backend"
	FieldKind    = "kind"
	FieldAttempt = "attempt"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Status
	FieldStatus = "status"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context as key-value pairs
// suitable for Infow/Errorw.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base enriched with the fields carried by ctx.
// A nil base falls back to the global Logger.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
//	agg := counter.NewAggregator(store, logger.ComponentLogger("counter"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
