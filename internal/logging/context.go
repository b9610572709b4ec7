package logging

import (
	"context"
	"log/slog"

	"vigil/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldUserID is the standardized structured logging key for subject user identifiers.
	FieldUserID = "user_id"
	// FieldCaseID is the standardized structured logging key for escalation case identifiers.
	FieldCaseID = "case_id"
	// FieldTier is the standardized structured logging key for escalation tier names.
	FieldTier = "tier"
	// FieldSource is the standardized structured logging key for signal source names.
	FieldSource = "source"
	// FieldSignalID is the standardized structured logging key for signal identifiers.
	FieldSignalID = "signal_id"
	// FieldAttemptID is the standardized structured logging key for intervention attempt identifiers.
	FieldAttemptID = "attempt_id"
	// FieldChannel is the standardized structured logging key for delivery channel names.
	FieldChannel = "channel"
	// FieldScore is the standardized structured logging key for composite risk scores.
	FieldScore = "score"
	// FieldWorker is the standardized structured logging key for engine shard indexes.
	FieldWorker = "worker"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator next steps.
	FieldErrorHint = "error_hint"
	// FieldErrorCode is the standardized structured logging key for stable error identifiers.
	FieldErrorCode = "error_code"
	// FieldDecisionType is the standardized structured logging key for decision categories.
	FieldDecisionType = "decision_type"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.UserIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldUserID, id))
	}
	if id, ok := services.CaseIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCaseID, id))
	}
	if worker, ok := services.WorkerFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldWorker, worker))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
