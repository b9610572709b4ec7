package services

import "context"

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	caseIDKey    contextKey = "case_id"
	componentKey contextKey = "component"
	workerKey    contextKey = "worker"
	requestIDKey contextKey = "request_id"
)

// WithUserID annotates context with the subject user identifier.
func WithUserID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the subject user identifier if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(userIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCaseID annotates context with the escalation case identifier.
func WithCaseID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, caseIDKey, id)
}

// CaseIDFromContext extracts the escalation case identifier if present.
func CaseIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(caseIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithComponent annotates context with the pipeline component name.
func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, componentKey, component)
}

// ComponentFromContext returns the pipeline component name if present.
func ComponentFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(componentKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorker annotates context with the engine shard index.
func WithWorker(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, workerKey, index)
}

// WorkerFromContext extracts the engine shard index if present.
func WorkerFromContext(ctx context.Context) (int, bool) {
	v := ctx.Value(workerKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	default:
		return 0, false
	}
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
