package core

import "context"

type contextKey string

const (
	ctxKeyRunID  contextKey = "run_id"
	ctxKeyTarget contextKey = "target"
)

// ContextWithRunID adds the sync run id to context for logging.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, id)
}

// ContextWithTarget adds the publish target name to context for logging.
func ContextWithTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, ctxKeyTarget, target)
}

// RunIDFromContext extracts the run id from context.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// TargetFromContext extracts the publish target name from context.
func TargetFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTarget).(string); ok {
		return v
	}
	return ""
}
