package agent

import "context"

type contextKey string

const connectionIDKey contextKey = "connection_id"

// WithConnectionID returns a context carrying the connection id tools resolve
// when their arguments omit it.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// ConnectionIDFromContext returns the connection id set by WithConnectionID,
// or empty when absent.
func ConnectionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(connectionIDKey).(string); ok {
		return v
	}
	return ""
}
