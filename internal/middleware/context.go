package middleware

import "context"

type contextKey string

const adminKey contextKey = "support_admin"

// WithAdmin marks the request context as carrying a valid admin token.
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey, true)
}

// IsAdmin reports whether AdminAuth or DetectAdmin accepted the request's token.
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(adminKey).(bool)
	return v
}
