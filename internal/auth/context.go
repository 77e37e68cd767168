// ABOUTME: Request context helpers carrying the tab session id
// ABOUTME: Populated by SessionMiddleware and read by handlers

package auth

import "context"

type sessionKey struct{}

// WithSession returns a context carrying sessionID
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id, or "" when absent
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
