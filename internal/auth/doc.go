// Package auth identifies browser tab sessions for convo-console.
//
// There are no user accounts. Each browser session gets an opaque session
// id carried in a signed HS256 JWT stored in a cookie without an expiry, so
// it disappears when the browser session ends. The id scopes the session
// tier of the conversation store and selects the tab's console.
//
//	tokens := auth.NewSessionTokens(secret)
//	handler := auth.SessionMiddleware(tokens, ttl, logger)(mux)
//	sessionID := auth.SessionFromContext(r.Context())
package auth
