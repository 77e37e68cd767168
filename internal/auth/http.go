// ABOUTME: HTTP middleware establishing a tab session from a signed cookie
// ABOUTME: The browser session is narrowed to one tab by the tab id the page sends

package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieName is the session cookie set on every browser
const CookieName = "convo_session"

// The page identifies its tab with this header, or with the query parameter
// where it cannot set headers (WebSocket handshakes, download links).
const (
	TabHeader = "X-Convo-Tab"
	TabQuery  = "tab"
)

// DefaultTokenTTL is how long a session token stays valid
const DefaultTokenTTL = 24 * time.Hour

// SessionMiddleware resolves the tab session of each request. The cookie has
// no expiry so the browser discards it when the session ends; it is shared by
// every tab of that browser, so a request carrying a tab id is scoped to
// "<browser session>/<tab id>".
func SessionMiddleware(tokens *SessionTokens, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(CookieName); err == nil {
				sessionID, err := tokens.Verify(c.Value)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), tabSession(sessionID, r))))
					return
				}
				logger.Debug("discarding session cookie", "error", err)
			}

			sessionID := uuid.NewString()
			token, err := tokens.Generate(sessionID, ttl)
			if err != nil {
				logger.Error("signing session token failed", "error", err)
				http.Error(w, `{"error":"session unavailable"}`, http.StatusInternalServerError)
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    token,
				Path:     "/",
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
			logger.Debug("session started", "session_id", sessionID)
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), tabSession(sessionID, r))))
		})
	}
}

// tabSession narrows a browser session to the tab named by the request.
// Tab ids are UUIDs; anything else is ignored.
func tabSession(sessionID string, r *http.Request) string {
	tab := r.Header.Get(TabHeader)
	if tab == "" {
		tab = r.URL.Query().Get(TabQuery)
	}
	if tab == "" {
		return sessionID
	}
	id, err := uuid.Parse(tab)
	if err != nil {
		return sessionID
	}
	return sessionID + "/" + id.String()
}
