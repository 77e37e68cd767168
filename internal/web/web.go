// ABOUTME: HTTP surface of the console: page, JSON API and the signal WebSocket
// ABOUTME: Resolves the tab session from the request and routes to its Console

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/convo-console/internal/auth"
	"github.com/2389/convo-console/internal/config"
	"github.com/2389/convo-console/internal/console"
	"github.com/2389/convo-console/internal/projects"
	"github.com/2389/convo-console/internal/report"
)

// Request body limits
const (
	maxSignalBody  = 1 << 20
	maxProjectBody = 8 << 20
)

// Config wires the handler to its collaborators
type Config struct {
	Hub      *console.Hub
	Projects *projects.Store
	Reports  *report.Client
	Widget   config.WidgetConfig
	Logger   *slog.Logger
}

// Handler serves the console page and API for every tab session
type Handler struct {
	hub       *console.Hub
	projects  *projects.Store
	reports   *report.Client
	widget    config.WidgetConfig
	logger    *slog.Logger
	templates *template.Template
	upgrader  websocket.Upgrader
	now       func() time.Time
}

// New parses the embedded templates and returns a ready handler
func New(cfg Config) (*Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Handler{
		hub:       cfg.Hub,
		projects:  cfg.Projects,
		reports:   cfg.Reports,
		widget:    cfg.Widget,
		logger:    logger.With("component", "web"),
		templates: tmpl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		now: time.Now,
	}, nil
}

// RegisterRoutes registers all console routes on the given mux. Every route
// except the static shim expects a session set by auth.SessionMiddleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handlePage)
	mux.Handle("GET /static/", staticHandler())

	mux.HandleFunc("GET /api/state", h.handleState)
	mux.HandleFunc("POST /api/conversations", h.handleCreate)
	mux.HandleFunc("POST /api/conversations/{id}/select", h.handleSelect)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.handleDelete)
	mux.HandleFunc("POST /api/conversations/{id}/report", h.handleGenerateReport)
	mux.HandleFunc("GET /api/conversations/{id}/report", h.handleGetReport)

	mux.HandleFunc("GET /api/projects", h.handleProjects)
	mux.HandleFunc("POST /api/projects", h.handleImportProjects)

	mux.HandleFunc("POST /api/signals", h.handleSignals)
	mux.HandleFunc("GET /api/signals/ws", h.handleSignalSocket)

	h.logger.Info("console routes registered")
}

// console resolves the Console of the requesting tab session. It writes the
// error response itself and returns nil when none is available.
func (h *Handler) console(w http.ResponseWriter, r *http.Request) *console.Console {
	sessionID := auth.SessionFromContext(r.Context())
	if sessionID == "" {
		h.sendJSONError(w, http.StatusUnauthorized, "no session")
		return nil
	}
	c, err := h.hub.Get(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("console unavailable", "session_id", sessionID, "error", err)
		h.sendJSONError(w, http.StatusServiceUnavailable, "console unavailable")
		return nil
	}
	return c
}

// writeJSON writes v with the given status
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// sendConsoleError maps a Console operation error to a response
func (h *Handler) sendConsoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, console.ErrUnknownConversation):
		h.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, console.ErrClosed):
		h.sendJSONError(w, http.StatusServiceUnavailable, "console closed")
	default:
		h.logger.Error("console operation failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "failed to save conversations")
	}
}
