// ABOUTME: Renders the console page with the widget configuration and initial state
// ABOUTME: The browser shim takes over rendering once its WebSocket connects

package web

import (
	"net/http"

	"github.com/2389/convo-console/internal/config"
	"github.com/2389/convo-console/internal/console"
	"github.com/2389/convo-console/internal/projects"
	"github.com/2389/convo-console/internal/store"
)

type pageData struct {
	Title      string
	Widget     config.WidgetConfig
	WidgetKeys []string
	State      console.State
	Summary    projects.Summary
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	c := h.console(w, r)
	if c == nil {
		return
	}
	data := pageData{
		Title:      "Assistente de Projetos",
		Widget:     h.widget,
		WidgetKeys: store.WidgetSessionKeys,
		State:      c.State(),
		Summary:    projects.Summarize(projects.Decode(h.projects.Load(r.Context()))),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.templates.ExecuteTemplate(w, "console.html", data); err != nil {
		h.logger.Error("failed to render console page", "error", err)
	}
}
