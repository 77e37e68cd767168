// ABOUTME: JSON API handlers for conversations, reports, project data and signals
// ABOUTME: Errors are JSON {error} bodies; storage failures are 500, collaborator failures 502

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/2389/convo-console/internal/capture"
	"github.com/2389/convo-console/internal/console"
	"github.com/2389/convo-console/internal/projects"
	"github.com/2389/convo-console/internal/report"
)

// ReportResponse carries a generated or stored report
type ReportResponse struct {
	ConversationID string `json:"conversationId"`
	Report         string `json:"report"`
	HTML           string `json:"html"`
}

// ProjectsResponse carries the project list with its headline figures
type ProjectsResponse struct {
	Projects []json.RawMessage `json:"projects"`
	Summary  projects.Summary  `json:"summary"`
}

// SignalsResponse reports how many signals of a batch were ingested
type SignalsResponse struct {
	Accepted int `json:"accepted"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	c := h.console(w, r)
	if c == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, c.State())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	c := h.console(w, r)
	if c == nil {
		return
	}
	conv, err := c.Create(r.Context())
	if err != nil {
		h.sendConsoleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	c := h.console(w, r)
	if c == nil {
		return
	}
	if err := c.Select(r.Context(), r.PathValue("id")); err != nil {
		h.sendConsoleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.State())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	c := h.console(w, r)
	if c == nil {
		return
	}
	if err := c.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.sendConsoleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c.State())
}

// handleGenerateReport asks the report collaborator for a report on the
// conversation's messages and attaches it. A failed request leaves the
// conversation unchanged.
func (h *Handler) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	c := h.console(w, r)
	if c == nil {
		return
	}
	id := r.PathValue("id")
	conv, ok := c.Conversation(id)
	if !ok {
		h.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	text, err := h.reports.Generate(r.Context(), id, conv.Messages)
	if err != nil {
		if errors.Is(err, report.ErrNotConfigured) {
			h.sendJSONError(w, http.StatusServiceUnavailable, "report generation is not configured")
			return
		}
		h.logger.Warn("report generation failed", "conversation_id", id, "error", err)
		h.sendJSONError(w, http.StatusBadGateway, "report generation failed")
		return
	}

	if err := c.SetReport(r.Context(), id, text); err != nil {
		h.sendConsoleError(w, err)
		return
	}
	h.writeReport(w, http.StatusOK, id, text)
}

// handleGetReport returns the stored report as JSON with rendered HTML, or
// as a markdown download when format=md.
func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	c := h.console(w, r)
	if c == nil {
		return
	}
	id := r.PathValue("id")
	conv, ok := c.Conversation(id)
	if !ok {
		h.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if conv.Report == "" {
		h.sendJSONError(w, http.StatusNotFound, "conversation has no report")
		return
	}

	if r.URL.Query().Get("format") == "md" {
		name := report.DownloadName(conv.Title, h.now())
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
		_, _ = io.WriteString(w, conv.Report)
		return
	}
	h.writeReport(w, http.StatusOK, id, conv.Report)
}

func (h *Handler) writeReport(w http.ResponseWriter, status int, id, text string) {
	rendered, err := report.RenderHTML(text)
	if err != nil {
		h.logger.Warn("rendering report failed", "conversation_id", id, "error", err)
	}
	h.writeJSON(w, status, ReportResponse{
		ConversationID: id,
		Report:         text,
		HTML:           string(rendered),
	})
}

func (h *Handler) handleProjects(w http.ResponseWriter, r *http.Request) {
	list := h.projects.Load(r.Context())
	h.writeJSON(w, http.StatusOK, ProjectsResponse{Projects: list, Summary: projects.Summarize(projects.Decode(list))})
}

func (h *Handler) handleImportProjects(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProjectBody))
	if err != nil {
		h.sendJSONError(w, http.StatusRequestEntityTooLarge, "project data too large")
		return
	}
	list, err := h.projects.Import(r.Context(), raw)
	switch {
	case errors.Is(err, projects.ErrNotArray):
		h.sendJSONError(w, http.StatusBadRequest, "O arquivo JSON deve conter um array de projetos")
		return
	case errors.Is(err, projects.ErrMalformed):
		h.sendJSONError(w, http.StatusBadRequest, "Erro ao carregar arquivo JSON")
		return
	case err != nil:
		h.logger.Error("importing project data failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "failed to save project data")
		return
	}
	h.writeJSON(w, http.StatusOK, ProjectsResponse{Projects: list, Summary: projects.Summarize(projects.Decode(list))})
}

// handleSignals ingests a batch of widget signals sent over plain HTTP when
// the WebSocket is unavailable. The body is a JSON array or a single signal.
func (h *Handler) handleSignals(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignalBody))
	if err != nil {
		h.sendJSONError(w, http.StatusRequestEntityTooLarge, "signal batch too large")
		return
	}
	signals, err := decodeSignals(raw)
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid signal batch")
		return
	}

	c := h.console(w, r)
	if c == nil {
		return
	}
	var persistErr error
	for _, sig := range signals {
		if err := c.Ingest(r.Context(), sig); err != nil {
			if errors.Is(err, console.ErrClosed) {
				h.sendConsoleError(w, err)
				return
			}
			persistErr = err
		}
	}
	if persistErr != nil {
		h.sendConsoleError(w, persistErr)
		return
	}
	h.writeJSON(w, http.StatusAccepted, SignalsResponse{Accepted: len(signals)})
}

func decodeSignals(raw []byte) ([]capture.Signal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var sig capture.Signal
		if err := json.Unmarshal(trimmed, &sig); err != nil {
			return nil, err
		}
		return []capture.Signal{sig}, nil
	}
	var signals []capture.Signal
	if err := json.Unmarshal(trimmed, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}
