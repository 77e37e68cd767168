// ABOUTME: Bidirectional signal WebSocket between the browser shim and a Console
// ABOUTME: Inbound messages are widget signals; outbound messages are console frames

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/convo-console/internal/auth"
	"github.com/2389/convo-console/internal/capture"
	"github.com/2389/convo-console/internal/console"
)

const (
	wsReadLimit    = maxSignalBody
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 5 * time.Second
)

// handleSignalSocket upgrades to a WebSocket. The first outbound frame is
// the current state; later frames follow every change to the session.
func (h *Handler) handleSignalSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := auth.SessionFromContext(r.Context())
	if sessionID == "" {
		h.sendJSONError(w, http.StatusUnauthorized, "no session")
		return
	}
	c, err := h.hub.Get(r.Context(), sessionID)
	if err != nil {
		h.sendJSONError(w, http.StatusServiceUnavailable, "console unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the snapshot so no change falls between them
	frames := h.hub.Subscribe(ctx, sessionID)
	logger := h.logger.With("session_id", sessionID)
	logger.Debug("signal socket connected")

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}

	st := c.State()
	if err := write(console.Frame{Type: console.FrameState, State: &st}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readSignals(ctx, conn, sessionID, write)
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			logger.Debug("signal socket closed")
			return
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := write(f); err != nil {
				return
			}
		}
	}
}

// readSignals feeds inbound signals to the session's Console until the
// connection fails. The Console is looked up per message so a session
// evicted while idle is reloaded transparently.
func (h *Handler) readSignals(ctx context.Context, conn *websocket.Conn, sessionID string, write func(any) error) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var sig capture.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			h.logger.Debug("dropping malformed signal", "session_id", sessionID, "error", err)
			continue
		}
		c, err := h.hub.Get(ctx, sessionID)
		if err != nil {
			return
		}
		if err := c.Ingest(ctx, sig); err != nil {
			if errors.Is(err, console.ErrClosed) {
				continue
			}
			h.logger.Error("recording captured turn failed", "session_id", sessionID, "error", err)
			_ = write(map[string]string{"type": "error", "error": "failed to save conversations"})
		}
	}
}
