package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// handleWatch streams lease transition events for one resource. WebSocket
// when the client requests an upgrade, Server-Sent Events otherwise.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusNotFound, envelope{
			Message: "event streaming is not enabled",
		})
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		h.watchWebSocket(w, r)
		return
	}
	h.watchSSE(w, r)
}

func (h *Handler) watchSSE(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resourceName")
	ctx, cancel := context.WithCancel(r.Context())
	ch, err := h.bus.Subscribe(ctx, resource)
	if err != nil {
		cancel()
		h.writeError(w, err)
		return
	}
	defer func() {
		cancel()
		_ = h.bus.Unsubscribe(context.Background(), resource, ch)
	}()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) watchWebSocket(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resourceName")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	ctx, cancel := context.WithCancel(r.Context())
	ch, err := h.bus.Subscribe(ctx, resource)
	if err != nil {
		cancel()
		return
	}
	defer func() {
		cancel()
		_ = h.bus.Unsubscribe(context.Background(), resource, ch)
	}()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
